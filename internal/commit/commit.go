// Package commit persists reviewed import batches row by row and records
// one import log per run.
package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/store"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/validate"
)

// Options configures the per-row retry policy
type Options struct {
	MaxAttempts int           // Insert attempts per row (default 1, no retry)
	Backoff     time.Duration // Wait between attempts, doubled each time
}

// DefaultOptions returns the default commit options
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 1,
		Backoff:     200 * time.Millisecond,
	}
}

// Validate validates the options
func (o Options) Validate() error {
	if o.MaxAttempts < 1 {
		return fmt.Errorf("MaxAttempts must be >= 1, got %d", o.MaxAttempts)
	}
	if o.Backoff < 0 {
		return fmt.Errorf("Backoff must be >= 0, got %v", o.Backoff)
	}
	return nil
}

// Request is one reviewed batch to persist
type Request struct {
	AccountID    string
	FileName     string
	FileType     domain.FileType
	Transactions []domain.ImportedTransaction

	// Skipped rows were dropped by the parser; they count as errors
	Skipped     int
	SkipReasons []string
}

// Progress is reported after every attempted row
type Progress struct {
	Processed int
	Total     int
	Hash      string
	Err       *domain.RowCommitError // nil when the row was persisted
}

// ProgressFunc receives per-row progress
type ProgressFunc func(Progress)

// Service commits staged transactions to a store
type Service struct {
	store store.Store
	opts  Options
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option is a functional option for configuring a Service
type Option func(*Service)

// WithOptions sets the retry policy
func WithOptions(opts Options) Option {
	return func(s *Service) {
		s.opts = opts
	}
}

// WithClock overrides the time source used for row and log timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a commit service
func NewService(st store.Store, opts ...Option) (*Service, error) {
	s := &Service{
		store: st,
		opts:  DefaultOptions(),
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid commit options: %w", err)
	}
	return s, nil
}

// Commit persists the non-duplicate rows of staged and returns the import log.
func (s *Service) Commit(ctx context.Context, staged []domain.ImportedTransaction, accountID, fileName string, fileType domain.FileType) (*domain.ImportLog, error) {
	return s.CommitWithProgress(ctx, Request{
		AccountID:    accountID,
		FileName:     fileName,
		FileType:     fileType,
		Transactions: staged,
	}, nil)
}

// CommitWithProgress persists req and reports every attempted row to progress.
//
// Rows are inserted sequentially and independently. A failing row is counted
// in the log and never aborts the batch. When ctx is cancelled the remaining
// rows are counted as errors; rows already written stay written. The log is
// always returned once rows were attempted; if it could not be persisted the
// error is a *domain.LogPersistenceError.
func (s *Service) CommitWithProgress(ctx context.Context, req Request, progress ProgressFunc) (*domain.ImportLog, error) {
	if req.AccountID == "" {
		return nil, &domain.ValidationError{Reason: "account is required before commit"}
	}
	log := logger.FromContext(ctx).With().
		Str("account_id", req.AccountID).
		Str("file", req.FileName).
		Logger()

	importLog := &domain.ImportLog{
		AccountID:    req.AccountID,
		FileName:     req.FileName,
		FileType:     req.FileType,
		TotalRecords: len(req.Transactions) + req.Skipped,
		TotalValue:   decimal.Zero,
	}
	recordSkipped(importLog, req.Skipped, req.SkipReasons)

	pending := make([]int, 0, len(req.Transactions))
	for i, txn := range req.Transactions {
		if txn.IsDuplicate {
			importLog.DuplicateCount++
			continue
		}
		pending = append(pending, i)
	}

	pendingTxns := make([]domain.ImportedTransaction, len(pending))
	for j, i := range pending {
		pendingTxns[j] = req.Transactions[i]
	}
	invalid := validate.ValidateStaged(pendingTxns).RowErrors()

	total := len(pending)
	for j, i := range pending {
		txn := req.Transactions[i]
		row := i + 1

		var rowErr *domain.RowCommitError
		duplicate := false

		switch {
		case ctx.Err() != nil:
			rowErr = &domain.RowCommitError{Row: row, Hash: txn.Hash, Reason: "cancelled", Err: ctx.Err()}
		case len(invalid[j+1]) > 0:
			rowErr = &domain.RowCommitError{Row: row, Hash: txn.Hash, Reason: invalid[j+1][0].Message}
		default:
			err := s.insert(ctx, req.AccountID, txn)
			switch {
			case errors.Is(err, store.ErrDuplicateHash):
				// persisted since the duplicate check ran
				duplicate = true
			case err != nil:
				rowErr = &domain.RowCommitError{Row: row, Hash: txn.Hash, Reason: "insert failed", Err: err}
			}
		}

		switch {
		case duplicate:
			importLog.DuplicateCount++
			log.Debug().Str("hash", txn.Hash).Int("row", row).Msg("row already persisted, counted as duplicate")
		case rowErr != nil:
			importLog.ErrorCount++
			importLog.Errors = append(importLog.Errors, rowErr.Error())
			log.Warn().Str("hash", txn.Hash).Int("row", row).Str("reason", rowErr.Reason).Err(rowErr.Err).Msg("row commit failed")
		default:
			importLog.ImportedCount++
			importLog.TotalValue = importLog.TotalValue.Add(txn.Amount)
		}

		if progress != nil {
			progress(Progress{Processed: j + 1, Total: total, Hash: txn.Hash, Err: rowErr})
		}
	}

	importLog.Status = domain.DeriveStatus(importLog.ImportedCount, importLog.ErrorCount)
	importLog.CreatedAt = s.now()

	log.Info().
		Str("status", string(importLog.Status)).
		Int("total", importLog.TotalRecords).
		Int("imported", importLog.ImportedCount).
		Int("duplicates", importLog.DuplicateCount).
		Int("errors", importLog.ErrorCount).
		Msg("import committed")

	// the log is written even when the caller gave up on the batch
	saved, err := s.store.InsertImportLog(context.WithoutCancel(ctx), importLog)
	if err != nil {
		log.Error().Err(err).Msg("failed to persist import log")
		return importLog, &domain.LogPersistenceError{Err: err}
	}
	return saved, nil
}

// recordSkipped counts rows the parser could not read as row errors. Reasons
// are capped by the parser, the rest are summarised in one line.
func recordSkipped(importLog *domain.ImportLog, skipped int, reasons []string) {
	if skipped <= 0 {
		return
	}
	importLog.ErrorCount += skipped
	for _, reason := range reasons {
		importLog.Errors = append(importLog.Errors, "skipped "+reason)
	}
	if more := skipped - len(reasons); more > 0 {
		importLog.Errors = append(importLog.Errors, fmt.Sprintf("skipped %d more unreadable rows", more))
	}
}

// insert writes one row, retrying per the configured policy
func (s *Service) insert(ctx context.Context, accountID string, staged domain.ImportedTransaction) error {
	txn, err := domain.NewTransaction(uuid.NewString(), accountID, staged, s.now())
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	backoff := s.opts.Backoff
	for attempt := 1; ; attempt++ {
		_, err = s.store.InsertTransaction(ctx, txn)
		if err == nil || errors.Is(err, store.ErrDuplicateHash) || attempt >= s.opts.MaxAttempts {
			return err
		}
		log.Debug().Err(err).Int("attempt", attempt).Str("hash", txn.Hash).Msg("retrying row insert")
		if serr := s.sleep(ctx, backoff); serr != nil {
			return err
		}
		backoff *= 2
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
