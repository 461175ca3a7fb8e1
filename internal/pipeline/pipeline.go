// Package pipeline stages statement files for review and commits them.
//
// Stage runs size check, format detection, parsing, enrichment and the
// duplicate check, failing closed before anything is retained. The staged
// session is then reviewed and either committed or discarded.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/commit"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/registry"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/store"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/transform"
)

// sniffLen is how much of the file is inspected for content-based detection
const sniffLen = 512

// Classifier suggests and validates categories
type Classifier interface {
	transform.Classifier
	CategorySet
}

// Archiver keeps a copy of the original statement file
type Archiver interface {
	Archive(ctx context.Context, accountID, fileName string, body []byte) (string, error)
}

// Upload is one statement file handed to Stage
type Upload struct {
	Name      string
	Size      int64 // declared size; negative when unknown
	Body      io.Reader
	AccountID string
	UserID    string
	// Mapping overrides header detection for tabular formats
	Mapping *parser.ColumnMapping
}

// Pipeline orchestrates staging and committing statement imports
type Pipeline struct {
	registry   *registry.Registry
	classifier Classifier
	dedup      *dedup.Service
	committer  *commit.Service
	archiver   Archiver
	maxSize    int64
	now        func() time.Time
}

// PipelineOption is a functional option for configuring a Pipeline
type PipelineOption func(*Pipeline)

// WithArchiver archives every staged file
func WithArchiver(a Archiver) PipelineOption {
	return func(p *Pipeline) {
		p.archiver = a
	}
}

// WithMaxFileSize lowers the accepted file size. Values above
// registry.MaxFileSize are clamped.
func WithMaxFileSize(limit int64) PipelineOption {
	return func(p *Pipeline) {
		p.maxSize = limit
	}
}

// WithRegistry replaces the parser registry
func WithRegistry(r *registry.Registry) PipelineOption {
	return func(p *Pipeline) {
		p.registry = r
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline creates a new import pipeline over st
func NewPipeline(classifier Classifier, st store.Store, committer *commit.Service, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry:   registry.New(),
		classifier: classifier,
		dedup:      dedup.NewService(st),
		committer:  committer,
		maxSize:    registry.MaxFileSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxSize <= 0 || p.maxSize > registry.MaxFileSize {
		p.maxSize = registry.MaxFileSize
	}
	return p
}

// MaxFileSize returns the effective upload limit
func (p *Pipeline) MaxFileSize() int64 {
	return p.maxSize
}

// Stage runs a file through the pipeline up to the review boundary.
//
// Errors before parsing completes are *domain.ValidationError or
// *domain.ParseError; a file without transactions returns
// domain.ErrNoRecords. No session is returned on error.
func (p *Pipeline) Stage(ctx context.Context, up Upload) (*Session, error) {
	if up.AccountID == "" {
		return nil, &domain.ValidationError{Reason: "account is required"}
	}
	if up.Name == "" {
		return nil, &domain.ValidationError{Reason: "file name is required"}
	}

	sess := newSession(uuid.NewString(), up.UserID, up.AccountID, up.Name, p.classifier, p.now)
	log := logger.FromContext(ctx).With().
		Str("session_id", sess.id).
		Str("account_id", up.AccountID).
		Str("file", up.Name).
		Logger()
	ctx = logger.WithContext(ctx, log)

	// size gate: declared size first, then the bytes actually read
	if up.Size >= 0 {
		if err := registry.CheckSize(up.Size, p.maxSize); err != nil {
			return nil, err
		}
	}
	body, err := io.ReadAll(io.LimitReader(up.Body, p.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := registry.CheckSize(int64(len(body)), p.maxSize); err != nil {
		return nil, err
	}
	if err := sess.advance(StateSizeChecked, p.now()); err != nil {
		return nil, err
	}

	header := body
	if len(header) > sniffLen {
		header = header[:sniffLen]
	}
	fileType, err := registry.DetectFormatWithContent(up.Name, header)
	if err != nil {
		return nil, err
	}
	prs, err := p.registry.ParserFor(fileType)
	if err != nil {
		return nil, err
	}
	sess.fileType = fileType
	if err := sess.advance(StateFormatDetected, p.now()); err != nil {
		return nil, err
	}
	log.Debug().Str("format", string(fileType)).Int("bytes", len(body)).Msg("format detected")

	meta, err := parser.NewMetadata(up.Name, up.AccountID, p.now())
	if err != nil {
		return nil, &domain.ValidationError{Reason: err.Error()}
	}
	meta.SetMapping(up.Mapping)

	result, err := prs.Parse(ctx, bytes.NewReader(body), meta)
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("%s: %w", up.Name, domain.ErrNoRecords)
	}
	sess.skipped = result.Skipped
	sess.skipReasons = result.SkipReasons
	if err := sess.advance(StateParsed, p.now()); err != nil {
		return nil, err
	}
	log.Debug().Int("records", len(result.Records)).Int("skipped", result.Skipped).Msg("file parsed")

	staged := transform.Enrich(result.Records, up.AccountID, p.classifier)
	if err := sess.advance(StateEnriched, p.now()); err != nil {
		return nil, err
	}

	flagged, stats, err := p.dedup.CheckDuplicates(ctx, staged)
	if err != nil {
		return nil, err
	}
	sess.setStaged(flagged)
	sess.stats = stats
	if err := sess.advance(StateDuplicatesFlagged, p.now()); err != nil {
		return nil, err
	}

	if p.archiver != nil {
		path, err := p.archiver.Archive(ctx, up.AccountID, up.Name, body)
		if err != nil {
			log.Warn().Err(err).Msg("failed to archive statement file")
		} else {
			sess.archivePath = path
		}
	}

	log.Info().
		Int("staged", len(flagged)).
		Int("duplicates", stats.Duplicates()).
		Msg("import staged for review")
	return sess, nil
}

// Commit persists the reviewed session. The session is committed once
// rows have been attempted, even when the log could not be persisted; in
// that case the returned error is a *domain.LogPersistenceError.
func (p *Pipeline) Commit(ctx context.Context, sess *Session, progress commit.ProgressFunc) (*domain.ImportLog, error) {
	sess.mu.Lock()
	if !CanCommit(sess.state) {
		state := sess.state
		sess.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot commit in state %s", domain.ErrInvalidTransition, state)
	}
	req := commit.Request{
		AccountID:    sess.accountID,
		FileName:     sess.fileName,
		FileType:     sess.fileType,
		Transactions: append([]domain.ImportedTransaction(nil), sess.staged...),
		Skipped:      sess.skipped,
		SkipReasons:  append([]string(nil), sess.skipReasons...),
	}
	// block further edits while rows are written
	sess.state = StateCommitted
	sess.mu.Unlock()

	importLog, err := p.committer.CommitWithProgress(ctx, req, progress)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	var lpe *domain.LogPersistenceError
	if err != nil && !errors.As(err, &lpe) {
		// nothing was attempted; the session can be committed again
		sess.state = StateReviewed
		return nil, err
	}
	sess.log = importLog
	sess.updatedAt = p.now()
	return importLog, err
}
