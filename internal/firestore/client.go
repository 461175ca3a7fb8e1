package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/store"
)

const (
	transactionsCollection = "stmt-transactions"
	importLogsCollection   = "stmt-import-logs"

	// getAllBatch bounds the document references sent in one GetAll call
	getAllBatch = 300
)

// Client wraps Firestore and Firebase Auth for the importer.
// It implements store.Store.
type Client struct {
	Firestore *firestore.Client
	Auth      *auth.Client
	projectID string
}

var _ store.Store = (*Client)(nil)

// NewClient creates a new Firestore client. Without options Application
// Default Credentials are used.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*Client, error) {
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}

	return &Client{
		Firestore: firestoreClient,
		Auth:      authClient,
		projectID: projectID,
	}, nil
}

// Close closes the Firestore client
func (c *Client) Close() error {
	return c.Firestore.Close()
}

// Transaction is the Firestore document of a persisted row.
// The document id is the transaction hash.
type Transaction struct {
	ID          string    `firestore:"id"`
	AccountID   string    `firestore:"accountId"`
	Date        string    `firestore:"date"`
	Description string    `firestore:"description"`
	Amount      string    `firestore:"amount"`
	Direction   string    `firestore:"direction"`
	Category    string    `firestore:"category"`
	Hash        string    `firestore:"hash"`
	Source      string    `firestore:"source"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

// Validate checks if the Transaction has valid data
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	if t.AccountID == "" {
		return fmt.Errorf("account ID is required")
	}
	if t.Hash == "" {
		return fmt.Errorf("transaction hash is required")
	}
	if _, err := time.Parse("2006-01-02", t.Date); err != nil {
		return fmt.Errorf("invalid date format (expected YYYY-MM-DD): %w", err)
	}
	if _, err := decimal.NewFromString(t.Amount); err != nil {
		return fmt.Errorf("invalid amount %q: %w", t.Amount, err)
	}
	return nil
}

func transactionDoc(txn *domain.Transaction) *Transaction {
	return &Transaction{
		ID:          txn.ID,
		AccountID:   txn.AccountID,
		Date:        txn.Date,
		Description: txn.Description,
		Amount:      txn.Amount.StringFixed(2),
		Direction:   string(txn.Direction),
		Category:    string(txn.Category),
		Hash:        txn.Hash,
		Source:      txn.Source,
		CreatedAt:   txn.CreatedAt,
	}
}

// ImportLog is the Firestore document of an import log
type ImportLog struct {
	ID             string    `firestore:"id"`
	AccountID      string    `firestore:"accountId"`
	FileName       string    `firestore:"fileName"`
	FileType       string    `firestore:"fileType"`
	Status         string    `firestore:"status"`
	TotalRecords   int       `firestore:"totalRecords"`
	ImportedCount  int       `firestore:"importedCount"`
	DuplicateCount int       `firestore:"duplicateCount"`
	ErrorCount     int       `firestore:"errorCount"`
	TotalValue     string    `firestore:"totalValue"`
	Errors         []string  `firestore:"errors"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func importLogDoc(l *domain.ImportLog) *ImportLog {
	errs := l.Errors
	if errs == nil {
		errs = []string{}
	}
	return &ImportLog{
		ID:             l.ID,
		AccountID:      l.AccountID,
		FileName:       l.FileName,
		FileType:       string(l.FileType),
		Status:         string(l.Status),
		TotalRecords:   l.TotalRecords,
		ImportedCount:  l.ImportedCount,
		DuplicateCount: l.DuplicateCount,
		ErrorCount:     l.ErrorCount,
		TotalValue:     l.TotalValue.StringFixed(2),
		Errors:         errs,
		CreatedAt:      l.CreatedAt,
	}
}

func (d *ImportLog) toDomain() (*domain.ImportLog, error) {
	total, err := decimal.NewFromString(d.TotalValue)
	if err != nil {
		return nil, fmt.Errorf("import log %s has invalid total value: %w", d.ID, err)
	}
	l := &domain.ImportLog{
		ID:             d.ID,
		AccountID:      d.AccountID,
		FileName:       d.FileName,
		FileType:       domain.FileType(d.FileType),
		Status:         domain.ImportStatus(d.Status),
		TotalRecords:   d.TotalRecords,
		ImportedCount:  d.ImportedCount,
		DuplicateCount: d.DuplicateCount,
		ErrorCount:     d.ErrorCount,
		TotalValue:     total,
		CreatedAt:      d.CreatedAt,
	}
	if len(d.Errors) > 0 {
		l.Errors = append([]string(nil), d.Errors...)
	}
	return l, nil
}

// InsertTransaction creates the row document keyed by hash. An existing
// document yields store.ErrDuplicateHash.
func (c *Client) InsertTransaction(ctx context.Context, txn *domain.Transaction) (string, error) {
	doc := transactionDoc(txn)
	if err := doc.Validate(); err != nil {
		return "", fmt.Errorf("invalid transaction: %w", err)
	}
	_, err := c.Firestore.Collection(transactionsCollection).Doc(txn.Hash).Create(ctx, doc)
	if err != nil {
		if isAlreadyExists(err) {
			return "", store.ErrDuplicateHash
		}
		return "", fmt.Errorf("failed to create transaction %s: %w", txn.Hash, err)
	}
	return doc.ID, nil
}

// ExistingHashes looks the hashes up as document ids with batched GetAll reads
func (c *Client) ExistingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	refs := hashRefs(c.Firestore.Collection(transactionsCollection), hashes)

	for start := 0; start < len(refs); start += getAllBatch {
		end := start + getAllBatch
		if end > len(refs) {
			end = len(refs)
		}
		snaps, err := c.Firestore.GetAll(ctx, refs[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to look up transaction hashes: %w", err)
		}
		for _, snap := range snaps {
			if snap.Exists() {
				found[snap.Ref.ID] = struct{}{}
			}
		}
	}
	return found, nil
}

// InsertImportLog stores the log under a fresh id when it has none
func (c *Client) InsertImportLog(ctx context.Context, l *domain.ImportLog) (*domain.ImportLog, error) {
	stored := *l
	col := c.Firestore.Collection(importLogsCollection)

	var ref *firestore.DocumentRef
	if stored.ID == "" {
		ref = col.NewDoc()
		stored.ID = ref.ID
	} else {
		ref = col.Doc(stored.ID)
	}

	if _, err := ref.Create(ctx, importLogDoc(&stored)); err != nil {
		return nil, fmt.Errorf("failed to create import log: %w", err)
	}
	return &stored, nil
}

// ListImportLogs retrieves the logs of an account, newest first
func (c *Client) ListImportLogs(ctx context.Context, accountID string) ([]*domain.ImportLog, error) {
	iter := c.Firestore.Collection(importLogsCollection).
		Where("accountId", "==", accountID).
		OrderBy("createdAt", firestore.Desc).
		Limit(100).
		Documents(ctx)
	defer iter.Stop()

	logs := make([]*domain.ImportLog, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate import logs for account %s: %w", accountID, err)
		}

		var d ImportLog
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to parse import log: %w", err)
		}
		l, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}

	return logs, nil
}

// hashRefs builds one document reference per distinct non-empty hash
func hashRefs(col *firestore.CollectionRef, hashes []string) []*firestore.DocumentRef {
	seen := make(map[string]bool, len(hashes))
	refs := make([]*firestore.DocumentRef, 0, len(hashes))
	for _, h := range hashes {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		refs = append(refs, col.Doc(h))
	}
	return refs
}

func isAlreadyExists(err error) bool {
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		return se.GRPCStatus().Code() == codes.AlreadyExists
	}
	return status.Code(err) == codes.AlreadyExists
}

// NewAuthClient creates a Firebase Auth client for token verification
// without opening Firestore.
func NewAuthClient(ctx context.Context, projectID, credentialsFile string) (*auth.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}
	return authClient, nil
}
