// Package store defines the persistence boundary of the importer and its
// local implementations.
package store

import (
	"context"
	"errors"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
)

// ErrDuplicateHash is returned by InsertTransaction when a row with the
// same hash is already persisted.
var ErrDuplicateHash = errors.New("transaction hash already exists")

// Store is the persistence collaborator used by deduplication and commit.
type Store interface {
	// InsertTransaction persists one row and returns its id.
	InsertTransaction(ctx context.Context, txn *domain.Transaction) (string, error)

	// ExistingHashes returns the subset of hashes that are already persisted.
	ExistingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error)

	// InsertImportLog persists a log, assigning an id when empty.
	InsertImportLog(ctx context.Context, log *domain.ImportLog) (*domain.ImportLog, error)

	// ListImportLogs returns the logs of an account, newest first.
	ListImportLogs(ctx context.Context, accountID string) ([]*domain.ImportLog, error)
}

// Counter is implemented by stores that can count the rows of an account.
type Counter interface {
	CountTransactions(ctx context.Context, accountID string) (int, error)
}

// uniqueHashes drops empty and repeated hashes, keeping first-seen order
func uniqueHashes(hashes []string) []string {
	seen := make(map[string]bool, len(hashes))
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
