// Package dedup flags staged transactions whose hash is already persisted
// or repeated earlier in the same batch.
package dedup

import (
	"context"
	"fmt"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
)

// HashLookup is the slice of the store this service needs.
type HashLookup interface {
	ExistingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error)
}

// Stats summarizes one duplicate check.
type Stats struct {
	Total int `json:"total"`
	// Persisted counts rows whose hash already exists in the store.
	Persisted int `json:"persisted"`
	// InBatch counts second and later occurrences of a hash within the batch.
	InBatch int `json:"inBatch"`
}

// Duplicates returns the number of rows flagged
func (s Stats) Duplicates() int {
	return s.Persisted + s.InBatch
}

// New returns the number of rows that would be committed
func (s Stats) New() int {
	return s.Total - s.Duplicates()
}

// Service checks staged rows against persisted hashes.
type Service struct {
	lookup HashLookup
}

// NewService creates a duplicate checker over lookup
func NewService(lookup HashLookup) *Service {
	return &Service{lookup: lookup}
}

// CheckDuplicates returns a copy of staged with IsDuplicate set. Rows are
// never removed or reordered. The store is queried once for the whole batch.
func (s *Service) CheckDuplicates(ctx context.Context, staged []domain.ImportedTransaction) ([]domain.ImportedTransaction, Stats, error) {
	out := make([]domain.ImportedTransaction, len(staged))
	copy(out, staged)
	stats := Stats{Total: len(out)}

	if len(out) == 0 {
		return out, stats, nil
	}

	hashes := make([]string, len(out))
	for i, txn := range out {
		hashes[i] = txn.Hash
	}

	existing, err := s.lookup.ExistingHashes(ctx, hashes)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to look up existing hashes: %w", err)
	}

	seen := make(map[string]bool, len(out))
	for i := range out {
		h := out[i].Hash
		out[i].IsDuplicate = false
		switch {
		case isPersisted(existing, h):
			out[i].IsDuplicate = true
			stats.Persisted++
		case seen[h]:
			out[i].IsDuplicate = true
			stats.InBatch++
		}
		seen[h] = true
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Int("total", stats.Total).
		Int("persisted", stats.Persisted).
		Int("in_batch", stats.InBatch).
		Msg("duplicate check complete")

	return out, stats, nil
}

func isPersisted(existing map[string]struct{}, hash string) bool {
	_, ok := existing[hash]
	return ok
}
