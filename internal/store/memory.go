package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
)

// Memory is an in-process Store for tests and the dev server.
type Memory struct {
	mu           sync.RWMutex
	transactions map[string]*domain.Transaction // keyed by hash
	logs         []*domain.ImportLog
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{transactions: make(map[string]*domain.Transaction)}
}

// InsertTransaction implements Store
func (m *Memory) InsertTransaction(ctx context.Context, txn *domain.Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[txn.Hash]; exists {
		return "", ErrDuplicateHash
	}
	stored := *txn
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	m.transactions[txn.Hash] = &stored
	return stored.ID, nil
}

// ExistingHashes implements Store
func (m *Memory) ExistingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := make(map[string]struct{})
	for _, h := range uniqueHashes(hashes) {
		if _, ok := m.transactions[h]; ok {
			found[h] = struct{}{}
		}
	}
	return found, nil
}

// InsertImportLog implements Store
func (m *Memory) InsertImportLog(ctx context.Context, log *domain.ImportLog) (*domain.ImportLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *log
	stored.Errors = append([]string(nil), log.Errors...)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	m.logs = append(m.logs, &stored)

	out := stored
	return &out, nil
}

// ListImportLogs implements Store
func (m *Memory) ListImportLogs(ctx context.Context, accountID string) ([]*domain.ImportLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.ImportLog, 0)
	for _, l := range m.logs {
		if l.AccountID == accountID {
			c := *l
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CountTransactions returns how many rows an account has
func (m *Memory) CountTransactions(ctx context.Context, accountID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.transactions {
		if t.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

// Transactions returns a snapshot of persisted rows, ordered by date then hash
func (m *Memory) Transactions() []domain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(m.transactions))
	for _, t := range m.transactions {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}
