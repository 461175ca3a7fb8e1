package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
)

// maxQueryParams keeps IN lists under SQLite's host parameter limit.
const maxQueryParams = 500

// SQLite is a Store backed by a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			date TEXT NOT NULL,
			description TEXT NOT NULL,
			amount TEXT NOT NULL,
			direction TEXT NOT NULL,
			category TEXT NOT NULL,
			hash TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, date)`,
		`CREATE TABLE IF NOT EXISTS import_logs (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_type TEXT NOT NULL,
			status TEXT NOT NULL,
			total_records INTEGER NOT NULL,
			imported_count INTEGER NOT NULL,
			duplicate_count INTEGER NOT NULL,
			error_count INTEGER NOT NULL,
			total_value TEXT NOT NULL,
			errors TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_import_logs_account ON import_logs(account_id, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// InsertTransaction implements Store
func (s *SQLite) InsertTransaction(ctx context.Context, txn *domain.Transaction) (string, error) {
	id := txn.ID
	if id == "" {
		id = uuid.NewString()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, date, description, amount, direction, category, hash, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, id, txn.AccountID, txn.Date, txn.Description, txn.Amount.String(), string(txn.Direction),
		string(txn.Category), txn.Hash, txn.Source, txn.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to insert transaction %s: %w", txn.Hash, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to read insert result: %w", err)
	}
	if n == 0 {
		return "", ErrDuplicateHash
	}
	return id, nil
}

// ExistingHashes implements Store. Batches above maxQueryParams are split
// into several IN queries.
func (s *SQLite) ExistingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	unique := uniqueHashes(hashes)

	for start := 0; start < len(unique); start += maxQueryParams {
		end := start + maxQueryParams
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]

		args := make([]interface{}, len(chunk))
		for i, h := range chunk {
			args[i] = h
		}
		query := `SELECT hash FROM transactions WHERE hash IN (?` + strings.Repeat(",?", len(chunk)-1) + `)`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing hashes: %w", err)
		}
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan hash: %w", err)
			}
			found[h] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating hash rows: %w", err)
		}
		rows.Close()
	}
	return found, nil
}

// InsertImportLog implements Store
func (s *SQLite) InsertImportLog(ctx context.Context, log *domain.ImportLog) (*domain.ImportLog, error) {
	stored := *log
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	errs := stored.Errors
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode log errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_logs (id, account_id, file_name, file_type, status, total_records,
			imported_count, duplicate_count, error_count, total_value, errors, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.AccountID, stored.FileName, string(stored.FileType), string(stored.Status),
		stored.TotalRecords, stored.ImportedCount, stored.DuplicateCount, stored.ErrorCount,
		stored.TotalValue.String(), string(errsJSON), stored.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to insert import log: %w", err)
	}
	return &stored, nil
}

// ListImportLogs implements Store
func (s *SQLite) ListImportLogs(ctx context.Context, accountID string) ([]*domain.ImportLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, file_name, file_type, status, total_records, imported_count,
			duplicate_count, error_count, total_value, errors, created_at
		FROM import_logs WHERE account_id = ?
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*domain.ImportLog, 0)
	for rows.Next() {
		var (
			l                        domain.ImportLog
			fileType, status         string
			totalValue, errsJSON, at string
		)
		if err := rows.Scan(&l.ID, &l.AccountID, &l.FileName, &fileType, &status, &l.TotalRecords,
			&l.ImportedCount, &l.DuplicateCount, &l.ErrorCount, &totalValue, &errsJSON, &at); err != nil {
			return nil, fmt.Errorf("failed to scan import log: %w", err)
		}
		l.FileType = domain.FileType(fileType)
		l.Status = domain.ImportStatus(status)
		if l.TotalValue, err = decimal.NewFromString(totalValue); err != nil {
			return nil, fmt.Errorf("import log %s has invalid total value: %w", l.ID, err)
		}
		if err := json.Unmarshal([]byte(errsJSON), &l.Errors); err != nil {
			return nil, fmt.Errorf("import log %s has invalid errors: %w", l.ID, err)
		}
		if len(l.Errors) == 0 {
			l.Errors = nil
		}
		if l.CreatedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("import log %s has invalid timestamp: %w", l.ID, err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import log rows: %w", err)
	}
	return logs, nil
}

// CountTransactions returns how many rows an account has
func (s *SQLite) CountTransactions(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE account_id = ?`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}
