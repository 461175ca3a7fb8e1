package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrNoRecords is returned when a file parsed cleanly but produced no transactions.
	// Callers report it separately from a parse failure.
	ErrNoRecords = errors.New("no transactions found in file")

	// ErrSessionNotFound is returned when an import session does not exist or is not owned by the caller
	ErrSessionNotFound = errors.New("import session not found")

	// ErrInvalidTransition is returned when a session operation is not allowed in its current state
	ErrInvalidTransition = errors.New("invalid import session transition")

	// ErrUnknownTransaction is returned when a hash does not match any staged transaction
	ErrUnknownTransaction = errors.New("unknown staged transaction")

	// ErrUnknownCategory is returned when a category is not in the category table
	ErrUnknownCategory = errors.New("unknown category")
)

// ValidationError rejects an upload before any parsing is attempted
// (oversized file, unsupported format, missing account).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// ParseErrorKind classifies parse failures.
type ParseErrorKind string

const (
	ParseErrorMalformed ParseErrorKind = "malformed-file"
	ParseErrorEncoding  ParseErrorKind = "unsupported-encoding"
	ParseErrorEmptyFile ParseErrorKind = "empty-file"
)

// ParseError aborts the pipeline run for a single file.
type ParseError struct {
	Kind   ParseErrorKind
	File   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse error (%s)", e.Kind)
	if e.File != "" {
		msg += " in " + e.File
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError builds a ParseError for the given file.
func NewParseError(kind ParseErrorKind, file, reason string, err error) *ParseError {
	return &ParseError{Kind: kind, File: file, Reason: reason, Err: err}
}

// RowCommitError records a single-row insert failure during commit.
// It is counted in the import log and never aborts the batch.
type RowCommitError struct {
	Row    int
	Hash   string
	Reason string
	Err    error
}

func (e *RowCommitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("row %d (%s): %s: %v", e.Row, e.Hash, e.Reason, e.Err)
	}
	return fmt.Sprintf("row %d (%s): %s", e.Row, e.Hash, e.Reason)
}

func (e *RowCommitError) Unwrap() error {
	return e.Err
}

// LogPersistenceError means the import log could not be saved.
// Committed rows stay committed; the caller still receives the in-memory log.
type LogPersistenceError struct {
	Err error
}

func (e *LogPersistenceError) Error() string {
	return fmt.Sprintf("failed to persist import log: %v", e.Err)
}

func (e *LogPersistenceError) Unwrap() error {
	return e.Err
}
