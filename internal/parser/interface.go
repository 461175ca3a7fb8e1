package parser

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
)

// Parser is the strategy interface for all statement format parsers
type Parser interface {
	// Name returns parser identifier (e.g., "ofx", "csv")
	Name() string

	// Format returns the file type this parser handles
	Format() domain.FileType

	// Parse converts one statement file into RawRecords.
	// Failures are *domain.ParseError. Zero records is not an error here.
	Parse(ctx context.Context, r io.Reader, meta *Metadata) (*Result, error)
}

// RawRecord is the canonical parser output. Format-specific row shapes never
// leave the parser; every parser adapts into this type.
type RawRecord struct {
	date        time.Time
	description string
	amount      decimal.Decimal // signed: negative = outflow
	direction   domain.Direction
}

// Date returns the calendar date (time-of-day truncated, UTC)
func (r RawRecord) Date() time.Time { return r.date }

// Description returns the raw statement description
func (r RawRecord) Description() string { return r.description }

// Amount returns the signed amount
func (r RawRecord) Amount() decimal.Decimal { return r.amount }

// Direction returns inflow or outflow
func (r RawRecord) Direction() domain.Direction { return r.direction }

// NewRawRecord creates a validated raw record. The date is truncated to the
// calendar day and direction is derived from the amount sign.
func NewRawRecord(date time.Time, description string, amount decimal.Decimal) (RawRecord, error) {
	if date.IsZero() {
		return RawRecord{}, fmt.Errorf("record date cannot be zero")
	}
	if description == "" {
		return RawRecord{}, fmt.Errorf("description cannot be empty")
	}
	return RawRecord{
		date:        TruncateDay(date),
		description: description,
		amount:      amount,
		direction:   domain.DirectionOf(amount),
	}, nil
}

// TruncateDay drops the time-of-day, keeping the calendar date as written in the file.
func TruncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Result is the output of a single Parse call.
type Result struct {
	Records []RawRecord
	// Skipped counts rows dropped because their date or amount could not be parsed.
	Skipped     int
	SkipReasons []string
}

// maxSkipReasons bounds how many skip reasons are kept for display.
const maxSkipReasons = 20

// Skip records a skipped row.
func (r *Result) Skip(row int, reason string) {
	r.Skipped++
	if len(r.SkipReasons) < maxSkipReasons {
		r.SkipReasons = append(r.SkipReasons, fmt.Sprintf("row %d: %s", row, reason))
	}
}
