package parser

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Metadata contains context about the file being parsed.
//
// Create instances using NewMetadata(fileName, accountID, receivedAt). The
// account is chosen by the caller before parsing; parsers never infer or
// create one.
type Metadata struct {
	fileName   string
	accountID  string
	receivedAt time.Time
	mapping    *ColumnMapping
}

// NewMetadata creates a new Metadata instance with validated required fields.
func NewMetadata(fileName, accountID string, receivedAt time.Time) (*Metadata, error) {
	if fileName == "" {
		return nil, fmt.Errorf("file name cannot be empty")
	}
	if receivedAt.IsZero() {
		return nil, fmt.Errorf("received time cannot be zero")
	}
	return &Metadata{
		fileName:   fileName,
		accountID:  accountID,
		receivedAt: receivedAt,
	}, nil
}

// FileName returns the declared file name
func (m *Metadata) FileName() string {
	return m.fileName
}

// AccountID returns the account the statement is imported into
func (m *Metadata) AccountID() string {
	return m.accountID
}

// ReceivedAt returns when the file was received
func (m *Metadata) ReceivedAt() time.Time {
	return m.receivedAt
}

// Mapping returns the caller-supplied column mapping for tabular formats, or nil
func (m *Metadata) Mapping() *ColumnMapping {
	return m.mapping
}

// SetMapping overrides header-based column detection for CSV/XLSX/XLS
func (m *Metadata) SetMapping(mapping *ColumnMapping) {
	m.mapping = mapping
}

// LogDict returns the statement context for log events. It is empty for a
// nil Metadata.
func LogDict(meta *Metadata) *zerolog.Event {
	d := zerolog.Dict()
	if meta == nil {
		return d
	}
	return d.Str("file", meta.FileName()).
		Str("account_id", meta.AccountID()).
		Time("received_at", meta.ReceivedAt())
}

// ColumnMapping fixes the zero-based column positions of a tabular statement.
// A negative index means "not present". Amount is used unless both Debit and
// Credit are set.
type ColumnMapping struct {
	Date        int `yaml:"date" json:"date"`
	Description int `yaml:"description" json:"description"`
	Amount      int `yaml:"amount" json:"amount"`
	Debit       int `yaml:"debit" json:"debit"`
	Credit      int `yaml:"credit" json:"credit"`
}

// PositionalMapping is the fallback order: date, description, amount.
func PositionalMapping() ColumnMapping {
	return ColumnMapping{Date: 0, Description: 1, Amount: 2, Debit: -1, Credit: -1}
}

// IsDoubleEntry reports whether amounts come from separate debit/credit columns
func (c ColumnMapping) IsDoubleEntry() bool {
	return c.Debit >= 0 && c.Credit >= 0
}

// Validate checks the mapping is usable
func (c ColumnMapping) Validate() error {
	if c.Date < 0 {
		return fmt.Errorf("date column is required")
	}
	if c.Description < 0 {
		return fmt.Errorf("description column is required")
	}
	if c.Amount < 0 && !c.IsDoubleEntry() {
		return fmt.Errorf("amount column or debit/credit columns are required")
	}
	return nil
}
