package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FileType identifies a supported statement format.
type FileType string

const (
	FileTypeOFX  FileType = "ofx"
	FileTypeCSV  FileType = "csv"
	FileTypeXLSX FileType = "xlsx"
	FileTypeXLS  FileType = "xls"
)

// Direction tells whether money entered or left the account.
type Direction string

const (
	DirectionInflow  Direction = "inflow"
	DirectionOutflow Direction = "outflow"
)

// DirectionOf returns outflow for negative amounts and inflow otherwise.
func DirectionOf(amount decimal.Decimal) Direction {
	if amount.IsNegative() {
		return DirectionOutflow
	}
	return DirectionInflow
}

// Category is the name of a spending/income bucket.
// The fixed table lives in internal/rules; CategoryOther is the fallback.
type Category string

const (
	CategoryTransport   Category = "Transporte"
	CategoryFood        Category = "Alimentação"
	CategoryGroceries   Category = "Supermercado"
	CategoryHealth      Category = "Saúde"
	CategoryEducation   Category = "Educação"
	CategoryLeisure     Category = "Lazer"
	CategoryHousing     Category = "Moradia"
	CategoryApparel     Category = "Vestuário"
	CategoryFixedIncome Category = "Renda Fixa"
	CategoryInvestments Category = "Investimentos"
	CategoryTaxes       Category = "Impostos"
	CategoryOther       Category = "Other"
)

// ImportedTransaction is a staged, not-yet-persisted candidate transaction.
// Amount is always non-negative; the sign lives in Direction.
type ImportedTransaction struct {
	Date              time.Time       `json:"date"`
	Description       string          `json:"description"`
	RawDescription    string          `json:"rawDescription"`
	Amount            decimal.Decimal `json:"amount"`
	Direction         Direction       `json:"direction"`
	Category          Category        `json:"category"`
	SuggestedCategory Category        `json:"suggestedCategory"`
	Hash              string          `json:"hash"`
	IsDuplicate       bool            `json:"isDuplicate"`
}

// SignedAmount returns the amount with the sign implied by Direction.
func (t ImportedTransaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionOutflow {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Transaction is a persisted row created from an ImportedTransaction.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"accountId"`
	Date        string          `json:"date"` // YYYY-MM-DD
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   Direction       `json:"direction"`
	Category    Category        `json:"category"`
	Hash        string          `json:"hash"`
	Source      string          `json:"source"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// SourceImport marks rows created by the statement importer.
const SourceImport = "import"

// NewTransaction builds the persisted row for a staged transaction.
func NewTransaction(id, accountID string, staged ImportedTransaction, createdAt time.Time) (*Transaction, error) {
	if id == "" {
		return nil, fmt.Errorf("transaction ID cannot be empty")
	}
	if accountID == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if staged.Hash == "" {
		return nil, fmt.Errorf("transaction hash cannot be empty")
	}
	return &Transaction{
		ID:          id,
		AccountID:   accountID,
		Date:        staged.Date.Format("2006-01-02"),
		Description: staged.Description,
		Amount:      staged.Amount,
		Direction:   staged.Direction,
		Category:    staged.Category,
		Hash:        staged.Hash,
		Source:      SourceImport,
		CreatedAt:   createdAt,
	}, nil
}

// ImportStatus is the outcome of one commit.
type ImportStatus string

const (
	ImportStatusSuccess ImportStatus = "success"
	ImportStatusPartial ImportStatus = "partial"
	ImportStatusError   ImportStatus = "error"
)

// DeriveStatus computes the log status from the imported and error counts.
// Nothing imported with zero errors (e.g. every row a duplicate) is success.
func DeriveStatus(imported, errors int) ImportStatus {
	switch {
	case imported == 0 && errors > 0:
		return ImportStatusError
	case errors > 0 && imported > 0:
		return ImportStatusPartial
	default:
		return ImportStatusSuccess
	}
}

// ImportLog is the persisted summary of one import run. Immutable once written.
type ImportLog struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"accountId"`
	FileName       string          `json:"fileName"`
	FileType       FileType        `json:"fileType"`
	Status         ImportStatus    `json:"status"`
	TotalRecords   int             `json:"totalRecords"`
	ImportedCount  int             `json:"importedCount"`
	DuplicateCount int             `json:"duplicateCount"`
	ErrorCount     int             `json:"errorCount"`
	TotalValue     decimal.Decimal `json:"totalValue"`
	Errors         []string        `json:"errors,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}
