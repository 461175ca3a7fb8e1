package validate

import (
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
)

// ValidationResult contains all validation errors and warnings for a staged batch
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// ValidationError represents a row that must not be committed
type ValidationError struct {
	Row     int // 1-based position in the staged batch
	Hash    string
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// ValidationWarning represents a non-critical validation issue
type ValidationWarning struct {
	Row     int
	Hash    string
	Field   string
	Value   string
	Message string
}

// Valid reports whether no errors were found
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// RowErrors returns the errors grouped by 1-based row number
func (r *ValidationResult) RowErrors() map[int][]ValidationError {
	out := make(map[int][]ValidationError)
	for _, e := range r.Errors {
		out[e.Row] = append(out[e.Row], e)
	}
	return out
}

// ValidateStaged checks staged transactions before commit, relative to now.
func ValidateStaged(txns []domain.ImportedTransaction) *ValidationResult {
	return validateAt(txns, time.Now())
}

func validateAt(txns []domain.ImportedTransaction, now time.Time) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for i, txn := range txns {
		row := i + 1
		addError := func(field, value, msg string) {
			result.Errors = append(result.Errors, ValidationError{
				Row: row, Hash: txn.Hash, Field: field, Value: value, Message: msg,
			})
		}
		addWarning := func(field, value, msg string) {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Row: row, Hash: txn.Hash, Field: field, Value: value, Message: msg,
			})
		}

		if txn.Date.IsZero() {
			addError("Date", "", "transaction date cannot be empty")
		} else if txn.Date.After(today) {
			addWarning("Date", txn.Date.Format("2006-01-02"), "transaction date is in the future")
		}

		if txn.Description == "" {
			addError("Description", "", "transaction description cannot be empty")
		}

		if txn.Amount.IsNegative() {
			addError("Amount", txn.Amount.String(), "amount must be non-negative; the sign belongs in direction")
		} else if txn.Amount.IsZero() {
			addWarning("Amount", "0", "transaction amount is zero")
		}

		if txn.Direction != domain.DirectionInflow && txn.Direction != domain.DirectionOutflow {
			addError("Direction", string(txn.Direction), fmt.Sprintf("invalid direction: %q", txn.Direction))
		}

		if txn.Hash == "" {
			addError("Hash", "", "transaction hash cannot be empty")
		}

		switch txn.Category {
		case "":
			addError("Category", "", "transaction category cannot be empty")
		case domain.CategoryOther:
			addWarning("Category", string(txn.Category), "transaction is uncategorized")
		}
	}

	return result
}
