package transform

import (
	"strings"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
)

// Classifier suggests a category for a normalized description.
type Classifier interface {
	Classify(description string) domain.Category
}

// Enrich converts parsed records into staged transactions for accountID.
// Each record is normalized, hashed and classified; Category starts as the
// suggestion until the user overrides it. Order is preserved.
func Enrich(records []parser.RawRecord, accountID string, classifier Classifier) []domain.ImportedTransaction {
	staged := make([]domain.ImportedTransaction, 0, len(records))
	for _, rec := range records {
		staged = append(staged, EnrichRecord(rec, accountID, classifier))
	}
	return staged
}

// EnrichRecord builds one staged transaction.
func EnrichRecord(rec parser.RawRecord, accountID string, classifier Classifier) domain.ImportedTransaction {
	description := NormalizeDescription(rec.Description())
	if description == "" {
		// description was nothing but boilerplate ("PIX", "TED 05/01")
		description = strings.Join(strings.Fields(rec.Description()), " ")
	}

	category := classifier.Classify(description)
	return domain.ImportedTransaction{
		Date:              rec.Date(),
		Description:       description,
		RawDescription:    rec.Description(),
		Amount:            rec.Amount().Abs(),
		Direction:         rec.Direction(),
		Category:          category,
		SuggestedCategory: category,
		Hash:              GenerateHash(rec.Date(), description, rec.Amount(), accountID),
	}
}
