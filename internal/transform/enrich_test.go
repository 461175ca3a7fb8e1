package transform

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
)

type fixedClassifier map[string]domain.Category

func (f fixedClassifier) Classify(description string) domain.Category {
	if c, ok := f[description]; ok {
		return c
	}
	return domain.CategoryOther
}

func mustRecord(t *testing.T, date time.Time, desc, amount string) parser.RawRecord {
	t.Helper()
	rec, err := parser.NewRawRecord(date, desc, decimal.RequireFromString(amount))
	require.NoError(t, err)
	return rec
}

func TestEnrich(t *testing.T) {
	day := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	records := []parser.RawRecord{
		mustRecord(t, day, "PIX ENVIADO - UBER TRIP", "-23.50"),
		mustRecord(t, day.AddDate(0, 0, 1), "SALARY", "2500.00"),
		mustRecord(t, day, "PIX", "-5"),
	}
	classifier := fixedClassifier{"UBER TRIP": domain.CategoryTransport}

	staged := Enrich(records, "acc-1", classifier)
	require.Len(t, staged, 3)

	uber := staged[0]
	assert.Equal(t, "UBER TRIP", uber.Description)
	assert.Equal(t, "PIX ENVIADO - UBER TRIP", uber.RawDescription)
	assert.True(t, uber.Amount.Equal(decimal.RequireFromString("23.50")))
	assert.Equal(t, domain.DirectionOutflow, uber.Direction)
	assert.Equal(t, domain.CategoryTransport, uber.Category)
	assert.Equal(t, domain.CategoryTransport, uber.SuggestedCategory)
	assert.Equal(t, GenerateHash(day, "UBER TRIP", decimal.RequireFromString("23.50"), "acc-1"), uber.Hash)
	assert.False(t, uber.IsDuplicate)

	salary := staged[1]
	assert.Equal(t, domain.DirectionInflow, salary.Direction)
	assert.Equal(t, domain.CategoryOther, salary.Category)

	// boilerplate-only descriptions keep the raw text
	assert.Equal(t, "PIX", staged[2].Description)
}

func TestEnrich_Empty(t *testing.T) {
	staged := Enrich(nil, "acc-1", fixedClassifier{})
	assert.NotNil(t, staged)
	assert.Empty(t, staged)
}
