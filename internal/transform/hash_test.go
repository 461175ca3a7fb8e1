package transform

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestGenerateHash_Golden(t *testing.T) {
	date := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "jibfe0", GenerateHash(date, "UBER TRIP", decimal.RequireFromString("-23.50"), "acc-1"))
	assert.Equal(t, "xo7n37", GenerateHash(date, "uber trip", decimal.RequireFromString("23.5"), ""))
	assert.Equal(t, "dchjmh", GenerateHash(date.AddDate(0, 0, 1), "SALARY", decimal.RequireFromString("2500"), "acc-1"))
}

func TestGenerateHash_Deterministic(t *testing.T) {
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("100.00")

	first := GenerateHash(date, "Padaria Real", amount, "acc-1")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, GenerateHash(date, "Padaria Real", amount, "acc-1"))
	}
	assert.NotEmpty(t, first)
}

func TestGenerateHash_SignInvariant(t *testing.T) {
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	positive := GenerateHash(date, "Padaria Real", decimal.RequireFromString("100.00"), "acc-1")
	negative := GenerateHash(date, "Padaria Real", decimal.RequireFromString("-100.00"), "acc-1")
	assert.Equal(t, positive, negative)
}

func TestGenerateHash_Inputs(t *testing.T) {
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("100")
	base := GenerateHash(date, "Padaria Real", amount, "acc-1")

	tests := []struct {
		name string
		hash string
		same bool
	}{
		{"time of day ignored", GenerateHash(date.Add(15*time.Hour), "Padaria Real", amount, "acc-1"), true},
		{"case ignored", GenerateHash(date, "PADARIA REAL", amount, "acc-1"), true},
		{"trailing zeros ignored", GenerateHash(date, "Padaria Real", decimal.RequireFromString("100.000"), "acc-1"), true},
		{"different day", GenerateHash(date.AddDate(0, 0, 1), "Padaria Real", amount, "acc-1"), false},
		{"different amount", GenerateHash(date, "Padaria Real", decimal.RequireFromString("100.01"), "acc-1"), false},
		{"different account", GenerateHash(date, "Padaria Real", amount, "acc-2"), false},
		{"different description", GenerateHash(date, "Padaria Central", amount, "acc-1"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.same {
				assert.Equal(t, base, tt.hash)
			} else {
				assert.NotEqual(t, base, tt.hash)
			}
		})
	}
}

func TestGenerateHash_DescriptionPrefix(t *testing.T) {
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("10")
	prefix := strings.Repeat("a", hashDescriptionPrefix)

	// descriptions sharing the first 50 runes collide by construction
	assert.Equal(t,
		GenerateHash(date, prefix+" first", amount, "acc-1"),
		GenerateHash(date, prefix+" second", amount, "acc-1"))

	accented := strings.Repeat("ã", hashDescriptionPrefix)
	assert.Equal(t,
		GenerateHash(date, accented+"x", amount, "acc-1"),
		GenerateHash(date, accented+"y", amount, "acc-1"))
}
