package parser

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a statement amount. When decimalComma is true the
// value uses the Brazilian/European convention (1.234,56); otherwise the
// US convention (1,234.56). Accepts currency symbols, a leading or trailing
// minus, and accounting parentheses for negatives.
func ParseAmount(raw string, decimalComma bool) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	cleaned := cleanAmount(s)
	if strings.HasSuffix(cleaned, "-") {
		negative = !negative
		cleaned = strings.TrimSuffix(cleaned, "-")
	}
	if strings.HasPrefix(cleaned, "-") {
		negative = !negative
		cleaned = strings.TrimPrefix(cleaned, "-")
	}
	cleaned = strings.TrimPrefix(cleaned, "+")

	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}

	if decimalComma {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}

// cleanAmount keeps only digits, separators and signs
func cleanAmount(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' || r == '+' {
			return r
		}
		return -1
	}, raw)
}

// DetectDecimalComma inspects amount samples and reports whether they use a
// comma as decimal separator. confident is false when the samples carry no
// signal either way (e.g. integers only) or the hints are tied.
func DetectDecimalComma(samples []string) (decimalComma bool, confident bool) {
	commaHints := 0
	dotHints := 0

	for _, raw := range samples {
		cleaned := strings.Trim(cleanAmount(raw), "-+")
		if cleaned == "" {
			continue
		}

		hasComma := strings.Contains(cleaned, ",")
		hasDot := strings.Contains(cleaned, ".")

		switch {
		case hasComma && hasDot:
			if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
				commaHints++
			} else {
				dotHints++
			}
		case hasComma:
			if hasDecimalSuffix(cleaned, ',') {
				commaHints++
			}
		case hasDot:
			if hasDecimalSuffix(cleaned, '.') {
				dotHints++
			}
		}
	}

	if commaHints == dotHints {
		return false, false
	}
	return commaHints > dotHints, true
}

// hasDecimalSuffix reports whether value ends with sep followed by one or two digits
func hasDecimalSuffix(value string, sep rune) bool {
	idx := strings.LastIndex(value, string(sep))
	if idx == -1 || idx == len(value)-1 {
		return false
	}
	digits := 0
	for _, r := range value[idx+1:] {
		if !unicode.IsDigit(r) {
			return false
		}
		digits++
		if digits > 2 {
			return false
		}
	}
	return digits > 0
}
