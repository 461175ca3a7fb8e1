package transform

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold removes diacritics and lowercases s, e.g. "Farmácia São João" → "farmacia sao joao".
// Input that cannot be transformed is only lowercased.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.ToLower(folded)
}

// foldRune folds a single rune. Runes whose folding is not exactly one rune
// are only lowercased, so rune positions in the input stay aligned.
func foldRune(r rune) rune {
	folded := []rune(Fold(string(r)))
	if len(folded) != 1 {
		return unicode.ToLower(r)
	}
	return folded[0]
}
