package transform

import (
	"regexp"
	"strings"
	"unicode"
)

// transactionPrefixes are the bank boilerplate markers stripped from the
// start of a description. Matching is accent and case insensitive. Longer
// tokens come first so "pix enviado" wins over "pix".
var transactionPrefixes = []string{
	"transferencia enviada",
	"transferencia recebida",
	"debito automatico",
	"compra no debito",
	"compra no credito",
	"compra cartao",
	"transferencia",
	"pix recebido",
	"pix enviado",
	"pagamento",
	"pgto",
	"pix",
	"ted",
	"doc",
}

var (
	embeddedDate = regexp.MustCompile(`\b\d{1,2}/\d{1,2}(?:/(?:\d{4}|\d{2}))?\b`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// NormalizeDescription strips bank boilerplate from a raw statement
// description: leading transaction-type markers, embedded DD/MM[/YYYY]
// dates, repeated whitespace and one leading "-" or ":".
// The result is a fixpoint: NormalizeDescription(NormalizeDescription(s)) == NormalizeDescription(s).
func NormalizeDescription(raw string) string {
	s := raw
	for {
		next := normalizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func normalizeOnce(s string) string {
	s = strings.TrimSpace(s)
	s = stripPrefix(s)
	s = embeddedDate.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, ":") {
		s = s[1:]
	}
	return strings.TrimSpace(s)
}

// stripPrefix removes the first matching transaction prefix when it ends on a word boundary
func stripPrefix(s string) string {
	in := []rune(s)
	for _, prefix := range transactionPrefixes {
		p := []rune(prefix)
		if len(in) < len(p) {
			continue
		}
		matched := true
		for i, r := range p {
			if foldRune(in[i]) != r {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		if len(in) == len(p) || !isWordRune(in[len(p)]) {
			return string(in[len(p):])
		}
	}
	return s
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
