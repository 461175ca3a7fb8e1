// Package csv provides delimited-text statement parsing
package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parsers/tabular"
)

// Parser implements CSV parsing. It holds no state and is safe for
// concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared CSV parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "csv"
}

// Format returns the file type this parser handles
func (p *Parser) Format() domain.FileType {
	return domain.FileTypeCSV
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse reads a delimited statement. The delimiter (comma, semicolon or
// tab) and the decimal convention are detected from the content.
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*parser.Result, error) {
	fileName := ""
	if meta != nil {
		fileName = meta.FileName()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName, "failed to read CSV content", err)
	}

	content, err = decode(content, fileName)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, domain.NewParseError(domain.ParseErrorEmptyFile, fileName, "file is empty", nil)
	}

	delimiter := DetectDelimiter(content)

	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName, "failed to read CSV content", err)
	}

	return tabular.Parse(ctx, rows, meta, tabular.Options{
		// semicolon-separated exports come from comma-decimal locales
		DecimalCommaHint: delimiter == ';',
	})
}

// decode strips a UTF-8 BOM and converts Windows-1252 (Latin-1) content to
// UTF-8. UTF-16 is rejected.
func decode(content []byte, fileName string) ([]byte, error) {
	content = bytes.TrimPrefix(content, utf8BOM)

	if bytes.HasPrefix(content, []byte{0xFF, 0xFE}) || bytes.HasPrefix(content, []byte{0xFE, 0xFF}) || bytes.IndexByte(content, 0) >= 0 {
		return nil, domain.NewParseError(domain.ParseErrorEncoding, fileName, "UTF-16 or binary content is not supported; export the statement as UTF-8 or Latin-1", nil)
	}

	if utf8.Valid(content) {
		return content, nil
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(content)
	if err != nil {
		return nil, domain.NewParseError(domain.ParseErrorEncoding, fileName, "content is neither UTF-8 nor Windows-1252", err)
	}
	return decoded, nil
}

// DetectDelimiter picks the most frequent of comma, semicolon and tab on
// the first line, ignoring quoted text. Defaults to comma.
func DetectDelimiter(content []byte) rune {
	line := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}

	counts := map[rune]int{',': 0, ';': 0, '\t': 0}
	inQuotes := false
	for _, r := range string(line) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if _, ok := counts[r]; ok && !inQuotes {
			counts[r]++
		}
	}

	best := ','
	for _, candidate := range []rune{';', '\t'} {
		if counts[candidate] > counts[best] {
			best = candidate
		}
	}
	return best
}
