// Package xlsx provides Office Open XML spreadsheet statement parsing
package xlsx

import (
	"bytes"
	"context"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parsers/tabular"
)

// Parser reads the first worksheet of an .xlsx workbook. It holds no state
// and is safe for concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared XLSX parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "xlsx"
}

// Format returns the file type this parser handles
func (p *Parser) Format() domain.FileType {
	return domain.FileTypeXLSX
}

// Parse reads raw cell values (no number formatting) from the first sheet.
// Date cells arrive as Excel serial numbers and are converted by tabular.
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
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName, "failed to read XLSX content", err)
	}
	if len(content) == 0 {
		return nil, domain.NewParseError(domain.ParseErrorEmptyFile, fileName, "file is empty", nil)
	}

	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName, "failed to open XLSX workbook", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(cerr).Str("file", fileName).Msg("failed to close workbook")
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.NewParseError(domain.ParseErrorEmptyFile, fileName, "workbook has no worksheets", nil)
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName, "failed to read worksheet "+sheets[0], err)
	}

	return tabular.Parse(ctx, rows, meta, tabular.Options{SerialDates: true})
}
