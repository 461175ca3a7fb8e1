// Package xls provides legacy Excel 97-2003 (BIFF) statement parsing
package xls

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/extrame/xls"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parsers/tabular"
)

// Parser reads the first worksheet of an .xls workbook. It holds no state
// and is safe for concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared XLS parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "xls"
}

// Format returns the file type this parser handles
func (p *Parser) Format() domain.FileType {
	return domain.FileTypeXLS
}

// oleMagic is the compound document signature every BIFF workbook starts with.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Parse converts the first worksheet and hands the cells to tabular.
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
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName, "failed to read XLS content", err)
	}
	if len(content) == 0 {
		return nil, domain.NewParseError(domain.ParseErrorEmptyFile, fileName, "file is empty", nil)
	}
	if !bytes.HasPrefix(content, oleMagic) {
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName, "not an Excel 97-2003 workbook", nil)
	}

	rows, err := readRows(content)
	if err != nil {
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName, "failed to read XLS workbook", err)
	}

	return tabular.Parse(ctx, rows, meta, tabular.Options{SerialDates: true})
}

// readRows extracts the first sheet as strings. The BIFF decoder panics on
// some corrupt files; that is reported as an error.
func readRows(content []byte) (rows [][]string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			rows, err = nil, fmt.Errorf("corrupt workbook: %v", rec)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(content), "utf-8")
	if err != nil {
		return nil, err
	}
	if wb.NumSheets() == 0 {
		return nil, nil
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, nil
	}

	rows = make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			continue
		}
		cells := make([]string, row.LastCol())
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			cells[c] = row.Col(c)
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
