// Package tabular turns rows of cells (CSV, XLSX, XLS) into raw records.
// Format parsers only produce [][]string; header mapping, locale detection
// and row validation live here so every tabular format behaves the same.
package tabular

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/transform"
)

// Options tunes row conversion per source format.
type Options struct {
	// DecimalCommaHint is used when the amount samples carry no locale signal.
	DecimalCommaHint bool
	// SerialDates accepts Excel serial day numbers in the date column and
	// rounds amounts to cents (spreadsheet floats).
	SerialDates bool
}

// Excel serial day bounds: 1900-01-01 .. 9999-12-31
const (
	minSerialDate = 1
	maxSerialDate = 2958465
)

// ctxCheckInterval is how many rows are converted between cancellation checks.
const ctxCheckInterval = 256

// Parse converts rows into a parser.Result. The first non-empty row is
// treated as a header when it names the columns or when its date cell is
// not a date.
func Parse(ctx context.Context, rows [][]string, meta *parser.Metadata, opts Options) (*parser.Result, error) {
	fileName := ""
	if meta != nil {
		fileName = meta.FileName()
	}

	rows = dropEmptyRows(rows)
	if len(rows) == 0 {
		return nil, domain.NewParseError(domain.ParseErrorEmptyFile, fileName, "file has no rows", nil)
	}

	mapping, headerFound := DetectMapping(rows[0])
	if meta != nil && meta.Mapping() != nil {
		mapping = *meta.Mapping()
		headerFound = false
	}
	if err := mapping.Validate(); err != nil {
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName, "invalid column mapping", err)
	}

	data := rows
	firstRow := 1
	typeCol := -1
	if headerFound || !isDateCell(cell(rows[0], mapping.Date), opts) {
		data = rows[1:]
		firstRow = 2
		typeCol = detectTypeColumn(rows[0])
	}

	decimalComma, confident := parser.DetectDecimalComma(amountSamples(data, mapping))
	if !confident {
		decimalComma = opts.DecimalCommaHint
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Dict("statement", parser.LogDict(meta)).
		Bool("header", headerFound).
		Interface("mapping", mapping).
		Bool("decimal_comma", decimalComma).
		Msg("tabular layout resolved")

	result := &parser.Result{Records: make([]parser.RawRecord, 0, len(data))}
	for i, row := range data {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		rowNum := firstRow + i
		rec, err := convertRow(row, mapping, typeCol, decimalComma, opts)
		if err != nil {
			result.Skip(rowNum, err.Error())
			continue
		}
		result.Records = append(result.Records, rec)
	}

	return result, nil
}

func convertRow(row []string, mapping parser.ColumnMapping, typeCol int, decimalComma bool, opts Options) (parser.RawRecord, error) {
	rawDate := cell(row, mapping.Date)
	date, err := parseCellDate(rawDate, opts)
	if err != nil {
		return parser.RawRecord{}, err
	}

	description := strings.Join(strings.Fields(cell(row, mapping.Description)), " ")
	if description == "" {
		return parser.RawRecord{}, fmt.Errorf("empty description")
	}

	var amount decimal.Decimal
	if mapping.Amount >= 0 {
		amount, err = parser.ParseAmount(cell(row, mapping.Amount), decimalComma)
		if err != nil {
			return parser.RawRecord{}, err
		}
	} else {
		amount, err = doubleEntryAmount(cell(row, mapping.Debit), cell(row, mapping.Credit), decimalComma)
		if err != nil {
			return parser.RawRecord{}, err
		}
	}
	if opts.SerialDates {
		amount = amount.Round(2)
	}
	amount = applyEntryType(amount, cell(row, typeCol))

	return parser.NewRawRecord(date, description, amount)
}

// doubleEntryAmount folds separate debit/credit columns into one signed
// amount. Debits are outflows whether or not the bank prints them negative.
func doubleEntryAmount(debit, credit string, decimalComma bool) (decimal.Decimal, error) {
	debit = strings.TrimSpace(debit)
	credit = strings.TrimSpace(credit)
	if debit == "" && credit == "" {
		return decimal.Zero, fmt.Errorf("both debit and credit are empty")
	}

	total := decimal.Zero
	if credit != "" {
		c, err := parser.ParseAmount(credit, decimalComma)
		if err != nil {
			return decimal.Zero, fmt.Errorf("credit: %w", err)
		}
		total = total.Add(c)
	}
	if debit != "" {
		d, err := parser.ParseAmount(debit, decimalComma)
		if err != nil {
			return decimal.Zero, fmt.Errorf("debit: %w", err)
		}
		total = total.Sub(d.Abs())
	}
	return total, nil
}

func parseCellDate(raw string, opts Options) (time.Time, error) {
	date, err := parser.ParseDate(raw)
	if err == nil {
		return date, nil
	}
	if opts.SerialDates {
		if serial, perr := strconv.ParseFloat(strings.TrimSpace(raw), 64); perr == nil && serial >= minSerialDate && serial <= maxSerialDate {
			t, terr := excelize.ExcelDateToTime(serial, false)
			if terr == nil {
				return parser.TruncateDay(t), nil
			}
		}
	}
	return time.Time{}, err
}

func isDateCell(raw string, opts Options) bool {
	_, err := parseCellDate(raw, opts)
	return err == nil
}

func amountSamples(rows [][]string, mapping parser.ColumnMapping) []string {
	cols := []int{mapping.Amount}
	if mapping.Amount < 0 {
		cols = []int{mapping.Debit, mapping.Credit}
	}
	samples := make([]string, 0, len(rows))
	for _, row := range rows {
		for _, col := range cols {
			if v := strings.TrimSpace(cell(row, col)); v != "" {
				samples = append(samples, v)
			}
		}
	}
	return samples
}

// cell returns row[col] trimmed, or "" when the row is too short
func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func dropEmptyRows(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

// entryTypes maps a debit/credit marker column value to the amount sign.
var entryTypes = map[string]int{
	"d":       -1,
	"dr":      -1,
	"debit":   -1,
	"debito":  -1,
	"saida":   -1,
	"c":       1,
	"cr":      1,
	"credit":  1,
	"credito": 1,
	"entrada": 1,
}

// typeHeaders name a column holding a debit/credit marker.
var typeHeaders = map[string]bool{
	"tipo":     true,
	"type":     true,
	"d c":      true,
	"dc":       true,
	"natureza": true,
}

func detectTypeColumn(header []string) int {
	for i, h := range header {
		if typeHeaders[headerKey(h)] {
			return i
		}
	}
	return -1
}

// applyEntryType forces the sign of amount when the row carries a
// debit/credit marker; unsigned bank exports rely on it.
func applyEntryType(amount decimal.Decimal, marker string) decimal.Decimal {
	switch entryTypes[headerKey(marker)] {
	case -1:
		return amount.Abs().Neg()
	case 1:
		return amount.Abs()
	default:
		return amount
	}
}

// headerAliases maps folded header names to column roles.
var headerAliases = map[string]string{
	"data":               "date",
	"date":               "date",
	"dt":                 "date",
	"data lancamento":    "date",
	"data do lancamento": "date",
	"data movimento":     "date",
	"data transacao":     "date",
	"transaction date":   "date",
	"posted date":        "date",
	"posting date":       "date",

	"descricao":       "description",
	"description":     "description",
	"historico":       "description",
	"lancamento":      "description",
	"detalhes":        "description",
	"estabelecimento": "description",
	"memo":            "description",
	"payee":           "description",
	"name":            "description",
	"titulo":          "description",

	"valor":    "amount",
	"amount":   "amount",
	"value":    "amount",
	"quantia":  "amount",
	"valor r":  "amount",
	"valor rs": "amount",

	"debito":       "debit",
	"debit":        "debit",
	"saida":        "debit",
	"saidas":       "debit",
	"valor debito": "debit",

	"credito":       "credit",
	"credit":        "credit",
	"entrada":       "credit",
	"entradas":      "credit",
	"valor credito": "credit",
}

// DetectMapping maps header names to column positions. ok is false when the
// row does not name a date, a description and an amount (or debit and credit).
func DetectMapping(header []string) (mapping parser.ColumnMapping, ok bool) {
	found := parser.ColumnMapping{Date: -1, Description: -1, Amount: -1, Debit: -1, Credit: -1}

	assign := func(role string, col int) {
		switch role {
		case "date":
			if found.Date < 0 {
				found.Date = col
			}
		case "description":
			if found.Description < 0 {
				found.Description = col
			}
		case "amount":
			if found.Amount < 0 {
				found.Amount = col
			}
		case "debit":
			if found.Debit < 0 {
				found.Debit = col
			}
		case "credit":
			if found.Credit < 0 {
				found.Credit = col
			}
		}
	}

	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = headerKey(h)
		if role, ok := headerAliases[keys[i]]; ok {
			assign(role, i)
		}
	}
	// second pass: "Data da compra", "Valor (R$) em reais" match on first word
	for i, key := range keys {
		if _, exact := headerAliases[key]; exact {
			continue
		}
		first, _, _ := strings.Cut(key, " ")
		if role, ok := headerAliases[first]; ok {
			assign(role, i)
		}
	}

	if found.Validate() != nil {
		return parser.PositionalMapping(), false
	}
	if found.Amount >= 0 {
		found.Debit, found.Credit = -1, -1
	}
	return found, true
}

// headerKey folds a header cell to lowercase ASCII words
func headerKey(h string) string {
	folded := transform.Fold(strings.TrimPrefix(h, "\ufeff"))
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(cleaned), " ")
}
