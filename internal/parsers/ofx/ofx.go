// Package ofx provides OFX/QFX statement parsing
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
)

// Parser implements OFX/QFX parsing. It holds no state and is safe for
// concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared OFX parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "ofx"
}

// Format returns the file type this parser handles
func (p *Parser) Format() domain.FileType {
	return domain.FileTypeOFX
}

// LooksLikeOFX reports whether header carries an OFX v1 (SGML) or v2 (XML) marker
func LooksLikeOFX(header []byte) bool {
	upper := strings.ToUpper(string(header))
	return strings.Contains(upper, "OFXHEADER") ||
		strings.Contains(upper, "<?OFX") ||
		strings.Contains(upper, "<OFX>")
}

// Parse extracts cash transactions from bank, credit card and investment
// statements. Every statement in the file contributes records.
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
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName, "failed to read OFX content", err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, domain.NewParseError(domain.ParseErrorEmptyFile, fileName, "file is empty", nil)
	}

	// ofxgo.ParseResponse does not observe ctx; this only catches
	// cancellation between read and parse.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	response, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName,
			fmt.Sprintf("failed to parse OFX file (%d bytes)", len(content)), err)
	}

	if len(response.Bank) == 0 && len(response.CreditCard) == 0 && len(response.InvStmt) == 0 {
		return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName,
			"no supported statement type found; expected bank (BANKMSGSRSV1), credit card (CREDITCARDMSGSRSV1) or investment (INVSTMTMSGSRSV1)", nil)
	}

	log := logger.FromContext(ctx)
	result := &parser.Result{}
	row := 0

	for _, msg := range response.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName,
				fmt.Sprintf("unexpected bank statement type %T", msg), nil)
		}
		if stmt.BankTranList == nil {
			log.Debug().Str("file", fileName).Msg("bank statement has no transaction list")
			continue
		}
		row = collect(result, stmt.BankTranList.Transactions, row)
	}

	for _, msg := range response.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName,
				fmt.Sprintf("unexpected credit card statement type %T", msg), nil)
		}
		if stmt.BankTranList == nil {
			log.Debug().Str("file", fileName).Msg("credit card statement has no transaction list")
			continue
		}
		row = collect(result, stmt.BankTranList.Transactions, row)
	}

	for _, msg := range response.InvStmt {
		stmt, ok := msg.(*ofxgo.InvStatementResponse)
		if !ok {
			return nil, domain.NewParseError(domain.ParseErrorMalformed, fileName,
				fmt.Sprintf("unexpected investment statement type %T", msg), nil)
		}
		if stmt.InvTranList == nil {
			continue
		}
		// Only cash movements (dividends, interest, fees, transfers) become
		// records; security trades carry no single cash amount line.
		for _, bank := range stmt.InvTranList.BankTransactions {
			row = collect(result, bank.Transactions, row)
		}
		if n := len(stmt.InvTranList.InvTransactions); n > 0 {
			log.Debug().Str("file", fileName).Int("count", n).Msg("ignoring security transactions")
		}
	}

	log.Debug().
		Dict("statement", parser.LogDict(meta)).
		Int("records", len(result.Records)).
		Int("skipped", result.Skipped).
		Msg("parsed OFX statement")

	return result, nil
}

// collect appends valid transactions to result and skips the rest.
// row is the running 1-based transaction counter across statements.
func collect(result *parser.Result, txns []ofxgo.Transaction, row int) int {
	for _, txn := range txns {
		row++
		rec, err := extractRecord(txn)
		if err != nil {
			result.Skip(row, err.Error())
			continue
		}
		result.Records = append(result.Records, rec)
	}
	return row
}

// extractRecord converts one OFX transaction
func extractRecord(txn ofxgo.Transaction) (parser.RawRecord, error) {
	// Use posted date; if not available, fallback to user date
	date := txn.DtPosted.Time
	if date.IsZero() {
		date = txn.DtUser.Time
	}
	if date.IsZero() {
		return parser.RawRecord{}, fmt.Errorf("transaction %s missing both posted date and user date", txn.FiTID.String())
	}

	// Use Name field for description; if empty, fallback to Memo field
	description := strings.TrimSpace(txn.Name.String())
	if description == "" {
		description = strings.TrimSpace(txn.Memo.String())
	}
	if description == "" {
		return parser.RawRecord{}, fmt.Errorf("transaction %s missing both name and memo fields", txn.FiTID.String())
	}

	amount, err := decimal.NewFromString(txn.TrnAmt.Rat.FloatString(4))
	if err != nil {
		return parser.RawRecord{}, fmt.Errorf("transaction %s has invalid amount: %w", txn.FiTID.String(), err)
	}

	return parser.NewRawRecord(date, description, amount)
}
