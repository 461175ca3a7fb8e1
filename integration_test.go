package stmtimport_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/commit"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/rules"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/store"
)

const ofxStatement = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240201120000
<LANGUAGE>POR
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>BRL
<BANKACCTFROM>
<BANKID>0341
<ACCTID>12345-6
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101000000
<DTEND>20240131235959
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240105235900[-3:BRT]
<TRNAMT>-23.50
<FITID>TXN001
<NAME>UBER TRIP
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240106120000
<TRNAMT>2500.00
<FITID>TXN002
<NAME>SALARY
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>2476.50
<DTASOF>20240131235959
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

const csvStatement = "data;descrição;valor\n" +
	"05/01/2024;UBER TRIP;-23,50\n" +
	"06/01/2024;SALARY;2.500,00\n"

// flakyStore fails every insert of one description
type flakyStore struct {
	*store.SQLite
	failDescription string
}

func (f *flakyStore) InsertTransaction(ctx context.Context, txn *domain.Transaction) (string, error) {
	if txn.Description == f.failDescription {
		return "", errors.New("connection reset")
	}
	return f.SQLite.InsertTransaction(ctx, txn)
}

func openSQLite(t *testing.T) *store.SQLite {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "stmtimport.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newPipeline(t *testing.T, st store.Store) *pipeline.Pipeline {
	t.Helper()
	engine, err := rules.LoadEmbedded()
	require.NoError(t, err)
	committer, err := commit.NewService(st, commit.WithOptions(commit.Options{MaxAttempts: 2}))
	require.NoError(t, err)
	return pipeline.NewPipeline(engine, st, committer)
}

func upload(name, accountID string, body []byte) pipeline.Upload {
	return pipeline.Upload{
		Name:      name,
		Size:      int64(len(body)),
		Body:      bytes.NewReader(body),
		AccountID: accountID,
		UserID:    "user-1",
	}
}

func xlsxStatement(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]interface{}{
		{"Data", "Descrição", "Valor"},
		{time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), "UBER TRIP", -23.5},
		{"06/01/2024", "SALARY", 2500},
	}
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func stageAndCommit(t *testing.T, p *pipeline.Pipeline, up pipeline.Upload) (*pipeline.Session, *domain.ImportLog) {
	t.Helper()
	ctx := context.Background()
	sess, err := p.Stage(ctx, up)
	require.NoError(t, err)
	log, err := p.Commit(ctx, sess, nil)
	require.NoError(t, err)
	return sess, log
}

func TestEndToEnd_EveryFormat(t *testing.T) {
	statements := []struct {
		name     string
		fileName string
		body     func(t *testing.T) []byte
		fileType domain.FileType
	}{
		{"ofx", "extrato.ofx", func(*testing.T) []byte { return []byte(ofxStatement) }, domain.FileTypeOFX},
		{"csv", "extrato.csv", func(*testing.T) []byte { return []byte(csvStatement) }, domain.FileTypeCSV},
		{"xlsx", "extrato.xlsx", xlsxStatement, domain.FileTypeXLSX},
	}

	for _, tt := range statements {
		t.Run(tt.name, func(t *testing.T) {
			st := openSQLite(t)
			p := newPipeline(t, st)

			sess, log := stageAndCommit(t, p, upload(tt.fileName, "acc-1", tt.body(t)))
			assert.Equal(t, pipeline.StateCommitted, sess.State())

			txns := sess.Transactions()
			require.Len(t, txns, 2)
			assert.Equal(t, "UBER TRIP", txns[0].Description)
			assert.Equal(t, "2024-01-05", txns[0].Date.Format("2006-01-02"))
			assert.Equal(t, domain.DirectionOutflow, txns[0].Direction)
			assert.Equal(t, domain.CategoryTransport, txns[0].Category)
			assert.Equal(t, domain.DirectionInflow, txns[1].Direction)

			assert.Equal(t, domain.ImportStatusSuccess, log.Status)
			assert.Equal(t, tt.fileType, log.FileType)
			assert.Equal(t, 2, log.TotalRecords)
			assert.Equal(t, 2, log.ImportedCount)
			assert.Equal(t, "2523.5", log.TotalValue.String())

			n, err := st.CountTransactions(context.Background(), "acc-1")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			logs, err := st.ListImportLogs(context.Background(), "acc-1")
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.Equal(t, log.ID, logs[0].ID)
		})
	}
}

func TestEndToEnd_ReimportIsAllDuplicates(t *testing.T) {
	st := openSQLite(t)
	p := newPipeline(t, st)
	ctx := context.Background()

	stageAndCommit(t, p, upload("extrato.csv", "acc-1", []byte(csvStatement)))

	// same rows in another format
	again, err := p.Stage(ctx, upload("extrato.ofx", "acc-1", []byte(ofxStatement)))
	require.NoError(t, err)
	for _, txn := range again.Transactions() {
		assert.True(t, txn.IsDuplicate, "%s should be flagged", txn.Description)
	}

	log, err := p.Commit(ctx, again, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, log.ImportedCount)
	assert.Equal(t, 2, log.DuplicateCount)
	assert.Equal(t, domain.ImportStatusSuccess, log.Status)

	n, err := st.CountTransactions(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// the account is part of the identity
	other, err := p.Stage(ctx, upload("extrato.csv", "acc-2", []byte(csvStatement)))
	require.NoError(t, err)
	for _, txn := range other.Transactions() {
		assert.False(t, txn.IsDuplicate)
	}
}

func TestEndToEnd_OversizedFileLeavesNoTrace(t *testing.T) {
	st := openSQLite(t)
	p := newPipeline(t, st)
	ctx := context.Background()

	body := []byte("date,description,amount\n" + strings.Repeat("2024-01-05,UBER TRIP,-23.50\n", 15<<20/28+1))
	require.Greater(t, len(body), 15<<20-1)

	_, err := p.Stage(ctx, upload("extrato.csv", "acc-1", body))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	logs, err := st.ListImportLogs(ctx, "acc-1")
	require.NoError(t, err)
	assert.Empty(t, logs)
	n, err := st.CountTransactions(ctx, "acc-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEndToEnd_PartialFailure(t *testing.T) {
	st := &flakyStore{SQLite: openSQLite(t), failDescription: "SALARY"}
	p := newPipeline(t, st)
	ctx := context.Background()

	sess, err := p.Stage(ctx, upload("extrato.csv", "acc-1", []byte(csvStatement)))
	require.NoError(t, err)

	var processed int
	log, err := p.Commit(ctx, sess, func(commit.Progress) { processed++ })
	require.NoError(t, err)

	assert.Equal(t, 2, processed)
	assert.Equal(t, domain.ImportStatusPartial, log.Status)
	assert.Equal(t, 1, log.ImportedCount)
	assert.Equal(t, 1, log.ErrorCount)
	assert.Equal(t, "23.5", log.TotalValue.String())
	require.Len(t, log.Errors, 1)
	assert.Contains(t, log.Errors[0], "connection reset")

	// the failed row is not a duplicate on the next attempt
	retry, err := p.Stage(ctx, upload("extrato.csv", "acc-1", []byte(csvStatement)))
	require.NoError(t, err)
	txns := retry.Transactions()
	require.Len(t, txns, 2)
	assert.True(t, txns[0].IsDuplicate)
	assert.False(t, txns[1].IsDuplicate)
}

func TestEndToEnd_MalformedFileIsRejected(t *testing.T) {
	st := openSQLite(t)
	p := newPipeline(t, st)
	ctx := context.Background()

	_, err := p.Stage(ctx, upload("extrato.ofx", "acc-1", []byte("OFXHEADER:100\n<OFX><BROKEN")))
	var perr *domain.ParseError
	require.ErrorAs(t, err, &perr)

	_, err = p.Stage(ctx, upload("extrato.csv", "acc-1", []byte("date,description,amount\n")))
	assert.ErrorIs(t, err, domain.ErrNoRecords)

	logs, err := st.ListImportLogs(ctx, "acc-1")
	require.NoError(t, err)
	assert.Empty(t, logs)
}
