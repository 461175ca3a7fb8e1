package tabular

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
)

func TestDetectMapping(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   parser.ColumnMapping
		ok     bool
	}{
		{
			name:   "english",
			header: []string{"date", "description", "amount"},
			want:   parser.ColumnMapping{Date: 0, Description: 1, Amount: 2, Debit: -1, Credit: -1},
			ok:     true,
		},
		{
			name:   "portuguese with balance",
			header: []string{"Saldo", "Histórico", "Data Lançamento", "Valor (R$)"},
			want:   parser.ColumnMapping{Date: 2, Description: 1, Amount: 3, Debit: -1, Credit: -1},
			ok:     true,
		},
		{
			name:   "debit and credit",
			header: []string{"Data", "Descrição", "Débito", "Crédito"},
			want:   parser.ColumnMapping{Date: 0, Description: 1, Amount: -1, Debit: 2, Credit: 3},
			ok:     true,
		},
		{
			name:   "amount wins over debit and credit",
			header: []string{"Data", "Descrição", "Débito", "Crédito", "Valor"},
			want:   parser.ColumnMapping{Date: 0, Description: 1, Amount: 4, Debit: -1, Credit: -1},
			ok:     true,
		},
		{
			name:   "first word match",
			header: []string{"Data da compra", "Estabelecimento", "Valor em reais"},
			want:   parser.ColumnMapping{Date: 0, Description: 1, Amount: 2, Debit: -1, Credit: -1},
			ok:     true,
		},
		{
			name:   "missing amount",
			header: []string{"Data", "Descrição"},
			want:   parser.PositionalMapping(),
			ok:     false,
		},
		{
			name:   "data row",
			header: []string{"2024-01-05", "UBER", "-1"},
			want:   parser.PositionalMapping(),
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectMapping(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_SerialDatesAndRounding(t *testing.T) {
	rows := [][]string{
		{"Data", "Descrição", "Valor"},
		{"45296", "UBER TRIP", "-23.499999999999996"},
	}

	result, err := Parse(context.Background(), rows, nil, Options{SerialDates: true})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), result.Records[0].Date())
	assert.True(t, result.Records[0].Amount().Equal(decimal.RequireFromString("-23.50")))

	// serials are only accepted from spreadsheets
	result, err = Parse(context.Background(), rows, nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Equal(t, 1, result.Skipped)
}

func TestParse_DecimalCommaHint(t *testing.T) {
	rows := [][]string{
		{"data", "descricao", "valor"},
		{"05/01/2024", "LOJA", "1.500"},
	}

	result, err := Parse(context.Background(), rows, nil, Options{DecimalCommaHint: true})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.True(t, result.Records[0].Amount().Equal(decimal.RequireFromString("1500")))

	result, err = Parse(context.Background(), rows, nil, Options{})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.True(t, result.Records[0].Amount().Equal(decimal.RequireFromString("1.5")))
}

func TestParse_EntryTypeMarker(t *testing.T) {
	rows := [][]string{
		{"Data", "Histórico", "Valor", "D/C"},
		{"05/01/2024", "ALUGUEL", "1500,00", "D"},
		{"06/01/2024", "SALARIO", "3000,00", "C"},
		{"07/01/2024", "ESTORNO", "-10,00", ""},
	}

	result, err := Parse(context.Background(), rows, nil, Options{DecimalCommaHint: true})
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
	assert.Equal(t, domain.DirectionOutflow, result.Records[0].Direction())
	assert.Equal(t, domain.DirectionInflow, result.Records[1].Direction())
	assert.Equal(t, domain.DirectionOutflow, result.Records[2].Direction())
}

func TestParse_EmptyAndCancelled(t *testing.T) {
	_, err := Parse(context.Background(), [][]string{{"", " "}, {}}, nil, Options{})
	var perr *domain.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.ParseErrorEmptyFile, perr.Kind)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Parse(ctx, [][]string{{"2024-01-05", "X", "1"}}, nil, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParse_InvalidExplicitMapping(t *testing.T) {
	meta, err := parser.NewMetadata("x.csv", "acc-1", time.Now())
	require.NoError(t, err)
	meta.SetMapping(&parser.ColumnMapping{Date: -1, Description: 0, Amount: 1, Debit: -1, Credit: -1})

	_, err = Parse(context.Background(), [][]string{{"a", "b"}}, meta, Options{})
	var perr *domain.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.ParseErrorMalformed, perr.Kind)
}
