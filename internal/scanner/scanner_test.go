package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
)

func writeFile(t *testing.T, root string, parts ...string) {
	t.Helper()
	path := filepath.Join(append([]string{root}, parts...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("test"), 0o644))
}

func TestScanner_Scan(t *testing.T) {
	root := t.TempDir()

	// root/
	//   nubank/2024-01/extrato.csv
	//   itau/fatura.OFX
	//   itau/planilhas/janeiro.xlsx
	//   bradesco/antigo.xls
	//   loose.csv             no account
	//   docs/readme.txt       unsupported
	//   docs/scan.pdf         unsupported
	//   .cache/old.csv        hidden
	writeFile(t, root, "nubank", "2024-01", "extrato.csv")
	writeFile(t, root, "itau", "fatura.OFX")
	writeFile(t, root, "itau", "planilhas", "janeiro.xlsx")
	writeFile(t, root, "bradesco", "antigo.xls")
	writeFile(t, root, "loose.csv")
	writeFile(t, root, "docs", "readme.txt")
	writeFile(t, root, "docs", "scan.pdf")
	writeFile(t, root, ".cache", "old.csv")

	results, err := New(root).Scan()
	require.NoError(t, err)
	require.Len(t, results, 4)

	byName := make(map[string]ScanResult)
	for _, r := range results {
		byName[filepath.Base(r.Path)] = r
	}

	nubank := byName["extrato.csv"]
	assert.Equal(t, "nubank", nubank.AccountID)
	assert.Equal(t, "2024-01", nubank.Period)
	assert.Equal(t, domain.FileTypeCSV, nubank.FileType)
	assert.Equal(t, int64(4), nubank.Size)

	itau := byName["fatura.OFX"]
	assert.Equal(t, "itau", itau.AccountID)
	assert.Empty(t, itau.Period)
	assert.Equal(t, domain.FileTypeOFX, itau.FileType)

	sheet := byName["janeiro.xlsx"]
	assert.Equal(t, "itau", sheet.AccountID)
	assert.Empty(t, sheet.Period, "planilhas is not a period")

	assert.Equal(t, "bradesco", byName["antigo.xls"].AccountID)
	assert.NotContains(t, byName, "loose.csv")
	assert.NotContains(t, byName, "old.csv")
}

func TestScanner_Errors(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing")).Scan()
	assert.Error(t, err)

	root := t.TempDir()
	writeFile(t, root, "file.csv")
	_, err = New(filepath.Join(root, "file.csv")).Scan()
	assert.Error(t, err)
}

func TestScanner_Empty(t *testing.T) {
	results, err := New(t.TempDir()).Scan()
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLooksLikePeriod(t *testing.T) {
	tests := map[string]bool{
		"2024-01":    true,
		"1999-12":    true,
		"2024-1":     false,
		"2024_01":    false,
		"abcd-ef":    false,
		"2024-01-05": false,
		"planilhas":  false,
	}
	for in, want := range tests {
		assert.Equal(t, want, looksLikePeriod(in), in)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "extratos"), expandHome("~/extratos"))
	assert.Equal(t, "/tmp/extratos", expandHome("/tmp/extratos"))
}
