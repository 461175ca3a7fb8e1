package registry

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
)

// mockParser implements parser.Parser for testing
type mockParser struct {
	name   string
	format domain.FileType
}

func (m *mockParser) Name() string { return m.name }
func (m *mockParser) Format() domain.FileType { return m.format }
func (m *mockParser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*parser.Result, error) {
	return &parser.Result{}, nil
}

func TestRegistry_New(t *testing.T) {
	reg := New()
	got := reg.ListParsers()
	want := []string{"ofx", "csv", "xlsx", "xls"}
	if len(got) != len(want) {
		t.Fatalf("ListParsers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListParsers()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	for _, ft := range []domain.FileType{domain.FileTypeOFX, domain.FileTypeCSV, domain.FileTypeXLSX, domain.FileTypeXLS} {
		p, err := reg.ParserFor(ft)
		if err != nil {
			t.Errorf("ParserFor(%q) error = %v", ft, err)
			continue
		}
		if p.Format() != ft {
			t.Errorf("ParserFor(%q).Format() = %q", ft, p.Format())
		}
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	reg := New()
	custom := &mockParser{name: "bank-csv", format: domain.FileTypeCSV}
	reg.Register(custom)

	p, err := reg.ParserFor(domain.FileTypeCSV)
	if err != nil {
		t.Fatalf("ParserFor() error = %v", err)
	}
	if p != custom {
		t.Error("Register() should replace the parser for an existing format")
	}
	if n := len(reg.ListParsers()); n != 4 {
		t.Errorf("ListParsers() len = %d, want 4", n)
	}
}

func TestRegistry_ParserForUnknown(t *testing.T) {
	reg := &Registry{parsers: map[domain.FileType]parser.Parser{}}
	_, err := reg.ParserFor(domain.FileTypeOFX)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("ParserFor() error = %v, want *domain.ValidationError", err)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		fileName string
		want     domain.FileType
		wantErr  bool
	}{
		{"extrato.ofx", domain.FileTypeOFX, false},
		{"EXTRATO.OFX", domain.FileTypeOFX, false},
		{"statement.qfx", domain.FileTypeOFX, false},
		{"extrato.csv", domain.FileTypeCSV, false},
		{"fatura.XLSX", domain.FileTypeXLSX, false},
		{"fatura.xls", domain.FileTypeXLS, false},
		{"dir.v2/extrato.csv", domain.FileTypeCSV, false},
		{"extrato.pdf", "", true},
		{"extrato.txt", "", true},
		{"extrato", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			got, err := DetectFormat(tt.fileName)
			if tt.wantErr {
				var verr *domain.ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("DetectFormat(%q) error = %v, want *domain.ValidationError", tt.fileName, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DetectFormat(%q) error = %v", tt.fileName, err)
			}
			if got != tt.want {
				t.Errorf("DetectFormat(%q) = %q, want %q", tt.fileName, got, tt.want)
			}
		})
	}
}

func TestDetectFormatWithContent(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		header   []byte
		want     domain.FileType
	}{
		{"xlsx named xls", "fatura.xls", []byte("PK\x03\x04...."), domain.FileTypeXLSX},
		{"xls named xlsx", "fatura.xlsx", oleMagic, domain.FileTypeXLS},
		{"xls unchanged", "fatura.xls", oleMagic, domain.FileTypeXLS},
		{"ofx named csv", "extrato.csv", []byte("OFXHEADER:100\n"), domain.FileTypeOFX},
		{"csv unchanged", "extrato.csv", []byte("data;valor\n"), domain.FileTypeCSV},
		{"short header", "fatura.xlsx", []byte("P"), domain.FileTypeXLSX},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormatWithContent(tt.fileName, tt.header)
			if err != nil {
				t.Fatalf("DetectFormatWithContent() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectFormatWithContent() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := DetectFormatWithContent("x.pdf", []byte("%PDF")); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestCheckSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		limit   int64
		wantErr bool
	}{
		{"small file", 1024, 0, false},
		{"exactly the limit", MaxFileSize, 0, false},
		{"one byte over", MaxFileSize + 1, 0, true},
		{"15 MB", 15 << 20, 0, true},
		{"lowered limit", 2 << 20, 1 << 20, true},
		{"limit above max is clamped", 11 << 20, 20 << 20, true},
		{"empty file passes the size gate", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSize(tt.size, tt.limit)
			if !tt.wantErr {
				if err != nil {
					t.Errorf("CheckSize() error = %v", err)
				}
				return
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("CheckSize() error = %v, want *domain.ValidationError", err)
			}
		})
	}
}
