package registry

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parsers/ofx"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parsers/xls"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parsers/xlsx"
)

// MaxFileSize is the largest statement accepted, checked before any parsing.
const MaxFileSize int64 = 10 << 20

var extensions = map[string]domain.FileType{
	".ofx":  domain.FileTypeOFX,
	".qfx":  domain.FileTypeOFX,
	".csv":  domain.FileTypeCSV,
	".xlsx": domain.FileTypeXLSX,
	".xls":  domain.FileTypeXLS,
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// CheckSize rejects files larger than limit. A non-positive limit means MaxFileSize.
func CheckSize(size, limit int64) error {
	if limit <= 0 || limit > MaxFileSize {
		limit = MaxFileSize
	}
	if size > limit {
		return &domain.ValidationError{
			Reason: fmt.Sprintf("file is %s, larger than the %s limit", humanSize(size), humanSize(limit)),
		}
	}
	return nil
}

// DetectFormat selects the statement format from the file extension
// (case-insensitive). Unknown extensions are a *domain.ValidationError.
func DetectFormat(fileName string) (domain.FileType, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ft, ok := extensions[ext]; ok {
		return ft, nil
	}
	if ext == "" {
		return "", &domain.ValidationError{Reason: fmt.Sprintf("unsupported format: %q has no extension (expected .ofx, .qfx, .csv, .xlsx or .xls)", fileName)}
	}
	return "", &domain.ValidationError{Reason: fmt.Sprintf("unsupported format %q (expected .ofx, .qfx, .csv, .xlsx or .xls)", ext)}
}

// DetectFormatWithContent refines DetectFormat using the first bytes of
// the file. Banks commonly serve .xlsx workbooks named .xls and the reverse;
// the container signature decides between the two spreadsheet formats.
func DetectFormatWithContent(fileName string, header []byte) (domain.FileType, error) {
	ft, err := DetectFormat(fileName)
	if err != nil {
		return "", err
	}
	switch ft {
	case domain.FileTypeXLS, domain.FileTypeXLSX:
		if bytes.HasPrefix(header, zipMagic) {
			return domain.FileTypeXLSX, nil
		}
		if bytes.HasPrefix(header, oleMagic) {
			return domain.FileTypeXLS, nil
		}
	case domain.FileTypeCSV:
		if ofx.LooksLikeOFX(header) {
			return domain.FileTypeOFX, nil
		}
	}
	return ft, nil
}

func humanSize(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}

// Registry maps file types to parsers
type Registry struct {
	parsers map[domain.FileType]parser.Parser
	order   []domain.FileType
}

// New creates a registry with all built-in parsers
func New() *Registry {
	r := &Registry{parsers: make(map[domain.FileType]parser.Parser)}
	r.Register(ofx.NewParser())
	r.Register(csv.NewParser())
	r.Register(xlsx.NewParser())
	r.Register(xls.NewParser())
	return r
}

// Register adds or replaces the parser for its format
func (r *Registry) Register(p parser.Parser) {
	ft := p.Format()
	if _, exists := r.parsers[ft]; !exists {
		r.order = append(r.order, ft)
	}
	r.parsers[ft] = p
}

// ParserFor returns the parser registered for ft
func (r *Registry) ParserFor(ft domain.FileType) (parser.Parser, error) {
	p, ok := r.parsers[ft]
	if !ok {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("no parser registered for format %q", ft)}
	}
	return p, nil
}

// ListParsers returns all registered parser names in registration order
func (r *Registry) ListParsers() []string {
	names := make([]string, 0, len(r.order))
	for _, ft := range r.order {
		names = append(names, r.parsers[ft].Name())
	}
	return names
}
