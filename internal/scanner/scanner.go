// Package scanner finds statement files in a directory tree laid out as
// {root}/{account}/[{period}/]file.ext.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/registry"
)

// Scanner walks directory tree and finds statement files
type Scanner struct {
	rootDir string
}

// New creates a new scanner for the given root directory
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir}
}

// ScanResult is one statement file and the account it belongs to
type ScanResult struct {
	Path      string
	AccountID string
	FileType  domain.FileType
	Period    string // YYYY-MM directory below the account, if any
	Size      int64
}

// Scan walks the directory tree and finds all statement files. Files
// directly under the root have no account and are ignored, as are hidden
// files and directories.
func (s *Scanner) Scan() ([]ScanResult, error) {
	var results []ScanResult

	rootDir := expandHome(s.rootDir)
	info, err := os.Stat(rootDir)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan failed: %s is not a directory", rootDir)
	}

	err = filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != rootDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		fileType, err := registry.DetectFormat(d.Name())
		if err != nil {
			return nil
		}

		accountID, period := accountFromPath(rootDir, path)
		if accountID == "" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		results = append(results, ScanResult{
			Path:      path,
			AccountID: accountID,
			FileType:  fileType,
			Period:    period,
			Size:      info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	return results, nil
}

// accountFromPath returns the first directory below root and, when the next
// directory looks like YYYY-MM, the period
func accountFromPath(rootDir, filePath string) (accountID, period string) {
	relPath, err := filepath.Rel(rootDir, filePath)
	if err != nil {
		return "", ""
	}
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	if len(parts) < 2 {
		return "", ""
	}
	accountID = parts[0]
	if len(parts) >= 3 && looksLikePeriod(parts[1]) {
		period = parts[1]
	}
	return accountID, period
}

// looksLikePeriod checks if str looks like YYYY-MM
func looksLikePeriod(str string) bool {
	if len(str) != 7 || str[4] != '-' {
		return false
	}
	for i, r := range str {
		if i == 4 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// expandHome expands ~ to home directory
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
