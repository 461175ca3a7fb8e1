// Package output writes staged imports and import logs as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/pipeline"
)

// WriteOptions configures where JSON is written
type WriteOptions struct {
	FilePath string // Output path (empty = stdout)
}

// FileReport is the outcome of importing one file during a scan
type FileReport struct {
	Path      string            `json:"path"`
	AccountID string            `json:"accountId"`
	Log       *domain.ImportLog `json:"log,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// ScanReport summarizes a directory import
type ScanReport struct {
	Root     string       `json:"root"`
	Files    []FileReport `json:"files"`
	Imported int          `json:"imported"`
	Failed   int          `json:"failed"`
}

// Add records one file and updates the totals
func (r *ScanReport) Add(fr FileReport) {
	r.Files = append(r.Files, fr)
	if fr.Error != "" || fr.Log == nil || fr.Log.Status == domain.ImportStatusError {
		r.Failed++
		return
	}
	r.Imported += fr.Log.ImportedCount
}

// WriteJSON serializes v with 2-space indentation
func WriteJSON(v interface{}, w io.Writer) error {
	if v == nil {
		return fmt.Errorf("value cannot be nil")
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WriteView writes the review state of a staged session
func WriteView(view pipeline.View, w io.Writer) error {
	return WriteJSON(view, w)
}

// WriteLog writes one import log
func WriteLog(log *domain.ImportLog, w io.Writer) error {
	if log == nil {
		return fmt.Errorf("import log cannot be nil")
	}
	return WriteJSON(log, w)
}

// WriteToFile writes v to the configured file, or stdout
func WriteToFile(v interface{}, opts WriteOptions) (err error) {
	if opts.FilePath == "" {
		return WriteJSON(v, os.Stdout)
	}

	f, err := os.Create(opts.FilePath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", opts.FilePath, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close output file %s: %w", opts.FilePath, closeErr)
		}
	}()

	if err = WriteJSON(v, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.FilePath, err)
	}
	return nil
}
