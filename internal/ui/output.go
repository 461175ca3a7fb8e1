// Package ui prints human-facing CLI output.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
)

const lineWidth = 60

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	blue   = color.New(color.FgBlue)
	red    = color.New(color.FgRed)
	faint  = color.New(color.Faint)

	out io.Writer = color.Output
)

// SetOutput redirects all output, returning the previous writer
func SetOutput(w io.Writer) io.Writer {
	prev := out
	out = w
	return prev
}

// Header prints a formatted header
func Header(text string) {
	line := strings.Repeat("=", lineWidth)
	green.Fprintf(out, "\n%s\n", line)
	green.Fprintf(out, "%-60s\n", center(text, lineWidth))
	green.Fprintf(out, "%s\n\n", line)
}

// Step prints a step indicator
func Step(stepNum, totalSteps int, text string) {
	yellow.Fprintf(out, "[%d/%d] %s\n", stepNum, totalSteps, text)
}

// Success prints a success message
func Success(text string) {
	green.Fprintf(out, "  → %s\n", text)
}

// Info prints an info message
func Info(text string) {
	fmt.Fprintf(out, "  → %s\n", text)
}

// Warning prints a warning message
func Warning(text string) {
	yellow.Fprintf(out, "  ⚠ %s\n", text)
}

// Error prints an error message
func Error(text string) {
	red.Fprintf(out, "Error: %s\n", text)
}

// BlueText prints blue text
func BlueText(text string) {
	blue.Fprintln(out, text)
}

// YellowText prints yellow text
func YellowText(text string) {
	yellow.Fprintln(out, text)
}

// Transaction prints one review line. Duplicates are dimmed.
func Transaction(row int, txn domain.ImportedTransaction) {
	line := fmt.Sprintf("%3d  %s  %12s  %-14s %s  [%s]",
		row,
		txn.Date.Format("2006-01-02"),
		txn.SignedAmount().StringFixed(2),
		txn.Category,
		txn.Description,
		shortHash(txn.Hash),
	)
	if txn.IsDuplicate {
		faint.Fprintf(out, "%s  duplicate\n", line)
		return
	}
	fmt.Fprintln(out, line)
}

// ImportSummary prints the outcome of a commit
func ImportSummary(log *domain.ImportLog) {
	summary := fmt.Sprintf("%s: %d imported, %d duplicates, %d errors of %d (total %s)",
		log.FileName, log.ImportedCount, log.DuplicateCount, log.ErrorCount, log.TotalRecords, log.TotalValue.StringFixed(2))

	switch log.Status {
	case domain.ImportStatusSuccess:
		Success(summary)
	case domain.ImportStatusPartial:
		Warning(summary)
	default:
		Error(summary)
	}
	for _, e := range log.Errors {
		faint.Fprintf(out, "      %s\n", e)
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// center centers text within a given width
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	padding := (width - len(text)) / 2
	return strings.Repeat(" ", padding) + text
}
