// Package ingest decodes crawler output files into normalized records.
//
// Supported formats are JSON (an array or newline delimited objects), CSV and
// XLSX (first sheet), both with a header row. Rows that cannot become a valid
// record are reported as dropped with the reason and never fail the batch.
package ingest

import (
	"errors"
	"fmt"
)

// Drop reason codes
const (
	CodeMissingKey   = "MISSING_KEY"
	CodeInvalidPrice = "INVALID_PRICE"
	CodeInvalidRow   = "INVALID_ROW"
	CodeMalformedRow = "MALFORMED_ROW"
)

// Input level errors fail the whole decode
var (
	ErrEmptyInput        = errors.New("ingest: input is empty")
	ErrInvalidEncoding   = errors.New("ingest: input is not valid UTF-8")
	ErrMissingHeader     = errors.New("ingest: tabular input has no header row")
	ErrMissingKeyColumn  = errors.New("ingest: tabular input has no identity key column")
	ErrUnsupportedFormat = errors.New("ingest: unsupported format")
	ErrMalformedInput    = errors.New("ingest: malformed input")
)

// RowError describes why one row was dropped
type RowError struct {
	// Position is the zero-based record position in the input
	Position int
	Column   string
	Code     string
	Message  string
}

func (e RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("record %d, column '%s': %s", e.Position, e.Column, e.Message)
	}
	return fmt.Sprintf("record %d: %s", e.Position, e.Message)
}
