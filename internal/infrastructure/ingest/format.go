package ingest

import (
	"fmt"
	"path"
	"strings"
)

// Format is an input encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat parses a format name, case-insensitively
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "ndjson", "jsonl":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ResolveFormat returns the explicit format when given, else the one implied
// by the key's extension.
func ResolveFormat(key, explicit string) (Format, error) {
	if strings.TrimSpace(explicit) != "" {
		return ParseFormat(explicit)
	}
	ext := strings.TrimPrefix(path.Ext(strings.ToLower(key)), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: cannot infer format of %q", ErrUnsupportedFormat, key)
	}
	return ParseFormat(ext)
}
