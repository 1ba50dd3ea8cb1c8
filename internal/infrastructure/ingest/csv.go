package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

type csvDecoder struct{}

// Decode reads a header row followed by one record per row. ';' is accepted
// as the delimiter when the header contains no ','.
func (csvDecoder) Decode(r io.Reader) (*integration.RecordBatch, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(3)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(head) == 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
		_, _ = br.Discard(3)
	}

	const checkSize = 4096
	sample, err := br.Peek(checkSize)
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(sample) == 0 {
		return nil, ErrEmptyInput
	}
	if !validUTF8Prefix(sample, len(sample) < checkSize) {
		return nil, ErrInvalidEncoding
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(sample)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrMissingHeader
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrMalformedInput, err)
	}

	columns, err := headerColumns(header)
	if err != nil {
		return nil, err
	}

	out := newCollector()
	position := 0
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				out.drop(RowError{Position: position, Code: CodeMalformedRow, Message: perr.Err.Error()})
				position++
				continue
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if blankRow(fields) {
			continue
		}
		out.add(recordFromColumns(position, zipRow(columns, fields)))
		position++
	}
	return out.result(), nil
}

// headerColumns canonicalizes a header row and requires the key column
func headerColumns(header []string) ([]string, error) {
	columns := make([]string, len(header))
	hasKey := false
	for i, h := range header {
		columns[i] = canonicalColumn(h)
		if columns[i] == ColIdentityKey {
			hasKey = true
		}
	}
	if blankRow(header) {
		return nil, ErrMissingHeader
	}
	if !hasKey {
		return nil, ErrMissingKeyColumn
	}
	return columns, nil
}

func zipRow(columns, fields []string) map[string]string {
	row := make(map[string]string, len(columns))
	for i, col := range columns {
		if i < len(fields) {
			row[col] = fields[i]
		}
	}
	return row
}

func blankRow(fields []string) bool {
	for _, f := range fields {
		if cleanText(f) != "" {
			return false
		}
	}
	return true
}

func sniffDelimiter(sample []byte) rune {
	commas, semicolons := 0, 0
	for _, b := range sample {
		if b == '\n' {
			break
		}
		switch b {
		case ',':
			commas++
		case ';':
			semicolons++
		}
	}
	if semicolons > 0 && commas == 0 {
		return ';'
	}
	return ','
}

// validUTF8Prefix checks the sample; when it is only a prefix of the input a
// rune cut at the end is tolerated.
func validUTF8Prefix(b []byte, complete bool) bool {
	if !complete {
		for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
			if utf8.RuneStart(b[len(b)-i]) {
				if !utf8.FullRune(b[len(b)-i:]) {
					b = b[:len(b)-i]
				}
				break
			}
		}
	}
	return utf8.Valid(b)
}
