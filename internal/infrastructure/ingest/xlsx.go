package ingest

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

type xlsxDecoder struct{}

// Decode reads the first sheet; its first non-blank row is the header.
func (xlsxDecoder) Decode(r io.Reader) (*integration.RecordBatch, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %w", ErrMalformedInput, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyInput
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %w", ErrMalformedInput, sheets[0], err)
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	out := newCollector()
	position := 0
	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("%w: read row: %w", ErrMalformedInput, err)
		}
		if blankRow(cells) {
			continue
		}
		if columns == nil {
			if columns, err = headerColumns(cells); err != nil {
				return nil, err
			}
			continue
		}
		out.add(recordFromColumns(position, zipRow(columns, cells)))
		position++
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	if columns == nil {
		return nil, ErrMissingHeader
	}
	return out.result(), nil
}
