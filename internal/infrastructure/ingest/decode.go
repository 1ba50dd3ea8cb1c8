package ingest

import (
	"fmt"
	"io"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// Decoder turns an input stream into records
type Decoder interface {
	Decode(r io.Reader) (*integration.RecordBatch, error)
}

// Decode reads all records from r in the given format
func Decode(r io.Reader, format Format) (*integration.RecordBatch, error) {
	d, err := NewDecoder(format)
	if err != nil {
		return nil, err
	}
	return d.Decode(r)
}

// NewDecoder returns the decoder for format
func NewDecoder(format Format) (Decoder, error) {
	switch format {
	case FormatJSON:
		return jsonDecoder{}, nil
	case FormatCSV:
		return csvDecoder{}, nil
	case FormatXLSX:
		return xlsxDecoder{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// collector accumulates accepted and dropped rows in input order
type collector struct {
	batch integration.RecordBatch
}

func newCollector() *collector {
	return &collector{batch: integration.RecordBatch{
		Records: make([]integration.NormalizedRecord, 0),
		Dropped: make([]integration.DroppedRecord, 0),
	}}
}

func (c *collector) accept(rec integration.NormalizedRecord) {
	c.batch.Records = append(c.batch.Records, rec)
}

func (c *collector) drop(e RowError) {
	c.batch.Dropped = append(c.batch.Dropped, integration.DroppedRecord{
		Position: e.Position,
		Reason:   e.Error(),
	})
}

func (c *collector) add(rec integration.NormalizedRecord, rowErr *RowError) {
	if rowErr != nil {
		c.drop(*rowErr)
		return
	}
	c.accept(rec)
}

func (c *collector) result() *integration.RecordBatch {
	return &c.batch
}
