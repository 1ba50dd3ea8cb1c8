// Package storage provides record sources backed by object storage and the
// local filesystem.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/ingest"
)

// DefaultMaxObjectSize bounds one record file
const DefaultMaxObjectSize int64 = 64 << 20

var (
	ErrObjectNotFound = errors.New("storage: object not found")
	ErrObjectTooLarge = errors.New("storage: object exceeds maximum size")
	ErrInvalidKey     = errors.New("storage: invalid object key")
)

// decodeObject reads at most maxSize bytes from body and decodes them in the
// format named by ref
func decodeObject(body io.Reader, ref integration.SourceRef, maxSize int64) (*integration.RecordBatch, error) {
	format, err := ingest.ResolveFormat(ref.Key, ref.Format)
	if err != nil {
		return nil, err
	}

	// XLSX needs random access, so the object is buffered for every format.
	data, err := io.ReadAll(io.LimitReader(body, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref.Key, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrObjectTooLarge, ref.Key, maxSize)
	}
	return ingest.Decode(bytes.NewReader(data), format)
}
