package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

var _ integration.RecordSource = (*FileRecordSource)(nil)

// FileRecordSource reads record files from the local filesystem. With an
// empty root, keys are plain paths; otherwise keys must stay inside root.
type FileRecordSource struct {
	root    string
	maxSize int64
}

// NewFileRecordSource creates a filesystem record source
func NewFileRecordSource(root string) *FileRecordSource {
	return &FileRecordSource{root: root, maxSize: DefaultMaxObjectSize}
}

func (s *FileRecordSource) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if s.root == "" {
		return key, nil
	}
	if !filepath.IsLocal(key) {
		return "", fmt.Errorf("%w: %q escapes the source root", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, key), nil
}

// Fetch opens and decodes one file
func (s *FileRecordSource) Fetch(ctx context.Context, ref integration.SourceRef) (*integration.RecordBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(ref.Key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()
	return decodeObject(f, ref, s.maxSize)
}
