// Package boundary loads district boundary documents from a file or S3.
package boundary

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Source yields the raw GeoJSON boundary document.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
	String() string
}

// maxDocument caps a boundary document read from any source.
const maxDocument = 64 << 20

type File struct {
	Path string
}

func (f File) Load(_ context.Context) ([]byte, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open boundaries: %w", err)
	}
	defer func() { _ = fh.Close() }()
	return readAll(fh)
}

func (f File) String() string { return "file:" + f.Path }

func readAll(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxDocument+1))
	if err != nil {
		return nil, fmt.Errorf("read boundaries: %w", err)
	}
	if len(b) > maxDocument {
		return nil, fmt.Errorf("boundaries larger than %d bytes", maxDocument)
	}
	return b, nil
}
