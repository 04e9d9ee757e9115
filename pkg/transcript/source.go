package transcript

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxBytes caps how much of an uploaded file is read.
const DefaultMaxBytes = 10 << 20

// Source loads the bytes of an uploaded file.
type Source interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// LocalFiles reads uploads from the local filesystem. Relative paths are
// resolved against Root and may not escape it.
type LocalFiles struct {
	Root     string
	MaxBytes int64
}

// ReadFile implements Source.
func (l LocalFiles) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open transcript file: %w", err)
	}
	defer f.Close()

	limit := l.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read transcript file: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("transcript file %s exceeds %d bytes", filepath.Base(full), limit)
	}
	return data, nil
}

func (l LocalFiles) resolve(path string) (string, error) {
	path = strings.TrimPrefix(path, "file://")
	if filepath.IsAbs(path) || l.Root == "" {
		return filepath.Clean(path), nil
	}
	full := filepath.Join(l.Root, path)
	rel, err := filepath.Rel(l.Root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("transcript path %q escapes upload root", path)
	}
	return full, nil
}
