package tagsink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalSink writes snapshot documents beneath a base directory on the local
// filesystem.
type LocalSink struct {
	basePath string
}

// NewLocalSink creates a LocalSink rooted at basePath, creating it if needed.
func NewLocalSink(basePath string) (*LocalSink, error) {
	if basePath == "" {
		basePath = "./mtag-snapshots"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("tagsink: create storage directory: %w", err)
	}
	return &LocalSink{basePath: basePath}, nil
}

// Write implements Sink by copying r into basePath/key, creating any
// intermediate directories the key implies.
func (s *LocalSink) Write(ctx context.Context, key string, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath := s.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("tagsink: create directory: %w", err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("tagsink: create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("tagsink: write file: %w", err)
	}
	return nil
}

// Read opens the object at key for reading.
func (s *LocalSink) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f, err := os.Open(s.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("tagsink: not found: %s", key)
		}
		return nil, fmt.Errorf("tagsink: open file: %w", err)
	}
	return f, nil
}

// Exists reports whether an object is present at key.
func (s *LocalSink) Exists(key string) bool {
	_, err := os.Stat(s.fullPath(key))
	return err == nil
}

// BasePath returns the sink's root directory.
func (s *LocalSink) BasePath() string {
	return s.basePath
}

func (s *LocalSink) fullPath(key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(s.basePath, key)
}
