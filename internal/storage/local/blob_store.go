// Package local archives fetched pages on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/clinic-crawler/internal/hash/sha256"
	"github.com/JakeFAU/clinic-crawler/internal/metrics"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts beneath a base directory.
type BlobStore struct {
	baseDir string
}

// New creates the base directory if needed and checks that it is writable.
func New(cfg Config) (*BlobStore, error) {
	baseDir := strings.TrimSpace(cfg.BaseDir)
	if baseDir == "" {
		return nil, errors.New("base directory is required")
	}

	info, err := os.Stat(baseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory %q is not a directory", baseDir)
	}

	probe, err := os.CreateTemp(baseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("remove write probe: %w", err)
	}

	return &BlobStore{baseDir: filepath.Clean(baseDir)}, nil
}

// PutObject writes data at key (a slash-separated path relative to the base
// directory) and returns a file:// URI. Keys may not escape the base.
func (s *BlobStore) PutObject(_ context.Context, key string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("key is required")
	}

	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes base directory", key)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return "file://" + filepath.ToSlash(fullPath), nil
}

// PageArchive stores page bodies under content-addressed keys. It satisfies
// crawler.SnapshotStore.
type PageArchive struct {
	store  *BlobStore
	hasher *sha256.Hasher
}

// NewPageArchive opens (creating if needed) an archive rooted at dir.
func NewPageArchive(dir string) (*PageArchive, error) {
	store, err := New(Config{BaseDir: dir})
	if err != nil {
		return nil, err
	}
	return &PageArchive{store: store, hasher: sha256.New()}, nil
}

// Save writes body to pages/<sha256>.html and returns its URI.
func (a *PageArchive) Save(ctx context.Context, pageURL string, body []byte) (string, error) {
	uri, err := a.store.PutObject(ctx, a.hasher.PageKey(body), body)
	if err != nil {
		metrics.ObserveSnapshot("error")
		return "", fmt.Errorf("snapshot %s: %w", pageURL, err)
	}
	metrics.ObserveSnapshot("ok")
	return uri, nil
}
