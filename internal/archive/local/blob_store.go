// Package local archives page snapshots on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// defaultMaxBytes caps a single snapshot when the config does not set a limit.
const defaultMaxBytes = 10 << 20

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where snapshots are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// MaxBytes rejects snapshots larger than this size. Zero means the
	// default limit.
	MaxBytes int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
}

// BlobStore writes snapshots under a base directory and returns file:// URIs.
type BlobStore struct {
	baseDir  string
	maxBytes int64
}

// New creates a local filesystem-backed blob store, creating the base
// directory if it does not exist.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("base directory path is not a directory")
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat base directory: %w", err)
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &BlobStore{
		baseDir:  filepath.Clean(cfg.BaseDir),
		maxBytes: maxBytes,
	}, nil
}

// Put writes the content to a file under the base directory and returns a
// file:// URI. Keys that escape the base directory are rejected.
func (s *BlobStore) Put(_ context.Context, key string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}

	fullPath := filepath.Clean(filepath.Join(s.baseDir, key))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("key escapes the base directory")
	}

	content, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read snapshot content: %w", err)
	}
	if int64(len(content)) > s.maxBytes {
		return "", fmt.Errorf("snapshot exceeds %d byte limit", s.maxBytes)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return "file://" + fullPath, nil
}
