// Package archive defines the blob store used to keep raw page snapshots.
// The abstraction keeps the pipeline independent of a specific backend
// (e.g., Google Cloud Storage, the local filesystem, or process memory).
package archive

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
)

// BlobStore persists immutable page snapshots.
type BlobStore interface {
	// Put stores the content under key and returns a URI locating it.
	Put(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
}

// SnapshotKey returns the object key for a page snapshot. Keys group captures
// by domain, and the URL is hashed so the key stays safe for both object
// stores and filesystems regardless of what the URL contains.
func SnapshotKey(domain, rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("%s/%x.html", domain, sum)
}

// NoopStore is a blob store that discards all snapshots. It is useful for
// dry runs where pages are fetched but nothing should be archived.
type NoopStore struct{}

// NewNoopStore creates a discarding blob store.
func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

// Put for NoopStore discards the content and returns an empty URI.
func (n *NoopStore) Put(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}
