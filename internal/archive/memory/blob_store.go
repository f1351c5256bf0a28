// Package memory stores page snapshots in process memory for tests and
// development runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// BlobStore keeps snapshot content in a map and returns memory:// URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Put stores the content under key.
func (s *BlobStore) Put(_ context.Context, key string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read snapshot content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = content
	return "memory://" + key, nil
}

// Get returns a copy of the stored content for key.
func (s *BlobStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), content...), true
}

// Len reports how many snapshots are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
