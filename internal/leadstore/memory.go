package leadstore

import (
	"context"
	"sync"
)

// Memory is the in-process Store used by tests and dry runs.
type Memory struct {
	mu    sync.RWMutex
	byURL map[string]Lead
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{byURL: make(map[string]Lead)}
}

// Save upserts the lead, keeping the first stored ID for its URL.
func (m *Memory) Save(_ context.Context, lead Lead) error {
	if err := validateLead(lead); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byURL[lead.URL]; ok {
		lead.ID = prev.ID
	}
	m.byURL[lead.URL] = cloneLead(lead)
	return nil
}

// GetByURL returns the lead stored for url, or ErrNotFound.
func (m *Memory) GetByURL(_ context.Context, url string) (Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lead, ok := m.byURL[url]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return cloneLead(lead), nil
}

// Count returns the number of stored leads.
func (m *Memory) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.byURL)), nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func cloneLead(lead Lead) Lead {
	lead.Emails = append([]string(nil), lead.Emails...)
	lead.Phones = append([]string(nil), lead.Phones...)
	lead.Social = append([]string(nil), lead.Social...)
	return lead
}
