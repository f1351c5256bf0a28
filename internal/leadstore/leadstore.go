// Package leadstore persists extracted leads. Three providers cover the
// deployment spread: in-memory for tests and dry runs, SQLite for the default
// single-binary setup, and Postgres for shared installations.
package leadstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Lead is one crawled site's extraction outcome, keyed by the seed URL.
type Lead struct {
	ID          string
	URL         string
	FinalURL    string
	Domain      string
	Company     string
	Emails      []string
	Phones      []string
	Social      []string
	StatusCode  int
	CaptchaFlag bool
	ContentHash string
	SnapshotURI string
	FetchedAt   time.Time
}

// ErrNotFound is returned when no lead exists for the given key.
var ErrNotFound = errors.New("lead not found")

// Store persists leads. Save is an upsert keyed by URL: refetching a seed
// replaces the row's contents while the originally assigned ID is retained.
type Store interface {
	Save(ctx context.Context, lead Lead) error
	GetByURL(ctx context.Context, url string) (Lead, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

func validateLead(lead Lead) error {
	if lead.ID == "" {
		return fmt.Errorf("lead id is required")
	}
	if lead.URL == "" {
		return fmt.Errorf("lead url is required")
	}
	return nil
}

// marshalList encodes a string list as JSON, mapping nil to the empty list so
// stored columns never hold SQL NULLs.
func marshalList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(data), nil
}

func unmarshalList(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("unmarshal list: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}
