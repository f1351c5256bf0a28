package crawler

import (
	"context"
	"time"
)

// Fetcher is the lightweight HTTP fetch strategy.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Renderer is the headless-browser fetch strategy. Implementations own their
// browser resources; Close must be idempotent.
type Renderer interface {
	Render(ctx context.Context, req FetchRequest) (FetchResponse, error)
	Close(ctx context.Context) error
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// systemClock is the wall-clock fallback used when no Clock is injected.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// IDGenerator produces run and lead IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes content digests for deduplication and snapshot keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}
