// Package publisher defines the interface for emitting lead events to a
// message queue. The abstraction allows the application to be independent of
// a specific broker (e.g., GCP Pub/Sub in production, memory in tests).
package publisher

import "context"

// Publisher sends lead events to a named topic.
type Publisher interface {
	// Publish marshals the payload and sends it to the topic, returning the
	// broker-assigned message ID.
	Publish(ctx context.Context, topic string, payload any) (string, error)

	// Close flushes pending messages and releases broker connections.
	Close() error
}

// LeadEvent is the payload published after a lead has been persisted.
type LeadEvent struct {
	LeadID     string `json:"lead_id"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
}

// NoopPublisher is a publisher that performs no operations. It is useful for
// running the pipeline without a message queue configured.
type NoopPublisher struct{}

// NewNoopPublisher creates a discarding publisher.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

// Publish for NoopPublisher does nothing and returns an empty ID.
func (n *NoopPublisher) Publish(_ context.Context, _ string, _ any) (string, error) {
	return "", nil
}

// Close for NoopPublisher does nothing and returns nil.
func (n *NoopPublisher) Close() error { return nil }
