package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a fetch failure for retry and result-mapping decisions.
type ErrorKind int

// Failure kinds, ordered roughly by where in the pipeline they arise.
const (
	KindUnknown ErrorKind = iota
	KindInvalidInput
	KindPolicyDenied
	KindTimeout
	KindTransport
	KindBrowser
	KindHTTPStatus
	KindInternal
)

// String returns a short label for logging and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindPolicyDenied:
		return "policy_denied"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindBrowser:
		return "browser"
	case KindHTTPStatus:
		return "http_status"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Sentinel errors surfaced by the engine's terminal (non-retryable) paths.
var (
	// ErrInvalidURL is returned for URLs without an http(s) scheme or host.
	ErrInvalidURL = errors.New("invalid url")
	// ErrRobotsDisallowed is returned when robots.txt forbids the target.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	// ErrDomainBlocked is returned when the configured blocklist forbids the target.
	ErrDomainBlocked = errors.New("domain is blocklisted")
	// ErrRendererDisabled is returned when a rendered fetch is requested from
	// an engine built without a renderer.
	ErrRendererDisabled = errors.New("rendered fetching is not enabled")
	// ErrCrawlerClosed is returned by Fetch after Close.
	ErrCrawlerClosed = errors.New("crawler is closed")
)

// CrawlError is the typed failure exchanged between the strategies, the retry
// layer, and the orchestrator. Only the orchestrator translates it into a
// FetchResult.
type CrawlError struct {
	Kind ErrorKind
	URL  string
	// StatusCode holds the genuine HTTP status for KindHTTPStatus failures.
	StatusCode int
	// Body optionally preserves the error-page body so exhausted 5xx retries
	// still surface the origin's content.
	Body []byte
	// FinalURL preserves redirect information gathered before the failure.
	FinalURL string
	Err      error
}

// Error implements the error interface.
func (e *CrawlError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *CrawlError) Unwrap() error {
	return e.Err
}

func newCrawlError(kind ErrorKind, url string, err error) *CrawlError {
	return &CrawlError{Kind: kind, URL: url, Err: err}
}

// KindOf extracts the ErrorKind from err, classifying plain network errors
// that escaped the strategies unwrapped.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidURL):
		return KindInvalidInput
	case errors.Is(err, ErrRobotsDisallowed), errors.Is(err, ErrDomainBlocked):
		return KindPolicyDenied
	case errors.Is(err, ErrRendererDisabled):
		return KindBrowser
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}
	return KindUnknown
}

// IsRetryable reports whether err belongs to the transient taxonomy class:
// timeouts, transport failures, browser failures, HTTP 5xx, and the two 4xx
// codes origins use for throttling (408, 429). Context cancellation is never
// retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Missing capability is a configuration state, not a transient fault.
	if errors.Is(err, ErrRendererDisabled) {
		return false
	}
	switch KindOf(err) {
	case KindTimeout, KindTransport, KindBrowser:
		return true
	case KindHTTPStatus:
		var ce *CrawlError
		if errors.As(err, &ce) {
			return ce.StatusCode >= 500 ||
				ce.StatusCode == http.StatusRequestTimeout ||
				ce.StatusCode == http.StatusTooManyRequests
		}
	}
	return false
}
