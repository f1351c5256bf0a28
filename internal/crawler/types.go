package crawler

import (
	"net/http"
	"time"
)

// Synthetic status codes used by FetchResult for non-HTTP outcomes. Genuine
// origin codes pass through unchanged; these occupy values real origins do
// not produce so callers can always tell the two apart.
const (
	// StatusInvalidURL marks input that never reached the network.
	StatusInvalidURL = 0
	// StatusPolicyDenied is reported when robots.txt or the blocklist forbids the target.
	StatusPolicyDenied = http.StatusForbidden
	// StatusFetchTimeout is reported when a strategy timed out after all retries.
	StatusFetchTimeout = http.StatusRequestTimeout
	// StatusInternalError marks an unexpected internal failure.
	StatusInternalError = 597
	// StatusBrowserError marks a rendered-fetch (browser-layer) failure.
	StatusBrowserError = 598
	// StatusTransportError marks a connection/transport-layer failure.
	StatusTransportError = 599
)

// FetchRequest captures one fetch invocation.
type FetchRequest struct {
	URL string
	// Rendered selects the headless-browser strategy instead of the plain
	// HTTP client.
	Rendered bool
	// Timeout overrides the configured per-strategy timeout when > 0.
	Timeout time.Duration
}

// FetchResponse is the raw result a fetch strategy hands to the orchestrator.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Rendered   bool
	Duration   time.Duration
}

// FetchResult is the uniform, caller-facing outcome of Crawler.Fetch. It is
// returned by value and never accompanied by an error: failures are encoded
// in StatusCode (see the synthetic code constants). Body is nil for synthetic
// failures; a genuine HTTP error that exhausted its retries keeps the
// origin's final error page.
type FetchResult struct {
	// Body holds the page content; nil means no content was obtained.
	Body []byte
	// StatusCode is either the genuine HTTP status or a synthetic code.
	StatusCode int
	// FinalURL is the post-redirect (or post-navigation) URL. It echoes the
	// requested URL when no redirect information is available.
	FinalURL string
	// Headers are the response headers of the final document, when known.
	Headers http.Header
	// CaptchaSuspected reports whether the anti-bot keyword scan matched.
	// It is observational and never alters the fetch outcome.
	CaptchaSuspected bool
	// Rendered reports which strategy produced the result.
	Rendered bool
	// Attempts counts tries made by the retry layer (1 on first-try success).
	Attempts int
	// Duration is the wall time of the whole Fetch call, politeness waits
	// included.
	Duration time.Duration
}

// OK reports whether the result carries a 2xx response.
func (r FetchResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
