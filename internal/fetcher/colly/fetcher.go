// Package collyfetcher implements the light HTTP fetch strategy using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-gen-crawler/internal/crawler"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	// UserAgents is the rotation pool; one entry is drawn per fetch.
	UserAgents []string
	// Timeout bounds a single fetch unless the request overrides it
	// with a shorter deadline.
	Timeout time.Duration
	// ProxyURL optionally routes requests through an HTTP(S) or SOCKS proxy.
	ProxyURL string
	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64
}

// Fetcher implements crawler.Fetcher using the Colly collector. One base
// collector carries the transport, proxy and timeout; every fetch clones it
// so per-request hooks never leak between calls. Clones share the base's
// HTTP backend, which is why all backend mutation happens once in New.
type Fetcher struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	// Robots enforcement happens in the policy layer before a fetch is
	// admitted; the collector must not second-guess it.
	c.IgnoreRobotsTxt = true
	// Error statuses must reach OnResponse so 4xx pages stay visible to
	// the caller instead of vanishing into a generic error.
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = int(cfg.MaxBodyBytes)
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.ProxyURL != "" {
		if err := c.SetProxy(cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	}

	return &Fetcher{
		cfg:    cfg,
		base:   c,
		logger: logger.Named("fetcher"),
	}, nil
}

// Fetch executes a single GET with a rotated User-Agent, following redirects.
// Responses below 500 (other than 408 and 429) return as data, whatever the
// status; 5xx and throttling statuses come back as retryable CrawlErrors that
// keep the genuine status and body.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	timeout := f.cfg.Timeout
	if request.Timeout > 0 && request.Timeout < timeout {
		timeout = request.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		captured crawler.FetchResponse
		seen     bool
	)
	start := time.Now()

	collector := f.base.Clone()
	collector.UserAgent = f.pickUserAgent()

	collector.OnRequest(func(r *colly.Request) {
		setBrowserHeaders(r)
	})
	collector.OnResponse(func(r *colly.Response) {
		captured = crawler.FetchResponse{
			URL:        request.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		seen = true
	})
	collector.OnError(func(_ *colly.Response, err error) {
		f.logger.Debug("visit failed", zap.String("url", request.URL), zap.Error(err))
	})

	if err := f.runCollector(ctx, collector, request.URL); err != nil {
		return crawler.FetchResponse{}, classifyFetchError(request.URL, err)
	}
	if !seen {
		return crawler.FetchResponse{}, &crawler.CrawlError{
			Kind: crawler.KindTransport,
			URL:  request.URL,
			Err:  errors.New("no response received"),
		}
	}
	if retryableStatus(captured.StatusCode) {
		return crawler.FetchResponse{}, &crawler.CrawlError{
			Kind:       crawler.KindHTTPStatus,
			URL:        request.URL,
			StatusCode: captured.StatusCode,
			Body:       captured.Body,
			FinalURL:   captured.FinalURL,
		}
	}
	return captured, nil
}

// runCollector drives Visit on its own goroutine so the caller's context can
// interrupt the wait. Colly has no context plumbing of its own; the timeout
// on the base collector bounds how long an orphaned visit can linger.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (f *Fetcher) pickUserAgent() string {
	if len(f.cfg.UserAgents) == 0 {
		return ""
	}
	return f.cfg.UserAgents[rand.IntN(len(f.cfg.UserAgents))]
}

// setBrowserHeaders fills in the header set a desktop browser would send, so
// the bare UA string is not the only fingerprint.
func setBrowserHeaders(r *colly.Request) {
	r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	r.Headers.Set("Upgrade-Insecure-Requests", "1")
}

// retryableStatus reports whether the status must surface as a transient
// failure rather than data: server errors plus the two throttling codes.
func retryableStatus(status int) bool {
	return status >= 500 ||
		status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests
}

// classifyFetchError wraps a transport-level failure in the engine's error
// taxonomy: deadline hits and net timeouts are KindTimeout, everything else
// on the wire is KindTransport.
func classifyFetchError(url string, err error) error {
	kind := crawler.KindTransport
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = crawler.KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = crawler.KindTimeout
	}
	return &crawler.CrawlError{Kind: kind, URL: url, Err: err}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
