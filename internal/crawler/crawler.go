package crawler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Options bundles the engine's collaborators. Fetcher is required; every
// other collaborator left nil is built from Config (or, for Renderer, left
// absent, which makes rendered fetches fail explicitly).
type Options struct {
	Config    Config
	Logger    *zap.Logger
	Fetcher   Fetcher
	Renderer  Renderer
	Robots    *RobotsPolicy
	Limiter   *DomainRateLimiter
	Blocklist *Blocklist
	Clock     Clock
}

// Crawler orchestrates respectful fetching: URL validation, blocklist and
// robots.txt checks, per-domain rate limiting, strategy selection, bounded
// retries, and translation of every failure into a FetchResult. Fetch never
// panics and never returns an error.
type Crawler struct {
	cfg       Config
	logger    *zap.Logger
	fetcher   Fetcher
	renderer  Renderer
	robots    *RobotsPolicy
	limiter   *DomainRateLimiter
	blocklist *Blocklist
	policy    RetryPolicy
	clock     Clock

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New builds a Crawler from opts.
func New(opts Options) (*Crawler, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Fetcher == nil {
		return nil, errors.New("crawler: a Fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewDomainRateLimiter(RateLimitConfig{
			MinDelay:          opts.Config.MinDelayPerDomain,
			MaxDelay:          opts.Config.MaxDelayPerDomain,
			PerDomain:         opts.Config.MaxConcurrentPerDomain,
			MaxTrackedDomains: opts.Config.MaxTrackedDomains,
		}, clock, logger)
	}
	robots := opts.Robots
	if robots == nil && opts.Config.RespectRobots {
		robots = NewRobotsPolicy(RobotsConfig{
			CacheSize:      opts.Config.RobotsCacheSize,
			CheckUserAgent: opts.Config.RobotsCheckUserAgent,
			FetchTimeout:   opts.Config.RobotsFetchTimeout,
			UserAgent:      opts.Config.RobotsFetchUserAgent,
		}, nil, logger)
	}
	blocklist := opts.Blocklist
	if blocklist == nil {
		blocklist = NewBlocklist(opts.Config.BlockedDomains)
	}
	return &Crawler{
		cfg:       opts.Config,
		logger:    logger.Named("crawler"),
		fetcher:   opts.Fetcher,
		renderer:  opts.Renderer,
		robots:    robots,
		limiter:   limiter,
		blocklist: blocklist,
		policy:    opts.Config.RetryPolicy(),
		clock:     clock,
	}, nil
}

// CanRender reports whether the engine was built with a rendering strategy.
func (c *Crawler) CanRender() bool { return c.renderer != nil }

// Fetch retrieves rawURL with the selected strategy and returns a uniform
// result. Requesting a rendered fetch without a renderer bound fails with the
// browser synthetic code rather than degrading to a light fetch.
func (c *Crawler) Fetch(ctx context.Context, rawURL string, rendered bool) (result FetchResult) {
	start := c.clock.Now()
	defer func() {
		fetchesTotal.WithLabelValues(transportLabel(rendered), outcomeLabel(result.StatusCode)).Inc()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("fetch panicked",
				zap.String("url", rawURL),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			result = c.terminal(rawURL, StatusInternalError, rendered, 0, start)
		}
	}()

	if c.closed.Load() {
		c.logger.Warn("fetch after close", zap.String("url", rawURL))
		return c.terminal(rawURL, StatusInternalError, rendered, 0, start)
	}
	target, err := ParseTarget(rawURL)
	if err != nil {
		c.logger.Warn("rejected url", zap.String("url", rawURL), zap.Error(err))
		return c.terminal(rawURL, StatusInvalidURL, rendered, 0, start)
	}
	if rendered && c.renderer == nil {
		c.logger.Warn("rendered fetch requested without a renderer", zap.String("url", rawURL))
		return c.terminal(rawURL, StatusBrowserError, rendered, 0, start)
	}

	domain := DomainOf(target)
	if c.blocklist.Blocked(domain) {
		c.logger.Info("domain blocklisted", zap.String("url", rawURL), zap.String("domain", domain))
		return c.terminal(rawURL, StatusPolicyDenied, rendered, 0, start)
	}
	if c.robots != nil && !c.robots.Allowed(ctx, target) {
		c.logger.Info("disallowed by robots.txt", zap.String("url", rawURL), zap.String("domain", domain))
		return c.terminal(rawURL, StatusPolicyDenied, rendered, 0, start)
	}

	release, err := c.limiter.Acquire(ctx, domain)
	if err != nil {
		status := StatusInternalError
		if errors.Is(err, context.DeadlineExceeded) {
			status = StatusFetchTimeout
		}
		c.logger.Warn("gave up waiting for domain permit",
			zap.String("url", rawURL),
			zap.String("domain", domain),
			zap.Error(err),
		)
		return c.terminal(rawURL, status, rendered, 0, start)
	}
	defer release()

	req := FetchRequest{URL: target.String(), Rendered: rendered, Timeout: c.attemptTimeout(rendered)}
	var resp FetchResponse
	attempts := 0
	op := func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, req.Timeout)
		defer cancel()
		var ferr error
		if rendered {
			resp, ferr = c.renderer.Render(attemptCtx, req)
		} else {
			resp, ferr = c.fetcher.Fetch(attemptCtx, req)
		}
		return ferr
	}
	err = Retry(ctx, c.policy, c.logger.With(zap.String("url", req.URL)), IsRetryable, op)
	if err != nil {
		return c.fromError(req.URL, err, rendered, attempts, start)
	}
	return c.fromResponse(req.URL, resp, rendered, attempts, start)
}

// Close releases the engine's resources. It is idempotent; subsequent Fetch
// calls report an internal failure.
func (c *Crawler) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.robots != nil {
			c.robots.Reset()
		}
		if c.renderer != nil {
			c.closeErr = c.renderer.Close(ctx)
		}
		c.logger.Info("crawler closed")
	})
	return c.closeErr
}

func (c *Crawler) attemptTimeout(rendered bool) time.Duration {
	if rendered {
		return c.cfg.RenderTimeout
	}
	return c.cfg.RequestTimeout
}

// terminal builds a body-less result for failures that happen before or
// instead of a fetch attempt.
func (c *Crawler) terminal(rawURL string, status int, rendered bool, attempts int, start time.Time) FetchResult {
	return FetchResult{
		StatusCode: status,
		FinalURL:   rawURL,
		Rendered:   rendered,
		Attempts:   attempts,
		Duration:   c.clock.Now().Sub(start),
	}
}

// fromResponse converts a strategy response into the caller-facing result and
// runs the anti-bot scan over the body.
func (c *Crawler) fromResponse(requested string, resp FetchResponse, rendered bool, attempts int, start time.Time) FetchResult {
	finalURL := resp.FinalURL
	if finalURL == "" {
		finalURL = requested
	}
	result := FetchResult{
		Body:       resp.Body,
		StatusCode: resp.StatusCode,
		FinalURL:   finalURL,
		Headers:    resp.Headers,
		Rendered:   rendered,
		Attempts:   attempts,
		Duration:   c.clock.Now().Sub(start),
	}
	c.scanForChallenge(&result)
	c.logger.Info("fetch complete",
		zap.String("url", requested),
		zap.String("final_url", result.FinalURL),
		zap.Int("status", result.StatusCode),
		zap.Int("attempts", attempts),
		zap.Bool("rendered", rendered),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// fromError translates the last real failure of the retry loop into the
// matching synthetic (or pass-through) status code.
func (c *Crawler) fromError(requested string, err error, rendered bool, attempts int, start time.Time) FetchResult {
	result := FetchResult{
		FinalURL: requested,
		Rendered: rendered,
		Attempts: attempts,
		Duration: c.clock.Now().Sub(start),
	}
	var ce *CrawlError
	if errors.As(err, &ce) && ce.FinalURL != "" {
		result.FinalURL = ce.FinalURL
	}
	switch KindOf(err) {
	case KindInvalidInput:
		result.StatusCode = StatusInvalidURL
	case KindPolicyDenied:
		result.StatusCode = StatusPolicyDenied
	case KindTimeout:
		result.StatusCode = StatusFetchTimeout
	case KindTransport:
		result.StatusCode = StatusTransportError
	case KindBrowser:
		result.StatusCode = StatusBrowserError
	case KindHTTPStatus:
		if ce != nil {
			result.StatusCode = ce.StatusCode
			result.Body = ce.Body
		} else {
			result.StatusCode = StatusInternalError
		}
	default:
		result.StatusCode = StatusInternalError
	}
	c.scanForChallenge(&result)
	c.logger.Warn("fetch failed",
		zap.String("url", requested),
		zap.Int("status", result.StatusCode),
		zap.Int("attempts", attempts),
		zap.Bool("rendered", rendered),
		zap.Duration("duration", result.Duration),
		zap.Error(err),
	)
	return result
}

// scanForChallenge flags results whose body matches the anti-bot markers.
// Error pages are scanned too: hosted challenge walls often arrive as 403 or
// 503 documents.
func (c *Crawler) scanForChallenge(result *FetchResult) {
	if !DetectCaptcha(result.Body, c.cfg.CaptchaMarkers, c.cfg.CaptchaScanBytes) {
		return
	}
	result.CaptchaSuspected = true
	captchaFlagsTotal.Inc()
	c.logger.Warn("challenge markers detected",
		zap.String("final_url", result.FinalURL),
		zap.Int("status", result.StatusCode),
	)
}

func transportLabel(rendered bool) string {
	if rendered {
		return "rendered"
	}
	return "light"
}

// outcomeLabel folds a result code into a low-cardinality metric label.
func outcomeLabel(status int) string {
	switch status {
	case StatusInvalidURL:
		return "invalid_url"
	case StatusInternalError:
		return "internal_error"
	case StatusBrowserError:
		return "browser_error"
	case StatusTransportError:
		return "transport_error"
	}
	switch {
	case status >= 200 && status < 300:
		return "success"
	case status >= 300 && status < 400:
		return "redirect"
	case status >= 400 && status < 500:
		return "client_error"
	case status >= 500:
		return "server_error"
	default:
		return "unknown"
	}
}
