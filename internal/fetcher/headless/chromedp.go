// Package headless implements the rendered fetch strategy: pages are loaded
// in a real Chrome instance driven over the DevTools protocol, so script-built
// markup is present in the returned body.
package headless

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/lead-gen-crawler/internal/crawler"
)

const (
	defaultRenderTimeout = 60 * time.Second
	defaultSettleDelay   = 500 * time.Millisecond
)

// stealthScript runs before any page script and hides the obvious automation
// tells: the webdriver flag, the missing chrome runtime object, and the empty
// plugin and language lists headless Chrome ships with.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = window.chrome || {runtime: {}};
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
`

// Config controls the behavior of the rendered fetch strategy.
type Config struct {
	// UserAgents is the rotation pool; one entry is drawn per fetch.
	UserAgents []string
	// Timeout bounds a render unless the request carries a shorter deadline.
	Timeout time.Duration
	// MaxParallel caps concurrent renders; zero disables the strategy.
	MaxParallel int
	// DomainQPS throttles renders per domain on top of the engine-wide
	// politeness delays; zero disables the extra throttle.
	DomainQPS float64
	// SettleDelay is the pause after body-ready that lets late scripts
	// finish mutating the DOM before it is captured.
	SettleDelay time.Duration
}

// Renderer implements crawler.Renderer on a pooled Chrome instance. Every
// fetch runs in its own browser context, so cookies, storage and cache never
// leak between targets.
type Renderer struct {
	cfg      Config
	pool     *BrowserPool
	logger   *zap.Logger
	sem      chan struct{}
	limiters sync.Map // domain -> *rate.Limiter

	// runTasks is chromedp.Run, swappable in tests.
	runTasks func(ctx context.Context, actions ...chromedp.Action) error
}

// New builds a Renderer on pool. A zero MaxParallel reports the strategy as
// disabled so callers can fall back to light-only crawling.
func New(cfg Config, pool *BrowserPool, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel <= 0 {
		return nil, crawler.ErrRendererDisabled
	}
	if pool == nil {
		return nil, errors.New("headless: a BrowserPool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRenderTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	return &Renderer{
		cfg:      cfg,
		pool:     pool,
		logger:   logger.Named("renderer"),
		sem:      make(chan struct{}, cfg.MaxParallel),
		runTasks: chromedp.Run,
	}, nil
}

// Render loads the page with JavaScript enabled and returns the settled DOM.
// Statuses below 500 (other than 408 and 429) return as data; server errors
// and throttling statuses come back as retryable CrawlErrors, mirroring the
// light strategy.
func (r *Renderer) Render(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if r == nil {
		return crawler.FetchResponse{}, crawler.ErrRendererDisabled
	}

	release, err := r.acquireSlot(ctx)
	if err != nil {
		return crawler.FetchResponse{}, classifyRenderError(request.URL, err)
	}
	defer release()

	if err := r.waitDomainBudget(ctx, request.URL); err != nil {
		return crawler.FetchResponse{}, classifyRenderError(request.URL, err)
	}

	browserCtx, err := r.pool.Acquire(ctx)
	if err != nil {
		return crawler.FetchResponse{}, classifyRenderError(request.URL, err)
	}

	timeout := r.cfg.Timeout
	if request.Timeout > 0 && request.Timeout < timeout {
		timeout = request.Timeout
	}

	// A fresh browser context per fetch: new cookie jar, cache and storage,
	// all discarded when the tab closes.
	tabCtx, cancelTab := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, navigatedURL, err := r.navigate(taskCtx, request.URL)
	if err != nil {
		return crawler.FetchResponse{}, classifyRenderError(request.URL, err)
	}

	status, headers, finalURL := meta.snapshot(request.URL, navigatedURL)
	if retryableStatus(status) {
		return crawler.FetchResponse{}, &crawler.CrawlError{
			Kind:       crawler.KindHTTPStatus,
			URL:        request.URL,
			StatusCode: status,
			Body:       []byte(html),
			FinalURL:   finalURL,
		}
	}
	return crawler.FetchResponse{
		URL:        request.URL,
		FinalURL:   finalURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Rendered:   true,
		Duration:   time.Since(start),
	}, nil
}

// Close shuts down the underlying browser pool. Safe to call more than once.
func (r *Renderer) Close(_ context.Context) error {
	if r == nil {
		return nil
	}
	return r.pool.Shutdown()
}

func (r *Renderer) navigate(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		location string
	)
	width, height := randomViewport()

	actions := []chromedp.Action{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	}
	if ua := r.pickUserAgent(); ua != "" {
		actions = append(actions, emulation.SetUserAgentOverride(ua))
	}
	actions = append(actions,
		chromedp.EmulateViewport(width, height),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := r.runTasks(ctx, actions...); err != nil {
		return "", "", err
	}
	return html, location, nil
}

func (r *Renderer) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (r *Renderer) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.cfg.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("render rate limit: %w", err)
	}
	return nil
}

func (r *Renderer) pickUserAgent() string {
	if len(r.cfg.UserAgents) == 0 {
		return ""
	}
	return r.cfg.UserAgents[rand.IntN(len(r.cfg.UserAgents))]
}

// randomViewport varies the window size per fetch within common desktop
// bounds so renders do not all share one screen fingerprint.
func randomViewport() (int64, int64) {
	width := int64(1280 + rand.IntN(641))
	height := int64(720 + rand.IntN(361))
	return width, height
}

// forwardCancel propagates the caller's cancellation into the render task
// without tying the tab context's lifetime to the caller's context tree.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// classifyRenderError maps a render failure onto the error taxonomy:
// deadline expiry (ours or the caller's) is a timeout, everything else that
// escapes Chrome is a browser failure.
func classifyRenderError(url string, err error) error {
	kind := crawler.KindBrowser
	if errors.Is(err, context.DeadlineExceeded) {
		kind = crawler.KindTimeout
	}
	return &crawler.CrawlError{Kind: kind, URL: url, Err: err}
}

func retryableStatus(status int) bool {
	return status >= 500 ||
		status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests
}

type responseMeta struct {
	once    sync.Once
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

// captureEvent records the main document response. Subresource traffic and
// later in-page navigations arrive on the same listener and must not
// overwrite it.
func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.once.Do(func() {
		m.status = int(resp.Response.Status)
		m.url = resp.Response.URL
		for key, value := range resp.Response.Headers {
			switch v := value.(type) {
			case string:
				m.headers.Add(key, v)
			case []any:
				for _, entry := range v {
					m.headers.Add(key, fmt.Sprint(entry))
				}
			default:
				m.headers.Add(key, fmt.Sprint(v))
			}
		}
	})
}

// snapshot returns the captured response facts, falling back to the
// JS-visible location and an assumed 200 when no network event fired
// (interrupted loads, about: pages).
func (m *responseMeta) snapshot(requestURL, navigatedURL string) (int, http.Header, string) {
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	finalURL := m.url
	if finalURL == "" {
		finalURL = navigatedURL
	}
	if finalURL == "" {
		finalURL = requestURL
	}
	return status, m.headers, finalURL
}
