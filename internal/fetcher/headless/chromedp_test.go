package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/lead-gen-crawler/internal/crawler"
)

func newStubbedRenderer(t *testing.T, cfg Config) (*Renderer, *launchRecorder) {
	t.Helper()
	pool, rec := newStubbedPool(t)
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = 1
	}
	r, err := New(cfg, pool, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, rec
}

func TestNewRendererValidation(t *testing.T) {
	t.Parallel()

	pool, _ := newStubbedPool(t)
	if _, err := New(Config{MaxParallel: 0}, pool, nil); !errors.Is(err, crawler.ErrRendererDisabled) {
		t.Fatalf("zero parallelism must report the renderer disabled, got %v", err)
	}
	if _, err := New(Config{MaxParallel: 1}, nil, nil); err == nil {
		t.Fatal("expected an error without a pool")
	}
}

func TestRenderStubbedSuccess(t *testing.T) {
	t.Parallel()

	r, rec := newStubbedRenderer(t, Config{UserAgents: []string{"render-agent/1.0"}})
	var actionCount int
	r.runTasks = func(ctx context.Context, actions ...chromedp.Action) error {
		actionCount = len(actions)
		return nil
	}

	resp, err := r.Render(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rec.launches() != 1 {
		t.Fatalf("expected the browser launched once, got %d", rec.launches())
	}
	if !resp.Rendered {
		t.Fatal("rendered responses must be marked as such")
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected the 200 fallback without network events, got %d", resp.StatusCode)
	}
	if resp.FinalURL != "https://example.com" {
		t.Fatalf("expected the requested URL as fallback, got %q", resp.FinalURL)
	}
	if actionCount < 6 {
		t.Fatalf("expected the full navigation task list, got %d actions", actionCount)
	}
}

func TestRenderClassifiesFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		kind crawler.ErrorKind
	}{
		{"deadline", context.DeadlineExceeded, crawler.KindTimeout},
		{"crash", errors.New("target crashed"), crawler.KindBrowser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, _ := newStubbedRenderer(t, Config{})
			r.runTasks = func(context.Context, ...chromedp.Action) error {
				return tc.err
			}
			_, err := r.Render(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
			if crawler.KindOf(err) != tc.kind {
				t.Fatalf("expected %v, got %v (%v)", tc.kind, crawler.KindOf(err), err)
			}
			if !crawler.IsRetryable(err) {
				t.Fatalf("%s failures must be retryable", tc.name)
			}
		})
	}
}

func TestRenderAfterPoolShutdown(t *testing.T) {
	t.Parallel()

	r, _ := newStubbedRenderer(t, Config{})
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := r.Render(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	if !errors.Is(err, ErrBrowserClosed) {
		t.Fatalf("expected ErrBrowserClosed surfaced, got %v", err)
	}
	if crawler.KindOf(err) != crawler.KindBrowser {
		t.Fatalf("expected browser kind, got %v", crawler.KindOf(err))
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close must stay idempotent, got %v", err)
	}
}

func TestRenderSlotWaitTimesOut(t *testing.T) {
	t.Parallel()

	r, _ := newStubbedRenderer(t, Config{MaxParallel: 1})
	r.sem <- struct{}{} // occupy the only slot

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.Render(ctx, crawler.FetchRequest{URL: "https://example.com"})
	if crawler.KindOf(err) != crawler.KindTimeout {
		t.Fatalf("expected a timeout waiting for a slot, got %v (%v)", crawler.KindOf(err), err)
	}
}

func TestWaitDomainBudgetThrottlesSameHost(t *testing.T) {
	t.Parallel()

	r, _ := newStubbedRenderer(t, Config{DomainQPS: 20})
	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := r.waitDomainBudget(context.Background(), "https://example.com/page"); err != nil {
			t.Fatalf("waitDomainBudget: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected the second render spaced by the domain budget, elapsed %v", elapsed)
	}
}

func TestWaitDomainBudgetHonorsDeadline(t *testing.T) {
	t.Parallel()

	r, _ := newStubbedRenderer(t, Config{DomainQPS: 0.1})
	if err := r.waitDomainBudget(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.waitDomainBudget(ctx, "https://example.com"); err == nil {
		t.Fatal("expected an error when the budget cannot fit the deadline")
	}
}

func TestResponseMetaKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeStylesheet,
		Response: &network.Response{Status: 404, URL: "https://example.com/style.css"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 204,
			URL:    "https://example.com/rendered",
			Headers: network.Headers{
				"Content-Type": "text/html",
				"X-Multi":      []any{"a", "b"},
			},
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 500, URL: "https://example.com/iframe"},
	})

	status, headers, finalURL := meta.snapshot("https://req", "")
	if status != 204 || finalURL != "https://example.com/rendered" {
		t.Fatalf("unexpected snapshot: status=%d url=%s", status, finalURL)
	}
	if headers.Get("Content-Type") != "text/html" {
		t.Fatalf("expected headers flattened, got %v", headers)
	}
	if got := headers.Values("X-Multi"); len(got) != 2 {
		t.Fatalf("expected multi-value header preserved, got %v", got)
	}
}

func TestResponseMetaFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeDocument})

	status, _, finalURL := meta.snapshot("https://req", "https://final")
	if status != http.StatusOK || finalURL != "https://final" {
		t.Fatalf("expected fallbacks, got status=%d url=%s", status, finalURL)
	}
	_, _, finalURL = meta.snapshot("https://req", "")
	if finalURL != "https://req" {
		t.Fatalf("expected the request URL as last fallback, got %s", finalURL)
	}
}

func TestRandomViewportBounds(t *testing.T) {
	t.Parallel()

	for i := 0; i < 64; i++ {
		width, height := randomViewport()
		if width < 1280 || width > 1920 {
			t.Fatalf("width out of bounds: %d", width)
		}
		if height < 720 || height > 1080 {
			t.Fatalf("height out of bounds: %d", height)
		}
	}
}

func TestNilRenderer(t *testing.T) {
	t.Parallel()

	var r *Renderer
	if _, err := r.Render(context.Background(), crawler.FetchRequest{}); !errors.Is(err, crawler.ErrRendererDisabled) {
		t.Fatalf("expected ErrRendererDisabled, got %v", err)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("nil Close must be a no-op, got %v", err)
	}
}
