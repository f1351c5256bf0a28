package crawler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req FetchRequest) (FetchResponse, error)
}

func (s *stubFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call, req)
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubRenderer struct {
	stubFetcher
	closes atomic.Int32
}

func (s *stubRenderer) Render(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	return s.Fetch(ctx, req)
}

func (s *stubRenderer) Close(context.Context) error {
	s.closes.Add(1)
	return nil
}

func okResponse(req FetchRequest) (FetchResponse, error) {
	return FetchResponse{
		URL:        req.URL,
		FinalURL:   req.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte("<html><body>hello</body></html>"),
	}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinDelayPerDomain = 0
	cfg.MaxDelayPerDomain = 0
	cfg.RetryBaseDelay = 0
	cfg.RespectRobots = false
	cfg.RequestTimeout = 2 * time.Second
	cfg.RenderTimeout = 2 * time.Second
	return cfg
}

func newTestCrawler(t *testing.T, opts Options) *Crawler {
	t.Helper()
	if opts.Config.RequestTimeout == 0 {
		opts.Config = testConfig()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestFetchSuccessPassesResponseThrough(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		resp, _ := okResponse(req)
		resp.FinalURL = "https://example.com/landing"
		return resp, nil
	}}
	c := newTestCrawler(t, Options{Fetcher: fetcher})

	res := c.Fetch(context.Background(), "https://example.com/start", false)
	assert.True(t, res.OK())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "https://example.com/landing", res.FinalURL)
	assert.Equal(t, []byte("<html><body>hello</body></html>"), res.Body)
	assert.Equal(t, "text/html", res.Headers.Get("Content-Type"))
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Rendered)
	assert.False(t, res.CaptchaSuspected)
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(call int, req FetchRequest) (FetchResponse, error) {
		if call == 1 {
			return FetchResponse{}, newCrawlError(KindTransport, req.URL, errors.New("connection reset"))
		}
		return okResponse(req)
	}}
	c := newTestCrawler(t, Options{Fetcher: fetcher})

	res := c.Fetch(context.Background(), "https://example.com/", false)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 2, res.Attempts)
}

func TestFetchExhaustedRetriesKeepGenuineStatus(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return FetchResponse{}, &CrawlError{
			Kind:       KindHTTPStatus,
			URL:        req.URL,
			StatusCode: http.StatusServiceUnavailable,
			Body:       []byte("upstream sad"),
		}
	}}
	c := newTestCrawler(t, Options{Fetcher: fetcher})

	res := c.Fetch(context.Background(), "https://example.com/", false)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	// Default budget: three retries on top of the first try.
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, fetcher.callCount())
	assert.Equal(t, []byte("upstream sad"), res.Body)
	assert.False(t, res.OK())
}

func TestFetchClientErrorIsDataNotFailure(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound, Body: []byte("gone")}, nil
	}}
	c := newTestCrawler(t, Options{Fetcher: fetcher})

	res := c.Fetch(context.Background(), "https://example.com/missing", false)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []byte("gone"), res.Body)
}

func TestFetchInvalidURL(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return okResponse(req)
	}}
	c := newTestCrawler(t, Options{Fetcher: fetcher})

	for _, raw := range []string{"", "   ", "ftp://example.com", "not a url at all"} {
		res := c.Fetch(context.Background(), raw, false)
		assert.Equal(t, StatusInvalidURL, res.StatusCode, raw)
		assert.Zero(t, res.Attempts, raw)
		assert.Nil(t, res.Body, raw)
	}
	assert.Zero(t, fetcher.callCount())
}

func TestFetchBlockedDomain(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return okResponse(req)
	}}
	cfg := testConfig()
	cfg.BlockedDomains = []string{"blocked.test"}
	c := newTestCrawler(t, Options{Config: cfg, Fetcher: fetcher})

	res := c.Fetch(context.Background(), "https://sub.blocked.test/page", false)
	assert.Equal(t, StatusPolicyDenied, res.StatusCode)
	assert.Zero(t, res.Attempts)
	assert.Zero(t, fetcher.callCount())
}

func TestFetchRobotsDenied(t *testing.T) {
	t.Parallel()

	srv, _ := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /private\n")
	robots := NewRobotsPolicy(RobotsConfig{FetchTimeout: 2 * time.Second}, srv.Client(), zap.NewNop())

	fetcher := &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return okResponse(req)
	}}
	c := newTestCrawler(t, Options{Fetcher: fetcher, Robots: robots})

	res := c.Fetch(context.Background(), srv.URL+"/private/docs", false)
	assert.Equal(t, StatusPolicyDenied, res.StatusCode)
	assert.Zero(t, fetcher.callCount())

	res = c.Fetch(context.Background(), srv.URL+"/public", false)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestFetchRenderedWithoutRenderer(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return okResponse(req)
	}}
	c := newTestCrawler(t, Options{Fetcher: fetcher})
	require.False(t, c.CanRender())

	res := c.Fetch(context.Background(), "https://example.com/", true)
	assert.Equal(t, StatusBrowserError, res.StatusCode)
	assert.Zero(t, res.Attempts)
	// No silent downgrade to the light strategy.
	assert.Zero(t, fetcher.callCount())
}

func TestFetchRenderedUsesRenderer(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return okResponse(req)
	}}
	renderer := &stubRenderer{}
	renderer.fn = func(_ int, req FetchRequest) (FetchResponse, error) {
		return FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte("<html>rendered</html>"), Rendered: true}, nil
	}
	c := newTestCrawler(t, Options{Fetcher: fetcher, Renderer: renderer})
	require.True(t, c.CanRender())

	res := c.Fetch(context.Background(), "https://example.com/", true)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, res.Rendered)
	assert.Equal(t, 1, renderer.callCount())
	assert.Zero(t, fetcher.callCount())
}

func TestFetchTransportFailureSynthetic(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return FetchResponse{}, newCrawlError(KindTransport, req.URL, errors.New("no route to host"))
	}}
	c := newTestCrawler(t, Options{Fetcher: fetcher})

	res := c.Fetch(context.Background(), "https://example.com/", false)
	assert.Equal(t, StatusTransportError, res.StatusCode)
	assert.Equal(t, 4, res.Attempts)
	assert.Nil(t, res.Body)
}

func TestFetchTimeoutSynthetic(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return FetchResponse{}, newCrawlError(KindTimeout, req.URL, context.DeadlineExceeded)
	}}
	cfg := testConfig()
	cfg.MaxRetries = 1
	c := newTestCrawler(t, Options{Config: cfg, Fetcher: fetcher})

	res := c.Fetch(context.Background(), "https://example.com/", false)
	assert.Equal(t, StatusFetchTimeout, res.StatusCode)
	assert.Equal(t, 2, res.Attempts)
}

func TestFetchBrowserFailureSynthetic(t *testing.T) {
	t.Parallel()

	renderer := &stubRenderer{}
	renderer.fn = func(_ int, req FetchRequest) (FetchResponse, error) {
		return FetchResponse{}, newCrawlError(KindBrowser, req.URL, errors.New("tab crashed"))
	}
	cfg := testConfig()
	cfg.MaxRetries = 1
	c := newTestCrawler(t, Options{Config: cfg, Fetcher: &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return okResponse(req)
	}}, Renderer: renderer})

	res := c.Fetch(context.Background(), "https://example.com/", true)
	assert.Equal(t, StatusBrowserError, res.StatusCode)
	assert.Equal(t, 2, res.Attempts)
}

func TestFetchRecoversFromPanic(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ int, _ FetchRequest) (FetchResponse, error) {
		panic("fetcher exploded")
	}}
	c := newTestCrawler(t, Options{Fetcher: fetcher})

	var res FetchResult
	require.NotPanics(t, func() {
		res = c.Fetch(context.Background(), "https://example.com/", false)
	})
	assert.Equal(t, StatusInternalError, res.StatusCode)
}

func TestFetchFlagsChallengePages(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return FetchResponse{
			URL:        req.URL,
			StatusCode: http.StatusOK,
			Body:       []byte("<html><body>Please verify you're human to continue</body></html>"),
		}, nil
	}}
	c := newTestCrawler(t, Options{Fetcher: fetcher})

	res := c.Fetch(context.Background(), "https://example.com/", false)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, res.CaptchaSuspected)
}

func TestCrawlerCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	renderer := &stubRenderer{}
	renderer.fn = func(_ int, req FetchRequest) (FetchResponse, error) {
		return okResponse(req)
	}
	c := newTestCrawler(t, Options{Fetcher: &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return okResponse(req)
	}}, Renderer: renderer})

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.EqualValues(t, 1, renderer.closes.Load())

	res := c.Fetch(context.Background(), "https://example.com/", false)
	assert.Equal(t, StatusInternalError, res.StatusCode)
}

func TestNewRequiresFetcher(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Config: testConfig()})
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RequestTimeout = -time.Second
	_, err := New(Options{Config: cfg, Fetcher: &stubFetcher{fn: func(_ int, req FetchRequest) (FetchResponse, error) {
		return okResponse(req)
	}}})
	assert.Error(t, err)
}
