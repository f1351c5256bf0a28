package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-gen-crawler/internal/crawler"
)

// ErrBrowserClosed is returned by Acquire once the pool has been shut down.
var ErrBrowserClosed = errors.New("browser pool is closed")

// PoolConfig controls how the Chrome process is launched.
type PoolConfig struct {
	// Headless selects Chrome's new headless mode; false launches a visible
	// window, which is occasionally useful when debugging a stubborn site.
	Headless bool
	// ProxyURL optionally routes all browser traffic through a proxy.
	ProxyURL string
}

// launchFunc starts a browser over the allocator context. It is a seam for
// tests, which substitute a browser-free implementation.
type launchFunc func(allocCtx context.Context) (context.Context, context.CancelFunc, error)

// BrowserPool owns the long-lived Chrome process rendered fetches run in.
// The browser starts lazily on the first Acquire and is relaunched when the
// previous instance died; all lifecycle transitions happen under one mutex,
// so a burst of fetches against a crashed browser triggers a single relaunch.
type BrowserPool struct {
	logger *zap.Logger
	launch launchFunc

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// NewBrowserPool prepares the exec allocator without starting Chrome.
func NewBrowserPool(cfg PoolConfig, logger *zap.Logger) *BrowserPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		// A false flag drops the default; Chrome starts with a window.
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &BrowserPool{
		logger:      logger.Named("browser"),
		launch:      defaultLaunch,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}
}

// Acquire returns a context on a healthy browser, launching or relaunching
// one as needed. The returned context stays owned by the pool: callers derive
// tab contexts from it and must not cancel it themselves.
func (p *BrowserPool) Acquire(ctx context.Context) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrBrowserClosed
	}
	if p.browserCtx != nil {
		if p.browserCtx.Err() == nil {
			return p.browserCtx, nil
		}
		p.logger.Warn("browser died, relaunching", zap.Error(p.browserCtx.Err()))
		p.browserCancel()
		p.browserCtx = nil
		p.browserCancel = nil
		crawler.ObserveBrowserRelaunch()
	}

	browserCtx, cancel, err := p.launch(p.allocCtx)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	p.browserCtx = browserCtx
	p.browserCancel = cancel
	p.logger.Info("browser started")
	return p.browserCtx, nil
}

// Shutdown stops the browser and the allocator. It is idempotent.
func (p *BrowserPool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.browserCancel != nil {
		p.browserCancel()
		p.browserCtx = nil
		p.browserCancel = nil
	}
	p.allocCancel()
	p.logger.Info("browser pool shut down")
	return nil
}

func defaultLaunch(allocCtx context.Context) (context.Context, context.CancelFunc, error) {
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	// Run with no actions forces the process to start now, so launch
	// failures surface here instead of inside the first render.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, nil, err
	}
	return browserCtx, cancel, nil
}
