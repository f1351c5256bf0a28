package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// maxRobotsBody caps how much of a robots.txt response is read.
const maxRobotsBody = 512 * 1024

// RobotsConfig tunes robots.txt fetching and caching.
type RobotsConfig struct {
	// CacheSize bounds the number of domains whose rulesets stay cached.
	CacheSize int
	// CheckUserAgent is the agent token rules are evaluated for.
	CheckUserAgent string
	// FetchTimeout bounds a single robots.txt fetch.
	FetchTimeout time.Duration
	// UserAgent is sent as the User-Agent header on robots.txt fetches.
	UserAgent string
}

// RobotsPolicy answers whether a URL may be fetched under its domain's
// robots.txt. Rulesets are cached per domain in an LRU of CacheSize entries;
// concurrent misses for one domain coalesce into a single fetch. Every
// failure mode, from unreachable hosts to unparseable rule files to panics in
// evaluation, resolves to "allowed".
type RobotsPolicy struct {
	cfg    RobotsConfig
	client *http.Client
	logger *zap.Logger

	cache *lru.Cache[string, *robotstxt.RobotsData]
	locks sync.Map // domain -> *sync.Mutex
}

// NewRobotsPolicy builds a policy cache. A nil client gets a default one
// bounded by cfg.FetchTimeout.
func NewRobotsPolicy(cfg RobotsConfig, client *http.Client, logger *zap.Logger) *RobotsPolicy {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100
	}
	if cfg.CheckUserAgent == "" {
		cfg.CheckUserAgent = "*"
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, _ := lru.New[string, *robotstxt.RobotsData](cfg.CacheSize)
	return &RobotsPolicy{
		cfg:    cfg,
		client: client,
		logger: logger.Named("robots"),
		cache:  cache,
	}
}

// Allowed reports whether u may be fetched. The ruleset for u's domain is
// fetched and cached on first use. Missing, unreachable, or malformed rule
// files allow everything.
func (r *RobotsPolicy) Allowed(ctx context.Context, u *url.URL) (allowed bool) {
	defer func() {
		decision := "allowed"
		if !allowed {
			decision = "denied"
		}
		robotsDecisionsTotal.WithLabelValues(decision).Inc()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("robots evaluation panicked, allowing",
				zap.String("url", u.String()),
				zap.Any("panic", rec),
			)
			allowed = true
		}
	}()

	domain := DomainOf(u)
	data, ok := r.cache.Get(domain)
	if ok {
		robotsCacheEvents.WithLabelValues("hit").Inc()
	} else {
		robotsCacheEvents.WithLabelValues("miss").Inc()
		data = r.load(ctx, domain)
	}
	if data == nil {
		return true
	}
	return data.TestAgent(robotsPath(u), r.cfg.CheckUserAgent)
}

// CachedDomains reports how many domains currently have a cached ruleset.
func (r *RobotsPolicy) CachedDomains() int { return r.cache.Len() }

// Reset drops every cached ruleset and fetch lock.
func (r *RobotsPolicy) Reset() {
	r.cache.Purge()
	r.locks.Range(func(key, _ any) bool {
		r.locks.Delete(key)
		return true
	})
}

// load fetches and caches the ruleset for domain. Concurrent callers for the
// same domain serialize on a per-domain lock and re-check the cache before
// fetching, so the network is hit once per domain per cache residency.
func (r *RobotsPolicy) load(ctx context.Context, domain string) *robotstxt.RobotsData {
	muAny, _ := r.locks.LoadOrStore(domain, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if data, ok := r.cache.Get(domain); ok {
		robotsCacheEvents.WithLabelValues("hit").Inc()
		return data
	}
	data := r.fetch(ctx, domain)
	robotsCacheEvents.WithLabelValues("store").Inc()
	if evicted := r.cache.Add(domain, data); evicted {
		robotsCacheEvents.WithLabelValues("evict").Inc()
	}
	return data
}

// fetch retrieves the domain's robots.txt over HTTPS, falling back to HTTP
// when the HTTPS attempt fails at the transport level or answers with an
// unexpected status. A 404 settles the question without a fallback: the
// domain has no robots.txt.
func (r *RobotsPolicy) fetch(ctx context.Context, domain string) *robotstxt.RobotsData {
	for _, scheme := range []string{"https", "http"} {
		target := scheme + "://" + domain + "/robots.txt"
		data, transportFailed := r.fetchOne(ctx, target)
		if !transportFailed {
			return data
		}
	}
	r.logger.Debug("robots.txt unreachable over both schemes, allowing",
		zap.String("domain", domain),
	)
	return nil
}

// fetchOne fetches one robots.txt URL. The second return reports whether the
// caller should try the next scheme: true for transport-level failures and
// for statuses other than success or 404.
func (r *RobotsPolicy) fetchOne(ctx context.Context, target string) (*robotstxt.RobotsData, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false
	}
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("robots.txt fetch failed", zap.String("url", target), zap.Error(err))
		return nil, true
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		r.logger.Debug("no robots.txt, allowing", zap.String("url", target))
		return nil, false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Debug("robots.txt not served",
			zap.String("url", target),
			zap.Int("status", resp.StatusCode),
		)
		return nil, true
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		r.logger.Debug("robots.txt read failed, allowing", zap.String("url", target), zap.Error(err))
		return nil, false
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		r.logger.Debug("robots.txt unparseable, allowing", zap.String("url", target), zap.Error(err))
		return nil, false
	}
	return data, false
}

// robotsPath renders the path-and-query form rules are matched against.
func robotsPath(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}
