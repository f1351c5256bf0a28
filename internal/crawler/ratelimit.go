package crawler

import (
	"container/list"
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimitConfig tunes the per-domain politeness limiter.
type RateLimitConfig struct {
	// MinDelay and MaxDelay bound the randomized spacing between successive
	// requests to the same domain.
	MinDelay time.Duration
	MaxDelay time.Duration
	// PerDomain caps concurrent in-flight fetches per domain.
	PerDomain int
	// MaxTrackedDomains bounds the limiter's domain table. Idle domains are
	// evicted least-recently-used first; domains with holders or waiters are
	// never evicted.
	MaxTrackedDomains int
}

const defaultMaxTrackedDomains = 1024

// domainState carries the per-domain concurrency slot and spacing schedule.
type domainState struct {
	sem chan struct{}

	mu        sync.Mutex
	nextStart time.Time

	// busy counts acquirers between Acquire and release, guarded by the
	// limiter mutex. A busy state is pinned against eviction.
	busy int
	elem *list.Element
}

// DomainRateLimiter spaces requests per domain and caps per-domain
// concurrency. A permit obtained from Acquire is held for the whole fetch,
// including every retry sleep, and must be released exactly once via the
// returned function.
type DomainRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	perDomain  int
	maxDomains int
	clock      Clock
	logger     *zap.Logger

	mu      sync.Mutex
	domains map[string]*domainState
	order   *list.List
}

// NewDomainRateLimiter builds a limiter from cfg, normalizing out-of-range
// values instead of failing.
func NewDomainRateLimiter(cfg RateLimitConfig, clock Clock, logger *zap.Logger) *DomainRateLimiter {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.PerDomain <= 0 {
		cfg.PerDomain = 1
	}
	if cfg.MaxTrackedDomains <= 0 {
		cfg.MaxTrackedDomains = defaultMaxTrackedDomains
	}
	return &DomainRateLimiter{
		minDelay:   cfg.MinDelay,
		maxDelay:   cfg.MaxDelay,
		perDomain:  cfg.PerDomain,
		maxDomains: cfg.MaxTrackedDomains,
		clock:      clock,
		logger:     logger.Named("ratelimit"),
		domains:    make(map[string]*domainState),
		order:      list.New(),
	}
}

// Acquire blocks until the domain has a free concurrency slot and its spacing
// window has elapsed, then returns a release function. The release function
// is idempotent and must be called when the fetch finishes.
func (l *DomainRateLimiter) Acquire(ctx context.Context, domain string) (func(), error) {
	if domain == "" {
		return nil, fmt.Errorf("rate limiter: %w: empty domain", ErrInvalidURL)
	}
	st := l.checkout(domain)
	release := func() { l.checkin(domain, st) }

	select {
	case st.sem <- struct{}{}:
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
	releaseSlot := func() {
		<-st.sem
		release()
	}

	wait := l.reserve(st)
	rateLimitWaitSeconds.Observe(wait.Seconds())
	if wait > 0 {
		l.logger.Debug("spacing domain request",
			zap.String("domain", domain),
			zap.Duration("wait", wait),
		)
		if err := sleepContext(ctx, wait); err != nil {
			releaseSlot()
			return nil, err
		}
	}

	var once sync.Once
	return func() { once.Do(releaseSlot) }, nil
}

// TrackedDomains reports how many domains the limiter currently tracks.
func (l *DomainRateLimiter) TrackedDomains() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.domains)
}

// checkout returns the state for domain, creating and inserting it on first
// use. The state is pinned until the matching checkin.
func (l *DomainRateLimiter) checkout(domain string) *domainState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.domains[domain]
	if !ok {
		st = &domainState{sem: make(chan struct{}, l.perDomain)}
		st.elem = l.order.PushFront(domain)
		l.domains[domain] = st
	} else {
		l.order.MoveToFront(st.elem)
	}
	st.busy++
	if !ok {
		l.evictIdleLocked()
	}
	return st
}

func (l *DomainRateLimiter) checkin(domain string, st *domainState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st.busy--
	if st.busy < 0 {
		st.busy = 0
	}
	_ = domain
}

// evictIdleLocked drops least-recently-used idle domains until the table fits
// the configured bound. States with holders or waiters stay tracked even when
// that leaves the table over budget.
func (l *DomainRateLimiter) evictIdleLocked() {
	for elem := l.order.Back(); elem != nil && len(l.domains) > l.maxDomains; {
		prev := elem.Prev()
		domain := elem.Value.(string)
		if st := l.domains[domain]; st != nil && st.busy == 0 {
			delete(l.domains, domain)
			l.order.Remove(elem)
			l.logger.Debug("evicted idle domain", zap.String("domain", domain))
		}
		elem = prev
	}
}

// reserve draws a spacing delay uniformly from [MinDelay, MaxDelay] and
// claims the next start slot for the domain, returning how long the caller
// must wait before fetching.
func (l *DomainRateLimiter) reserve(st *domainState) time.Duration {
	delay := l.minDelay
	if span := l.maxDelay - l.minDelay; span > 0 {
		delay += time.Duration(rand.Float64() * float64(span))
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	now := l.clock.Now()
	var wait time.Duration
	if !st.nextStart.IsZero() && st.nextStart.After(now) {
		wait = st.nextStart.Sub(now)
	}
	start := now.Add(wait)
	st.nextStart = start.Add(delay)
	return wait
}
