package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fetchesTotal tracks completed Fetch calls by transport and outcome kind.
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_fetches_total",
		Help: "Completed fetch calls partitioned by transport and outcome.",
	}, []string{"transport", "outcome"})

	// retriesTotal counts individual retry attempts after a transient failure.
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_retries_total",
		Help: "Retry attempts triggered by transient fetch failures.",
	})

	// robotsDecisionsTotal tracks robots.txt verdicts, including fail-open allows.
	robotsDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_robots_decisions_total",
		Help: "Robots policy verdicts partitioned by decision.",
	}, []string{"decision"})

	// robotsCacheEvents tracks hits, misses, and evictions in the robots cache.
	robotsCacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_robots_cache_events_total",
		Help: "Robots ruleset cache activity partitioned by event.",
	}, []string{"event"})

	// rateLimitWaitSeconds observes time spent waiting for per-domain admission.
	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawler_rate_limit_wait_seconds",
		Help:    "Time spent waiting on per-domain permits and spacing.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 3, 5, 10, 30},
	})

	// captchaFlagsTotal counts fetches whose body matched the anti-bot scan.
	captchaFlagsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_captcha_flags_total",
		Help: "Successful fetches flagged by the CAPTCHA keyword scan.",
	})

	// browserRelaunchesTotal counts headless browser relaunches after a crash.
	browserRelaunchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_browser_relaunches_total",
		Help: "Headless browser relaunches triggered by a dead instance.",
	})
)

// ObserveBrowserRelaunch records a headless browser relaunch. It is exported
// for the fetcher packages, which own the browser lifecycle.
func ObserveBrowserRelaunch() {
	browserRelaunchesTotal.Inc()
}
