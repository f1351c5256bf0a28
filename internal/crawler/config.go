package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob that influences the fetching engine. Values are
// read from Viper so the engine can be configured via file, env vars, or CLI
// flags, but the struct itself is Viper-free and easy to build in tests.
type Config struct {
	UserAgents             []string      `mapstructure:"user_agents"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	RenderTimeout          time.Duration `mapstructure:"render_timeout"`
	MinDelayPerDomain      time.Duration `mapstructure:"min_delay_per_domain"`
	MaxDelayPerDomain      time.Duration `mapstructure:"max_delay_per_domain"`
	MaxConcurrentPerDomain int           `mapstructure:"max_concurrent_per_domain"`
	MaxTrackedDomains      int           `mapstructure:"max_tracked_domains"`
	MaxRetries             int           `mapstructure:"max_retries"`
	RetryBaseDelay         time.Duration `mapstructure:"retry_base_delay"`
	RetryBackoffFactor     float64       `mapstructure:"retry_backoff_factor"`
	RetryJitter            float64       `mapstructure:"retry_jitter"`
	RespectRobots          bool          `mapstructure:"respect_robots"`
	RobotsCheckUserAgent   string        `mapstructure:"robots_check_user_agent"`
	RobotsFetchUserAgent   string        `mapstructure:"robots_fetch_user_agent"`
	RobotsCacheSize        int           `mapstructure:"robots_cache_size"`
	RobotsFetchTimeout     time.Duration `mapstructure:"robots_fetch_timeout"`
	ProxyURL               string        `mapstructure:"proxy_url"`
	Headless               bool          `mapstructure:"headless"`
	RenderEnabled          bool          `mapstructure:"render_enabled"`
	RenderMaxConcurrency   int           `mapstructure:"render_max_concurrency"`
	RenderDomainQPS        float64       `mapstructure:"render_domain_qps"`
	MaxBodyBytes           int64         `mapstructure:"max_body_bytes"`
	BlockedDomains         []string      `mapstructure:"blocked_domains"`
	CaptchaScanBytes       int           `mapstructure:"captcha_scan_bytes"`
	CaptchaMarkers         []string      `mapstructure:"captcha_markers"`
}

// DefaultUserAgents is the rotation pool used when none is configured: a mix
// of current desktop Chrome and Firefox identities.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:126.0) Gecko/20100101 Firefox/126.0",
}

// DefaultCaptchaMarkers are the case-insensitive phrases the post-fetch scan
// looks for in the leading slice of the body.
var DefaultCaptchaMarkers = []string{
	"captcha",
	"are you a robot",
	"verify you're human",
	"recaptcha",
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		UserAgents:             append([]string(nil), DefaultUserAgents...),
		RequestTimeout:         30 * time.Second,
		RenderTimeout:          60 * time.Second,
		MinDelayPerDomain:      3 * time.Second,
		MaxDelayPerDomain:      10 * time.Second,
		MaxConcurrentPerDomain: 1,
		MaxTrackedDomains:      1024,
		MaxRetries:             3,
		RetryBaseDelay:         time.Second,
		RetryBackoffFactor:     2.0,
		RetryJitter:            0.5,
		RespectRobots:          true,
		RobotsCheckUserAgent:   "*",
		RobotsFetchUserAgent:   "LeadGenCrawler/1.0 (+https://github.com/JakeFAU/lead-gen-crawler)",
		RobotsCacheSize:        100,
		RobotsFetchTimeout:     10 * time.Second,
		Headless:               true,
		RenderEnabled:          true,
		RenderMaxConcurrency:   2,
		RenderDomainQPS:        0.5,
		MaxBodyBytes:           5 * 1024 * 1024,
		CaptchaScanBytes:       2000,
		CaptchaMarkers:         append([]string(nil), DefaultCaptchaMarkers...),
	}
}

// LoadConfig constructs a Config by reading the crawler.* subtree from Viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if sub := v.Sub("crawler"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal crawler config: %w", err)
		}
	}
	cfg.UserAgents = compactStrings(cfg.UserAgents)
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = append([]string(nil), DefaultUserAgents...)
	}
	cfg.CaptchaMarkers = compactStrings(cfg.CaptchaMarkers)
	if len(cfg.CaptchaMarkers) == 0 {
		cfg.CaptchaMarkers = append([]string(nil), DefaultCaptchaMarkers...)
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 2 * cfg.RequestTimeout
	}
	return cfg, cfg.Validate()
}

// Validate checks for configuration combinations the engine cannot run with.
func (c Config) Validate() error {
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("crawler.user_agents must include at least one entry")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.RenderTimeout <= 0 {
		return fmt.Errorf("crawler.render_timeout must be > 0")
	}
	if c.MinDelayPerDomain < 0 {
		return fmt.Errorf("crawler.min_delay_per_domain must be >= 0")
	}
	if c.MaxDelayPerDomain < c.MinDelayPerDomain {
		return fmt.Errorf("crawler.max_delay_per_domain must be >= crawler.min_delay_per_domain")
	}
	if c.MaxConcurrentPerDomain <= 0 {
		return fmt.Errorf("crawler.max_concurrent_per_domain must be > 0")
	}
	if c.MaxTrackedDomains <= 0 {
		return fmt.Errorf("crawler.max_tracked_domains must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("crawler.retry_base_delay must be >= 0")
	}
	if c.RetryBackoffFactor < 1 {
		return fmt.Errorf("crawler.retry_backoff_factor must be >= 1")
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return fmt.Errorf("crawler.retry_jitter must be within [0, 1]")
	}
	if c.RobotsCacheSize <= 0 {
		return fmt.Errorf("crawler.robots_cache_size must be > 0")
	}
	if c.RobotsFetchTimeout <= 0 {
		return fmt.Errorf("crawler.robots_fetch_timeout must be > 0")
	}
	if c.RenderMaxConcurrency < 0 {
		return fmt.Errorf("crawler.render_max_concurrency must be >= 0")
	}
	if c.RenderDomainQPS < 0 {
		return fmt.Errorf("crawler.render_domain_qps must be >= 0")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawler.max_body_bytes must be > 0")
	}
	if c.CaptchaScanBytes < 0 {
		return fmt.Errorf("crawler.captcha_scan_bytes must be >= 0")
	}
	return nil
}

// RetryPolicy derives the retry policy value from the configuration.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    c.MaxRetries,
		BaseDelay:     c.RetryBaseDelay,
		BackoffFactor: c.RetryBackoffFactor,
		Jitter:        c.RetryJitter,
	}
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
