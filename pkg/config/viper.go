// Package config initializes the application's configuration. It uses the
// Viper library to read settings from a config file and environment
// variables, providing a unified configuration system for the CLI and the
// application container.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-gen-crawler/internal/crawler"
	"github.com/JakeFAU/lead-gen-crawler/internal/logging"
)

// InitConfig initializes the application's configuration using Viper. It sets
// default values, defines configuration search paths, and enables reading
// from environment variables. It is called once at startup, before any
// configuration-dependent component is built.
func InitConfig() {
	// Search paths. The file is optional; defaults and environment variables
	// cover a config-less run.
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/leadcrawler/")
	viper.AddConfigPath("$HOME/.leadcrawler")

	setDefaults()

	// Environment variables, e.g. LEADCRAWLER_API_ADDR=:9090.
	viper.SetEnvPrefix("LEADCRAWLER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logging.L.Warn("config file not found; using defaults and environment variables")
		} else {
			logging.L.Error("error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}

func setDefaults() {
	viper.SetDefault("log.mode", "production")

	// Fetch engine. The authoritative defaults live in crawler.DefaultConfig;
	// registering them here makes every key discoverable and overridable from
	// the config file.
	engine := crawler.DefaultConfig()
	viper.SetDefault("crawler.user_agents", engine.UserAgents)
	viper.SetDefault("crawler.request_timeout", engine.RequestTimeout)
	viper.SetDefault("crawler.render_timeout", engine.RenderTimeout)
	viper.SetDefault("crawler.min_delay_per_domain", engine.MinDelayPerDomain)
	viper.SetDefault("crawler.max_delay_per_domain", engine.MaxDelayPerDomain)
	viper.SetDefault("crawler.max_concurrent_per_domain", engine.MaxConcurrentPerDomain)
	viper.SetDefault("crawler.max_tracked_domains", engine.MaxTrackedDomains)
	viper.SetDefault("crawler.max_retries", engine.MaxRetries)
	viper.SetDefault("crawler.retry_base_delay", engine.RetryBaseDelay)
	viper.SetDefault("crawler.retry_backoff_factor", engine.RetryBackoffFactor)
	viper.SetDefault("crawler.retry_jitter", engine.RetryJitter)
	viper.SetDefault("crawler.respect_robots", engine.RespectRobots)
	viper.SetDefault("crawler.robots_check_user_agent", engine.RobotsCheckUserAgent)
	viper.SetDefault("crawler.robots_fetch_user_agent", engine.RobotsFetchUserAgent)
	viper.SetDefault("crawler.robots_cache_size", engine.RobotsCacheSize)
	viper.SetDefault("crawler.robots_fetch_timeout", engine.RobotsFetchTimeout)
	viper.SetDefault("crawler.proxy_url", engine.ProxyURL)
	viper.SetDefault("crawler.headless", engine.Headless)
	viper.SetDefault("crawler.render_enabled", engine.RenderEnabled)
	viper.SetDefault("crawler.render_max_concurrency", engine.RenderMaxConcurrency)
	viper.SetDefault("crawler.render_domain_qps", engine.RenderDomainQPS)
	viper.SetDefault("crawler.max_body_bytes", engine.MaxBodyBytes)
	viper.SetDefault("crawler.blocked_domains", engine.BlockedDomains)
	viper.SetDefault("crawler.captcha_scan_bytes", engine.CaptchaScanBytes)
	viper.SetDefault("crawler.captcha_markers", engine.CaptchaMarkers)

	// Pipeline fan-out.
	viper.SetDefault("pipeline.workers", 5)
	viper.SetDefault("pipeline.auto_render", true)
	viper.SetDefault("pipeline.topic", "")

	// Lead persistence.
	viper.SetDefault("leadstore.provider", "sqlite")
	viper.SetDefault("leadstore.sqlite.path", "data/leads.db")
	viper.SetDefault("leadstore.sqlite.busy_timeout", "5s")
	viper.SetDefault("leadstore.postgres.dsn", "")
	viper.SetDefault("leadstore.postgres.table", "leads")
	viper.SetDefault("leadstore.postgres.max_conns", 4)
	viper.SetDefault("leadstore.postgres.min_conns", 0)
	viper.SetDefault("leadstore.postgres.max_conn_lifetime", "30m")

	// Page snapshot archive.
	viper.SetDefault("archive.provider", "noop")
	viper.SetDefault("archive.local.base_dir", "data/snapshots")
	viper.SetDefault("archive.local.max_bytes", 10*1024*1024)
	viper.SetDefault("archive.gcs.bucket", "")

	// Lead event publishing.
	viper.SetDefault("queue.provider", "noop")
	viper.SetDefault("queue.pubsub.project_id", "")
	viper.SetDefault("queue.pubsub.topic", "")

	// Progress reporting.
	viper.SetDefault("progress.enabled", true)
	viper.SetDefault("progress.log_enabled", false)
	viper.SetDefault("progress.buffer_size", 4096)
	viper.SetDefault("progress.batch.max_events", 1000)
	viper.SetDefault("progress.batch.max_wait", "500ms")
	viper.SetDefault("progress.sink_timeout", "10s")

	// Ops HTTP server.
	viper.SetDefault("api.addr", ":8080")
	viper.SetDefault("api.request_timeout", "60s")
}
