// Package cmd defines and implements the CLI commands for the leadcrawler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-gen-crawler/internal/crawler"
	"github.com/JakeFAU/lead-gen-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/lead-gen-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/lead-gen-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/lead-gen-crawler/internal/ingest"
	"github.com/JakeFAU/lead-gen-crawler/internal/pipeline"
)

// newCrawlCmd creates and configures the 'crawl' subcommand. It reads a seed
// file, drives every seed through the fetch engine, and reports a summary.
func newCrawlCmd() *cobra.Command {
	var seedFile string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Fetches every seed URL and captures the resulting leads",
		Long: `Reads a CSV of seed URLs, fetches each one politely (robots.txt,
per-domain rate limits, bounded retries), extracts contact details from the
pages that come back, and persists them through the configured lead store.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, seedFile)
		},
	}

	cmd.Flags().StringVar(&seedFile, "seeds", "", "CSV file of seed URLs (columns: url[,rendered])")
	_ = cmd.MarkFlagRequired("seeds")

	return cmd
}

func runCrawlCommand(cmd *cobra.Command, seedFile string) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()

	seeds, err := ingest.ReadSeedsFile(seedFile)
	if err != nil {
		return fmt.Errorf("read seeds: %w", err)
	}
	if len(seeds) == 0 {
		logger.Warn("seed file contains no usable URLs", zap.String("path", seedFile))
		return nil
	}

	cfg, err := crawler.LoadConfig(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load crawler config: %w", err)
	}

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := engine.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("failed to close fetch engine", zap.Error(cerr))
		}
	}()

	pipeCfg := pipeline.Config{
		Workers:    viper.GetInt("pipeline.workers"),
		AutoRender: viper.GetBool("pipeline.auto_render"),
		Topic:      viper.GetString("pipeline.topic"),
	}

	pipe, err := pipeline.New(pipeline.Options{
		Config:    pipeCfg,
		Logger:    logger,
		Engine:    engine,
		Extractor: extract.New(cfg.MaxBodyBytes),
		Leads:     appInstance.GetLeads(),
		Blobs:     appInstance.GetArchive(),
		Publisher: appInstance.GetPublisher(),
		Progress:  appInstance.GetProgress(),
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	summary, err := pipe.Run(ctx, seeds)
	logger.Info("crawl finished",
		zap.Int("seeds", len(seeds)),
		zap.Int64("fetched", summary.Fetched),
		zap.Int64("failed", summary.Failed),
		zap.Int64("denied", summary.Denied),
		zap.Int64("captcha_flags", summary.CaptchaFlags),
		zap.Int64("leads", summary.Leads),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	return nil
}

// buildEngine assembles the fetch engine: the light HTTP strategy, the
// optional headless rendering strategy, and the orchestrator that owns the
// robots cache, rate limiter and retry policy.
func buildEngine(cfg crawler.Config, logger *zap.Logger) (*crawler.Crawler, error) {
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgents:   cfg.UserAgents,
		Timeout:      cfg.RequestTimeout,
		ProxyURL:     cfg.ProxyURL,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	renderer, err := buildRenderer(cfg, logger)
	if err != nil {
		return nil, err
	}

	engine, err := crawler.New(crawler.Options{
		Config:   cfg,
		Logger:   logger,
		Fetcher:  fetcher,
		Renderer: renderer,
	})
	if err != nil {
		return nil, fmt.Errorf("init crawler: %w", err)
	}
	return engine, nil
}

// buildRenderer returns the headless rendering strategy, or nil when it is
// disabled. Disabled rendering is a startup decision: rendered fetches then
// fail explicitly rather than degrading to the light path.
func buildRenderer(cfg crawler.Config, logger *zap.Logger) (crawler.Renderer, error) {
	if !cfg.RenderEnabled || cfg.RenderMaxConcurrency <= 0 {
		logger.Info("headless rendering disabled")
		return nil, nil
	}
	pool := headless.NewBrowserPool(headless.PoolConfig{
		Headless: cfg.Headless,
		ProxyURL: cfg.ProxyURL,
	}, logger)
	renderer, err := headless.New(headless.Config{
		UserAgents:  cfg.UserAgents,
		Timeout:     cfg.RenderTimeout,
		MaxParallel: cfg.RenderMaxConcurrency,
		DomainQPS:   cfg.RenderDomainQPS,
	}, pool, logger)
	switch {
	case err == nil:
		return renderer, nil
	case errors.Is(err, crawler.ErrRendererDisabled):
		logger.Warn("renderer disabled despite feature flag; continuing light-only")
		return nil, nil
	default:
		return nil, fmt.Errorf("init renderer: %w", err)
	}
}
