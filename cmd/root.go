package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-gen-crawler/internal/app"
	"github.com/JakeFAU/lead-gen-crawler/internal/archive"
	"github.com/JakeFAU/lead-gen-crawler/internal/leadstore"
	"github.com/JakeFAU/lead-gen-crawler/internal/logging"
	"github.com/JakeFAU/lead-gen-crawler/internal/progress"
	"github.com/JakeFAU/lead-gen-crawler/internal/publisher"
	"github.com/JakeFAU/lead-gen-crawler/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface that commands use. It is an interface
// so tests can inject a stub container through the newApp factory.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetLeads() leadstore.Store
	GetArchive() archive.BlobStore
	GetPublisher() publisher.Publisher
	GetProgress() progress.Emitter
}

// newApp is the application factory. It is a variable so tests can replace
// it with a factory returning a stub App.
var newApp func(ctx context.Context) (App, error) = func(ctx context.Context) (App, error) {
	return app.NewApp(ctx)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leadcrawler",
		Short: "A respectful, resilient lead-generation crawler.",
		Long: `leadcrawler fetches business web sites politely and at a bounded pace,
extracts contact details from the pages it retrieves, and persists the
results as leads. It honors robots.txt, rate-limits every domain it
touches, and can render script-heavy pages in a headless browser.`,

		// Runs after config is loaded but before the subcommand's RunE: the
		// place to build and inject the application container.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// Ensures services are shut down gracefully after the subcommand.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		}
		config.InitConfig()
	})

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/leadcrawler, $HOME/.leadcrawler)")

	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// resolveApp retrieves the injected application container from the command
// context.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so an interrupted run drains its workers and closes the browser
// instead of dying mid-fetch.
func Execute() {
	logging.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logging.L.Fatal("command execution failed", zap.Error(err))
	}
}
