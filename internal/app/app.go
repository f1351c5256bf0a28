// Package app initializes and holds the long-lived application services,
// acting as a dependency injection container. It is built once at startup
// from the Viper configuration and handed to the CLI commands, which wire the
// fetch engine and pipeline on top of it.
package app

import (
	"context"
	"fmt"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-gen-crawler/internal/api"
	"github.com/JakeFAU/lead-gen-crawler/internal/archive"
	archivegcs "github.com/JakeFAU/lead-gen-crawler/internal/archive/gcs"
	archivelocal "github.com/JakeFAU/lead-gen-crawler/internal/archive/local"
	archivememory "github.com/JakeFAU/lead-gen-crawler/internal/archive/memory"
	"github.com/JakeFAU/lead-gen-crawler/internal/leadstore"
	"github.com/JakeFAU/lead-gen-crawler/internal/logging"
	"github.com/JakeFAU/lead-gen-crawler/internal/progress"
	"github.com/JakeFAU/lead-gen-crawler/internal/progress/sinks"
	"github.com/JakeFAU/lead-gen-crawler/internal/publisher"
	publishermemory "github.com/JakeFAU/lead-gen-crawler/internal/publisher/memory"
	publisherpubsub "github.com/JakeFAU/lead-gen-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/lead-gen-crawler/internal/store"
)

// shutdownTimeout bounds how long Close waits for the ops server to drain
// and the progress hub to flush.
const shutdownTimeout = 10 * time.Second

// App holds the shared, long-lived services: the logger, the lead store, the
// snapshot archive, the lead event publisher, the progress hub with its
// sinks, and the operational HTTP server. It is initialized once at startup
// and closed exactly once before exit.
type App struct {
	logger    *zap.Logger
	leads     leadstore.Store
	blobs     archive.BlobStore
	publisher publisher.Publisher
	hub       *progress.Hub
	repo      *store.ProgressRepo
	server    *api.Server
	gcs       *gcsclient.Client
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetLeads exposes the configured lead store.
func (a *App) GetLeads() leadstore.Store { return a.leads }

// GetArchive exposes the configured page snapshot store.
func (a *App) GetArchive() archive.BlobStore { return a.blobs }

// GetPublisher returns the lead event publisher.
func (a *App) GetPublisher() publisher.Publisher { return a.publisher }

// GetProgress returns the progress emitter, or nil when progress reporting
// is disabled. The pipeline treats a nil emitter as a no-op.
func (a *App) GetProgress() progress.Emitter {
	if a.hub == nil {
		return nil
	}
	return a.hub
}

// NewApp creates and initializes a new App from the application's
// configuration. It is the central point for service initialization: it
// reads provider selections from Viper, instantiates each provider, builds
// the progress hub, and starts the ops HTTP server. It fails fast if any
// critical service cannot be initialized, closing whatever was already built.
func NewApp(ctx context.Context) (*App, error) {
	a := &App{logger: logging.L}
	a.logger.Info("initializing application services")

	if err := a.initLeadStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initProgress(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.startServer(); err != nil {
		a.Close()
		return nil, err
	}

	a.logger.Info("application services initialized")
	return a, nil
}

// initLeadStore builds the lead persistence provider selected by
// leadstore.provider: memory, sqlite, or postgres.
func (a *App) initLeadStore(ctx context.Context) error {
	providerType := viper.GetString("leadstore.provider")
	switch providerType {
	case "memory":
		a.logger.Info("using in-memory lead store; leads are lost on exit")
		a.leads = leadstore.NewMemory()
	case "sqlite":
		path := viper.GetString("leadstore.sqlite.path")
		a.logger.Info("using SQLite lead store", zap.String("path", path))
		st, err := leadstore.OpenSQLite(leadstore.SQLiteConfig{
			Path:        path,
			BusyTimeout: viper.GetDuration("leadstore.sqlite.busy_timeout"),
		})
		if err != nil {
			return fmt.Errorf("initialize sqlite lead store: %w", err)
		}
		a.leads = st
	case "postgres":
		dsn := viper.GetString("leadstore.postgres.dsn")
		if dsn == "" {
			return fmt.Errorf("leadstore provider is 'postgres' but leadstore.postgres.dsn is not set")
		}
		a.logger.Info("connecting to PostgreSQL lead store")
		st, err := leadstore.NewPostgres(ctx, leadstore.PostgresConfig{
			DSN:             dsn,
			Table:           viper.GetString("leadstore.postgres.table"),
			MaxConns:        int32(viper.GetInt("leadstore.postgres.max_conns")),
			MinConns:        int32(viper.GetInt("leadstore.postgres.min_conns")),
			MaxConnLifetime: viper.GetDuration("leadstore.postgres.max_conn_lifetime"),
		})
		if err != nil {
			return fmt.Errorf("initialize postgres lead store: %w", err)
		}
		a.leads = st
	default:
		return fmt.Errorf("unknown leadstore provider: %s", providerType)
	}
	return nil
}

// initArchive builds the snapshot store selected by archive.provider: noop,
// memory, local, or gcs.
func (a *App) initArchive(ctx context.Context) error {
	providerType := viper.GetString("archive.provider")
	switch providerType {
	case "noop":
		a.logger.Info("using no-op archive; page snapshots are discarded")
		a.blobs = archive.NewNoopStore()
	case "memory":
		a.blobs = archivememory.NewBlobStore()
	case "local":
		baseDir := viper.GetString("archive.local.base_dir")
		a.logger.Info("using local snapshot archive", zap.String("base_dir", baseDir))
		st, err := archivelocal.New(archivelocal.Config{
			BaseDir:  baseDir,
			MaxBytes: viper.GetInt64("archive.local.max_bytes"),
		})
		if err != nil {
			return fmt.Errorf("initialize local archive: %w", err)
		}
		a.blobs = st
	case "gcs":
		bucket := viper.GetString("archive.gcs.bucket")
		if bucket == "" {
			return fmt.Errorf("archive provider is 'gcs' but archive.gcs.bucket is not set")
		}
		a.logger.Info("using GCS snapshot archive", zap.String("bucket", bucket))
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create GCS client: %w", err)
		}
		a.gcs = client
		st, err := archivegcs.New(client, archivegcs.Config{Bucket: bucket})
		if err != nil {
			return fmt.Errorf("initialize GCS archive: %w", err)
		}
		a.blobs = st
	default:
		return fmt.Errorf("unknown archive provider: %s", providerType)
	}
	return nil
}

// initPublisher builds the lead event publisher selected by queue.provider:
// noop, memory, or pubsub.
func (a *App) initPublisher(ctx context.Context) error {
	providerType := viper.GetString("queue.provider")
	switch providerType {
	case "noop":
		a.logger.Info("using no-op publisher; lead events are not sent")
		a.publisher = publisher.NewNoopPublisher()
	case "memory":
		a.publisher = publishermemory.New()
	case "pubsub":
		projectID := viper.GetString("queue.pubsub.project_id")
		topic := viper.GetString("queue.pubsub.topic")
		if projectID == "" || topic == "" {
			return fmt.Errorf("queue provider is 'pubsub' but project_id or topic is not set")
		}
		a.logger.Info("connecting to GCP Pub/Sub", zap.String("topic", topic))
		pub, err := publisherpubsub.New(ctx, publisherpubsub.Config{
			ProjectID: projectID,
			Topic:     topic,
		})
		if err != nil {
			return fmt.Errorf("initialize pubsub publisher: %w", err)
		}
		a.publisher = pub
	default:
		return fmt.Errorf("unknown queue provider: %s", providerType)
	}
	return nil
}

// initProgress builds the progress hub and its sinks when progress.enabled
// is set. The store sink always runs so /v1/progress has data; the
// Prometheus sink registers against the default registry served by /metrics;
// the log sink is opt-in because it is chatty at scale.
func (a *App) initProgress() error {
	if !viper.GetBool("progress.enabled") {
		a.logger.Info("progress reporting disabled")
		return nil
	}
	a.repo = store.NewProgressRepo()
	sinkList := []progress.Sink{sinks.NewStoreSink(a.repo, a.logger)}
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("initialize prometheus progress sink: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if viper.GetBool("progress.log_enabled") {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     viper.GetInt("progress.buffer_size"),
		MaxBatchEvents: viper.GetInt("progress.batch.max_events"),
		MaxBatchWait:   viper.GetDuration("progress.batch.max_wait"),
		SinkTimeout:    viper.GetDuration("progress.sink_timeout"),
		Logger:         a.logger,
	}, sinkList...)
	return nil
}

// startServer binds and starts the operational HTTP server.
func (a *App) startServer() error {
	srv := api.NewServer(api.Config{
		Addr:           viper.GetString("api.addr"),
		RequestTimeout: viper.GetDuration("api.request_timeout"),
	}, a.repo, a.logger)
	if _, err := srv.Start(); err != nil {
		return fmt.Errorf("start ops server: %w", err)
	}
	srv.SetReady(true)
	a.server = srv
	return nil
}

// Close gracefully shuts down all services in the container: the ops server
// drains first, then the progress hub flushes, then the stores and clients
// release their connections. Safe to call on a partially built App.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("error shutting down ops server", zap.Error(err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("error closing progress hub", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("error closing publisher", zap.Error(err))
		}
	}
	if a.leads != nil {
		if err := a.leads.Close(); err != nil {
			a.logger.Warn("error closing lead store", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("error closing GCS client", zap.Error(err))
		}
	}

	// Best effort: logging itself may be the thing that is failing.
	_ = a.logger.Sync()
}
