// Package app builds the service from configuration and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/loksewa/noticemirror/internal/api"
	"github.com/loksewa/noticemirror/internal/clock/system"
	"github.com/loksewa/noticemirror/internal/config"
	"github.com/loksewa/noticemirror/internal/id/uuid"
	"github.com/loksewa/noticemirror/internal/logging"
	"github.com/loksewa/noticemirror/internal/metrics"
	"github.com/loksewa/noticemirror/internal/notice"
	memorypublisher "github.com/loksewa/noticemirror/internal/publisher/memory"
	gcppublisher "github.com/loksewa/noticemirror/internal/publisher/pubsub"
	"github.com/loksewa/noticemirror/internal/reader"
	"github.com/loksewa/noticemirror/internal/refresh"
	gcsstorage "github.com/loksewa/noticemirror/internal/storage/gcs"
	localstorage "github.com/loksewa/noticemirror/internal/storage/local"
	memorystorage "github.com/loksewa/noticemirror/internal/storage/memory"
	miniostorage "github.com/loksewa/noticemirror/internal/storage/minio"
	mongostorage "github.com/loksewa/noticemirror/internal/storage/mongo"
	pgstore "github.com/loksewa/noticemirror/internal/storage/postgres"
	"github.com/loksewa/noticemirror/internal/telemetry"
	"github.com/loksewa/noticemirror/internal/upstream"
)

// Version is stamped into traces; set at link time.
var Version = "dev"

// localTopic names refresh events kept by the in-memory publisher.
const localTopic = "notices.refreshed"

// ErrNoStore is returned by Refresh in the proxy variant.
var ErrNoStore = errors.New("refresh requires the store variant")

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	reader         reader.Reader
	store          notice.Store
	syncer         *refresh.Synchronizer
	gcsArchive     *gcsstorage.SnapshotStore
	pubsubPub      *gcppublisher.Publisher
	memoryPub      *memorypublisher.Publisher
	tracerProvider *sdktrace.TracerProvider
}

// Build creates the application's dependencies. On error everything built so
// far is released.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("variant", cfg.Server.Variant),
		zap.String("store", cfg.Store.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("environment", cfg.App.Environment),
	)
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	metrics.Init()
	if err := a.setupTelemetry(ctx); err != nil {
		return err
	}

	fetcher := upstream.New(upstream.Config{
		URL:       a.cfg.Upstream.URL,
		UserAgent: a.cfg.Upstream.UserAgent,
		Timeout:   a.cfg.Upstream.Timeout,
	}, a.logger.Named("upstream"))

	deps := api.Dependencies{}
	if a.cfg.Server.Variant == config.VariantProxy {
		rd, err := reader.New(reader.VariantProxy, fetcher, nil)
		if err != nil {
			return fmt.Errorf("reader init failed: %w", err)
		}
		a.reader = rd
	} else {
		if err := a.setupStore(ctx); err != nil {
			return err
		}
		if err := a.setupSynchronizer(ctx, fetcher); err != nil {
			return err
		}
		rd, err := reader.New(reader.VariantStore, nil, a.store)
		if err != nil {
			return fmt.Errorf("reader init failed: %w", err)
		}
		a.reader = rd
		deps.Refresher = a.syncer
		deps.Store = a.store
	}
	deps.Reader = a.reader

	srv, err := api.NewServer(deps, a.cfg, a.logger.Named("api"))
	if err != nil {
		return fmt.Errorf("api server init failed: %w", err)
	}
	a.apiServer = srv
	return nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		a.logger.Info("tracing disabled")
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    a.cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		SampleRatio:    a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerProvider = tp
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.StoreMongo:
		store, err := mongostorage.New(ctx, mongostorage.Config{
			URI:        a.cfg.Store.Mongo.URI,
			Database:   a.cfg.Store.Mongo.Database,
			Collection: a.cfg.Store.Mongo.Collection,
		})
		if err != nil {
			return fmt.Errorf("mongo store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using mongo notice store",
			zap.String("database", a.cfg.Store.Mongo.Database),
			zap.String("collection", a.cfg.Store.Mongo.Collection),
		)
	case config.StorePostgres:
		store, err := pgstore.NewNoticeStore(ctx, pgstore.NoticeStoreConfig{
			DSN:             a.cfg.Store.Postgres.DSN,
			Table:           a.cfg.Store.Postgres.Table,
			MaxConns:        a.cfg.Store.Postgres.MaxConns,
			MaxConnLifetime: a.cfg.Store.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using postgres notice store", zap.String("table", a.cfg.Store.Postgres.Table))
	default:
		a.logger.Info("using in-memory notice store")
		a.store = memorystorage.NewNoticeStore(uuid.New())
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (notice.Archiver, error) {
	archive := a.cfg.Archive
	switch archive.Backend {
	case config.ArchiveMemory:
		a.logger.Info("using in-memory snapshot archive")
		return memorystorage.NewSnapshotStore(), nil
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: archive.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local snapshot archive init failed: %w", err)
		}
		a.logger.Info("using local snapshot archive", zap.String("path", archive.Local.BaseDir))
		return store, nil
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: archive.GCS.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs snapshot archive init failed: %w", err)
		}
		a.gcsArchive = store
		a.logger.Info("using GCS snapshot archive", zap.String("bucket", archive.GCS.Bucket))
		return store, nil
	case config.ArchiveMinio:
		store, err := miniostorage.New(ctx, miniostorage.Config{
			Endpoint:  archive.Minio.Endpoint,
			AccessKey: archive.Minio.AccessKey,
			SecretKey: archive.Minio.SecretKey,
			Bucket:    archive.Minio.Bucket,
			UseSSL:    archive.Minio.UseSSL,
			Region:    archive.Minio.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("minio snapshot archive init failed: %w", err)
		}
		a.logger.Info("using S3 snapshot archive",
			zap.String("endpoint", archive.Minio.Endpoint),
			zap.String("bucket", archive.Minio.Bucket),
		)
		return store, nil
	default:
		a.logger.Info("snapshot archive disabled")
		return nil, nil
	}
}

// setupPublisher returns the publisher and the topic refresh events go to.
func (a *App) setupPublisher(ctx context.Context) (notice.Publisher, string, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		a.memoryPub = memorypublisher.New(memorypublisher.DefaultLimit)
		return a.memoryPub, localTopic, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPub = gcppublisher.New(client, a.cfg.PubSub.Topic)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.pubsubPub, a.cfg.PubSub.Topic, nil
}

func (a *App) setupSynchronizer(ctx context.Context, fetcher notice.Fetcher) error {
	mode, err := refresh.ParseMode(a.cfg.Refresh.Mode)
	if err != nil {
		return fmt.Errorf("refresh config: %w", err)
	}
	policy, err := refresh.ParseIDPolicy(a.cfg.Refresh.IDPolicy)
	if err != nil {
		return fmt.Errorf("refresh config: %w", err)
	}
	archiver, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	publisher, topic, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	a.syncer = refresh.New(a.store, fetcher, archiver, publisher, system.New(), refresh.Config{
		Mode:           mode,
		IDPolicy:       policy,
		Source:         a.cfg.Upstream.URL,
		SnapshotPrefix: a.cfg.Archive.Prefix,
		Topic:          topic,
	}, a.logger.Named("refresh"))
	a.logger.Info("refresh synchronizer ready",
		zap.String("mode", string(mode)),
		zap.String("id_policy", string(policy)),
	)
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Refresh runs one refresh and waits for any dispatched writes to land.
func (a *App) Refresh(ctx context.Context) (refresh.Result, error) {
	if a.syncer == nil {
		return refresh.Result{}, ErrNoStore
	}
	res, err := a.syncer.Refresh(ctx)
	a.syncer.Wait()
	if err != nil {
		return res, fmt.Errorf("refresh: %w", err)
	}
	return res, nil
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started",
			zap.Int("port", a.cfg.Server.Port),
			zap.String("variant", string(a.reader.Variant())),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	runErr := <-serveErr
	if err := a.Close(shutdownCtx); err != nil {
		a.logger.Warn("close failed", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("http server: %w", runErr)
	}
	return nil
}

// Close waits for dispatched refresh writes and releases every client.
func (a *App) Close(ctx context.Context) error {
	if a.syncer != nil {
		a.syncer.Wait()
	}
	var errs []error
	if a.pubsubPub != nil {
		if err := a.pubsubPub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if a.gcsArchive != nil {
		if err := a.gcsArchive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs close: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}
