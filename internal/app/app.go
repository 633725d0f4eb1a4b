// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/config"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/dashboard"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
	collyfetcher "github.com/AlaingToul/mybinder-arrete-secheresse/internal/fetcher/colly"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/hash/sha256"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/headless"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/id/uuid"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/policy/retry"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/publisher/pubsub"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/storage"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/storage/memory"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/storage/postgres"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/telemetry"
)

// App holds the shared services built from the configuration.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	service  *dashboard.Service
	renderer headless.Renderer
	closers  []func() error
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Service returns the dashboard service.
func (a *App) Service() *dashboard.Service {
	return a.service
}

// Renderer returns the PNG renderer; a Noop renderer when headless export is
// disabled or Chrome could not be started.
func (a *App) Renderer() headless.Renderer {
	return a.renderer
}

// New builds every service and loads the reference layers. It fails fast when
// a configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.initTracing(ctx); err != nil {
		return nil, err
	}

	blobs, closeBlobs, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.closers = append(a.closers, closeBlobs)
	logger.Info("storage ready", zap.String("backend", cfg.Storage.Backend))

	history, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.openPublisher(ctx)
	if err != nil {
		return nil, err
	}
	a.renderer = a.openRenderer()

	fetcher := retry.NewFetcher(collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.Timeout(),
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
	}), retry.NewExponentialPolicy(
		cfg.HTTP.MaxAttempts,
		time.Duration(cfg.HTTP.RetryBaseMS)*time.Millisecond,
		cfg.Timeout(),
	), nil, logger.Named("retry"))
	a.service, err = dashboard.New(dashboard.Deps{
		Fetcher:   fetcher,
		Blobs:     blobs,
		History:   history,
		Publisher: publisher,
		Hasher:    sha256.New(),
		IDs:       uuid.New(),
	}, dashboard.Config{
		ZonesURL:        cfg.Sources.ZonesURL,
		ArchiveURL:      cfg.Sources.ArchiveURL,
		ItineraryPath:   cfg.Sources.ItineraryPath,
		DepartmentsPath: cfg.Sources.DepartmentsPath,
		Topic:           cfg.PubSub.TopicName,
		CacheSize:       cfg.Cache.Size,
		CacheTTL:        cfg.CacheTTL(),
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		// Each attempt may use the full download timeout, plus the waits between them.
		RefreshTimeout: cfg.Timeout() * time.Duration(max(cfg.HTTP.MaxAttempts, 1)+1),
	}, logger.Named("dashboard"))
	if err != nil {
		return nil, fmt.Errorf("init dashboard: %w", err)
	}
	if err := a.service.LoadReferences(ctx); err != nil {
		return nil, fmt.Errorf("load reference layers: %w", err)
	}

	ok = true
	logger.Info("application services initialized")
	return a, nil
}

func (a *App) initTracing(ctx context.Context) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: "secheresse",
		ProjectID:   a.cfg.Tracing.ProjectID,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		return tp.Shutdown(context.Background())
	})
	a.logger.Info("tracing enabled", zap.String("project_id", a.cfg.Tracing.ProjectID))
	return nil
}

func (a *App) openHistory(ctx context.Context) (drought.HistoryStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory indicator history")
		return memory.NewHistoryStore(), nil
	}
	store, err := postgres.NewHistoryStore(ctx, postgres.HistoryStoreConfig{
		DSN:   a.cfg.DB.DSN,
		Table: a.cfg.DB.Table,
	})
	if err != nil {
		return nil, fmt.Errorf("init history store: %w", err)
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}
	a.logger.Info("using postgres indicator history", zap.String("table", a.cfg.DB.Table))
	return store, nil
}

func (a *App) openPublisher(ctx context.Context) (drought.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Info("snapshot notifications disabled")
		return nil, nil
	}
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	publisher := pubsub.New(client, map[string]string{"service": "secheresse"})
	a.closers = append(a.closers, func() error {
		publisher.Stop()
		return client.Close()
	})
	a.logger.Info("publishing snapshots", zap.String("topic", a.cfg.PubSub.TopicName))
	return publisher, nil
}

func (a *App) openRenderer() headless.Renderer {
	if !a.cfg.Headless.Enabled {
		return headless.NewNoop()
	}
	renderer, err := headless.NewChromedp(headless.Config{
		MaxParallel:       1,
		UserAgent:         a.cfg.HTTP.UserAgent,
		Width:             a.cfg.Headless.Width,
		Height:            a.cfg.Headless.Height,
		Settle:            a.cfg.SettleTime(),
		NavigationTimeout: a.cfg.NavigationTimeout(),
	})
	if err != nil {
		a.logger.Warn("headless renderer init failed, PNG export disabled", zap.Error(err))
		return headless.NewNoop()
	}
	a.closers = append(a.closers, func() error {
		renderer.Close()
		return nil
	})
	return renderer
}

// Close releases every service in reverse order of creation and flushes the
// logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
	// Sync fails on stdout/stderr on some platforms; nothing useful to do then.
	_ = a.logger.Sync()
}
