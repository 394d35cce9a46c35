// Package bootstrap wires the application together: configuration, logging,
// cache backend, indicator store, feed ingestion and the matching engine.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tripwire/api"
	"tripwire/config"
	"tripwire/feed"
	"tripwire/match"
	"tripwire/stats"
	"tripwire/storage"

	"go.uber.org/zap"
)

// App holds every running component of the service.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Cache     storage.Cache
	Store     *storage.Store
	Registry  *stats.Registry
	Ingestor  *feed.Ingestor
	Scheduler *feed.Scheduler
	Engine    *match.Engine
	APIServer *api.API

	shutdownCh chan struct{}
}

// NewApp builds the application from configuration. Construction fails fast
// on configuration errors or an unreachable cache backend.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	sugar := logger.Sugar()

	cache := storage.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		cache.Close()
		return nil, fmt.Errorf("cache backend unreachable at %s: %w", cfg.Redis.Addr, err)
	}

	registry := stats.NewRegistry()

	store, err := storage.NewStore(cache, storage.StoreConfig{
		TTL:           cfg.Store.TTL,
		LRUSize:       cfg.Store.LRUSize,
		LookupTimeout: cfg.Store.LookupTimeout,
	}, registry, sugar)
	if err != nil {
		cache.Close()
		return nil, err
	}

	fetcher := feed.NewHTTPFetcher(cfg.Feeds.FetchTimeout)
	ingestor := feed.NewIngestor(store, fetcher, registry, sugar)
	ingestor.SetMaxConcurrentSyncs(cfg.Feeds.MaxConcurrentSyncs)

	scheduler := feed.NewScheduler(ingestor, cfg.FeedSources(), cfg.Feeds.RefreshSchedule, sugar)

	matcherCfg, err := cfg.MatcherConfig()
	if err != nil {
		cache.Close()
		return nil, err
	}
	engine, err := match.NewEngine(store, matcherCfg, registry, sugar)
	if err != nil {
		cache.Close()
		return nil, err
	}

	apiServer := api.New(cfg.API.Addr, store, engine, registry, sugar)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Sugar:      sugar,
		Cache:      cache,
		Store:      store,
		Registry:   registry,
		Ingestor:   ingestor,
		Scheduler:  scheduler,
		Engine:     engine,
		APIServer:  apiServer,
		shutdownCh: make(chan struct{}),
	}, nil
}

// Start launches the API server and feed scheduler, and performs an initial
// feed sync in the background.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.APIServer.Start(); err != nil {
			a.Sugar.Errorf("API server failed: %v", err)
		}
	}()

	if len(a.Config.Feeds.Sources) > 0 {
		go func() {
			result := a.Ingestor.Ingest(ctx, a.Config.FeedSources()...)
			a.Sugar.Infow("Initial feed sync completed",
				"added", result.Added, "merged", result.Merged,
				"skipped", result.Skipped, "errors", result.Errors)
		}()

		if a.Config.Feeds.RefreshSchedule != "" {
			if err := a.Scheduler.Start(); err != nil {
				return fmt.Errorf("failed to start feed scheduler: %w", err)
			}
		}
	}
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM or programmatic shutdown.
func (a *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.Sugar.Infof("Received signal %s, shutting down", sig)
	case <-a.shutdownCh:
	}
}

// Shutdown stops all components in reverse start order.
func (a *App) Shutdown() {
	a.Scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.APIServer.Shutdown(ctx); err != nil {
		a.Sugar.Warnf("API shutdown error: %v", err)
	}

	if err := a.Cache.Close(); err != nil {
		a.Sugar.Warnf("Cache close error: %v", err)
	}

	a.Logger.Sync() //nolint:errcheck
}
