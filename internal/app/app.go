// Package app wires configuration into a running pricing service.
// Both the server binary and the CLI build their components here.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"bundle-pricing/adapters/hclfile"
	"bundle-pricing/adapters/rediscache"
	"bundle-pricing/api"
	"bundle-pricing/core/cache"
	"bundle-pricing/core/engine"
	"bundle-pricing/core/monitor"
	"bundle-pricing/core/stream"
	"bundle-pricing/db"
	"bundle-pricing/internal/config"
	"bundle-pricing/internal/errors"
	"bundle-pricing/internal/logging"
)

// App holds every long-lived component of the service
type App struct {
	Config      *config.Config
	Engine      *engine.Engine
	Strategies  engine.StrategySource
	Catalog     engine.BundleCatalog
	Cache       *cache.Cache
	Sweeper     *cache.Sweeper
	Monitor     *monitor.Monitor
	Broadcaster *stream.Broadcaster

	// Set only with the redis backend
	Redis     *redis.Client
	Publisher *rediscache.Publisher
	Relay     *rediscache.Relay

	// Set only when a postgres source is configured
	Repository *db.Repository

	Registry *prometheus.Registry

	root    *zap.Logger
	logger  *zap.Logger
	closers []func() error
}

// Build creates the components selected by cfg. Close releases them.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.Or(logger)
	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		root:     logger,
		logger:   logging.Component(logger, "app"),
	}

	if err := a.buildSources(ctx, logger); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildCache(ctx, logger); err != nil {
		a.Close()
		return nil, err
	}

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Monitor = monitor.New(cfg.Monitor.ToMonitor(), a.Registry, logger)
	a.Broadcaster = stream.NewBroadcaster(logger)
	if a.Redis != nil {
		a.Relay = rediscache.NewRelay(a.Redis, a.Broadcaster, logger)
	}

	ec := cfg.Engine.ToEngine()
	ec.Logger = logger
	a.Engine = engine.NewEngine(a.Strategies, a.Catalog, ec)
	return a, nil
}

func (a *App) buildSources(ctx context.Context, logger *zap.Logger) error {
	cfg := a.Config

	if cfg.Strategy.Source == config.SourcePostgres || cfg.Catalog.Source == config.SourcePostgres {
		dsn := cfg.Strategy.DSN
		if cfg.Strategy.Source != config.SourcePostgres {
			dsn = cfg.Catalog.DSN
		}
		gdb, err := db.Open(ctx, dsn, db.PoolConfig{})
		if err != nil {
			return errors.Wrap(errors.TypeConfig, "failed to open strategy database", err)
		}
		a.closers = append(a.closers, closeGorm(gdb))
		a.Repository = db.NewRepository(gdb, logger)
	}

	switch cfg.Strategy.Source {
	case config.SourcePostgres:
		a.Strategies = a.Repository
	default:
		src, err := hclfile.NewStrategySource(cfg.Strategy.Path, logger)
		if err != nil {
			return err
		}
		a.Strategies = src
	}

	switch cfg.Catalog.Source {
	case config.SourcePostgres:
		a.Catalog = a.Repository
	default:
		catalog, err := hclfile.LoadCatalog(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		a.Catalog = catalog
	}
	return nil
}

func (a *App) buildCache(ctx context.Context, logger *zap.Logger) error {
	cfg := a.Config.Cache
	if !cfg.Enabled {
		return nil
	}

	var store cache.Store
	switch cfg.Backend {
	case config.BackendRedis:
		client, err := rediscache.Dial(ctx, cfg.RedisURL, cfg.RedisDB)
		if err != nil {
			return errors.Wrap(errors.TypeCacheUnavailable, "failed to connect to redis", err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)

		store = rediscache.NewStore(client, rediscache.WithPrefix(cfg.KeyPrefix))
		a.Publisher = rediscache.NewPublisher(client, rediscache.DefaultPublishBuffer, logger)
		if err := a.Publisher.Register(a.Registry); err != nil {
			a.Publisher.Close()
			return errors.Wrap(errors.TypeInternal, "failed to register publisher metrics", err)
		}
		a.closers = append(a.closers, func() error {
			a.Publisher.Close()
			return nil
		})
	default:
		store = cache.NewMemoryStore()
	}

	a.Cache = cache.New(store, cache.Options{TTL: cfg.TTL(), Logger: logger})
	a.Sweeper = cache.NewSweeper(store, cfg.SweepInterval(), cfg.StaleAfter(), logger)
	return nil
}

// StepSink is where streamed calculations publish. With Redis, steps go
// through the channel so every instance's relay can deliver them.
func (a *App) StepSink() engine.StepSink {
	if a.Publisher != nil {
		return a.Publisher
	}
	return a.Broadcaster
}

// Server creates the API server over the app's components. It registers
// HTTP metrics with the app's registry, so call it once per app.
func (a *App) Server(version string) *api.Server {
	opts := api.Options{
		Engine:        a.Engine,
		Cache:         a.Cache,
		Sweeper:       a.Sweeper,
		Monitor:       a.Monitor,
		Broadcaster:   a.Broadcaster,
		Loader:        a.Config.Batching.ToLoader(),
		Registerer:    a.Registry,
		Gatherer:      a.Registry,
		StepSink:      a.StepSink(),
		WebhookSecret: a.Config.Server.WebhookSecret,
		Version:       version,
		Logger:        a.root,
	}
	if r, ok := a.Strategies.(api.Reloader); ok {
		opts.Reloader = r
	}
	return api.NewServer(opts)
}

// Serve runs the HTTP server plus the background sweeper and relay until
// ctx is done or one of them fails
func (a *App) Serve(ctx context.Context, version string) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.Sweeper != nil && a.Config.Cache.SweepInterval() > 0 {
		g.Go(func() error {
			a.Sweeper.Run(ctx)
			return nil
		})
	}

	if a.Relay != nil {
		g.Go(func() error {
			if err := a.Relay.Run(ctx, nil); err != nil && ctx.Err() == nil {
				return fmt.Errorf("step relay stopped: %w", err)
			}
			return nil
		})
	}

	srv := a.Server(version)
	g.Go(func() error {
		return srv.Run(ctx, a.Config.Server.Addr, a.Config.Server.ShutdownTimeout())
	})

	return g.Wait()
}

// Close releases connections in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func closeGorm(gdb *gorm.DB) func() error {
	return func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
}
