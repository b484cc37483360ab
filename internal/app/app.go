package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"

	"github.com/MrSnakeDoc/integrator/internal/config"
	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/httpserver"
	"github.com/MrSnakeDoc/integrator/internal/httpserver/deps"
	"github.com/MrSnakeDoc/integrator/internal/ingest"
	"github.com/MrSnakeDoc/integrator/internal/logger"
	"github.com/MrSnakeDoc/integrator/internal/redis"
	"github.com/MrSnakeDoc/integrator/internal/scheduler"
	"github.com/MrSnakeDoc/integrator/internal/store/memory"
	"github.com/MrSnakeDoc/integrator/internal/store/postgres"
	redisstore "github.com/MrSnakeDoc/integrator/internal/store/redis"
	"github.com/MrSnakeDoc/integrator/internal/store/sqlite"
	"github.com/MrSnakeDoc/integrator/internal/telemetry"
	"github.com/MrSnakeDoc/integrator/internal/upstream"
	"github.com/MrSnakeDoc/integrator/internal/version"
)

// App owns every long-lived component. Commands build one with New and
// release it with Close.
type App struct {
	cfg         *config.Config
	logger      logger.Logger
	store       domain.Store
	redisClient *goredis.Client
	journal     *redisstore.Journal
	workflow    *ingest.Workflow

	shutdownMetrics func(context.Context) error
}

// New opens the snapshot store, the optional Redis journal and the metrics
// pipeline, and builds the ingestion workflow on top of them.
func New(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: loggerClient}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	loggerClient.Info("snapshot store ready", logger.String("driver", cfg.StoreDriver))

	mp, shutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdownMetrics = shutdown
	metrics, err := telemetry.NewIngestMetrics(mp)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init ingest metrics: %w", err)
	}

	opts := []ingest.Option{ingest.WithMetrics(metrics)}

	if cfg.RedisEnabled() {
		loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		client, err := redis.New(ctx, redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			// The journal is optional: snapshots keep working without it.
			loggerClient.Warn("redis unavailable, run journal disabled", logger.Error(err))
		} else {
			a.redisClient = client
			a.journal = redisstore.NewJournal(client)
			opts = append(opts, ingest.WithJournal(a.journal))
			loggerClient.Info("Redis initialized successfully")
		}
	} else {
		loggerClient.Info("redis not configured, run journal disabled")
	}

	fetcher := upstream.New(cfg.UpstreamURL, cfg.FetchTimeout)
	a.workflow = ingest.New(fetcher, store, loggerClient, opts...)

	return a, nil
}

// OpenStore opens (and migrates) the store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.Config) (domain.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", cfg.SQLitePath, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Migrate applies pending schema migrations and reports whether any ran.
// The memory driver has no schema.
func Migrate(ctx context.Context, cfg *config.Config) (bool, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return false, nil
	case config.DriverPostgres:
		return postgres.Migrate(ctx, cfg.PostgresDSN)
	case config.DriverSQLite:
		return sqlite.Migrate(ctx, cfg.SQLitePath)
	default:
		return false, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Import runs one ingestion.
func (a *App) Import(ctx context.Context, force bool, trigger string) ingest.Outcome {
	return a.workflow.Run(ctx, ingest.RunOptions{Force: force, Trigger: trigger})
}

// Store exposes the snapshot store.
func (a *App) Store() domain.Store { return a.store }

// Serve runs the HTTP server and the ingest scheduler until ctx is cancelled
// or the server fails, then shuts both down.
func (a *App) Serve(ctx context.Context) error {
	a.logger.Infof("🚀 Starting Integrator v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("Integrator %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	d := deps.Deps{
		Logger:          a.logger,
		StartTime:       time.Now(),
		Version:         version.Version,
		Commit:          version.Commit,
		BuildDate:       version.BuildDate,
		GoVersion:       version.GoVersion,
		TimeNow:         time.Now,
		APIKey:          a.cfg.APIKey,
		AllowedHosts:    a.cfg.AllowedHosts,
		AllowedCIDRS:    a.cfg.AllowedCIDRS,
		TrustProxy:      a.cfg.TrustProxy,
		RateLimitBurst:  a.cfg.RateLimitBurst,
		RateLimitPerMin: a.cfg.RateLimitPerMin,
		RequestTimeout:  a.cfg.RequestTimeout,
		ImportTimeout:   a.cfg.ImportTimeout(),
		Store:           a.store,
		Importer:        a.workflow,
	}
	if a.journal != nil {
		d.Journal = a.journal
	}

	var sched *scheduler.IngestScheduler
	if a.cfg.IngestInterval > 0 {
		sched = scheduler.NewIngestScheduler(
			a.workflow,
			a.logger,
			a.cfg.IngestInterval,
			a.cfg.IngestOnStart,
			make(chan struct{}, 1),
		)
		d.ImportTrigger = sched.Trigger
		sched.Start(ctx)
	} else {
		a.logger.Info("ingest interval is 0, scheduler disabled")
	}

	server := httpserver.New(a.cfg, a.logger, d)

	var wg conc.WaitGroup
	errCh := make(chan error, 1)
	wg.Go(func() {
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	})

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to stop server: %w", err))
	}
	wg.Wait()

	return runErr
}

// Close releases the store, Redis and the metrics exporter.
func (a *App) Close(ctx context.Context) {
	if a.shutdownMetrics != nil {
		if err := a.shutdownMetrics(ctx); err != nil {
			a.logger.Warnf("failed to flush metrics: %v", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warnf("failed to close store: %v", err)
		}
	}
	a.logger.Info("✅ Integrator stopped cleanly")
}
