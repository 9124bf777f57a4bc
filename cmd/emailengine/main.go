// Command emailengine runs the transactional email service: the operator
// HTTP API, the dispatch workers and the periodic sweeps.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/icycon/emailengine"
	"github.com/icycon/emailengine/internal/config"
	"github.com/icycon/emailengine/internal/httpapi"
	"github.com/icycon/emailengine/internal/tasks"
	"github.com/icycon/emailengine/pkg/consent"
	"github.com/icycon/emailengine/pkg/db"
	"github.com/icycon/emailengine/pkg/distlock"
	"github.com/icycon/emailengine/pkg/health"
	"github.com/icycon/emailengine/pkg/job"
	"github.com/icycon/emailengine/pkg/logger"
	"github.com/icycon/emailengine/pkg/redis"
	"github.com/icycon/emailengine/pkg/store/postgres"
)

// sweepLockTTL outlives any single sweep; locks are released explicitly.
const sweepLockTTL = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg.Sentry.MinLevel = slog.LevelWarn
	log := logger.NewWithSentry(cfg.Sentry, cfg.Log,
		logger.SendIDExtractor(),
		logger.TenantIDExtractor(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("emailengine stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("emailengine stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Shutdown(pool)(context.Background()) }()
	sqlDB := db.StdDB(pool)

	if cfg.DB.AutoMigrate {
		if err := db.Migrate(ctx, sqlDB, postgres.Migrations, "migrations", cfg.DB.MigrationsTable, log); err != nil {
			return err
		}
		if err := job.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	var redisClient goredis.UniversalClient
	if cfg.Redis.Enabled() {
		redisClient, err = redis.Open(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
	}

	provider, err := newProvider(ctx, cfg, log)
	if err != nil {
		return err
	}

	consents := consent.NewPostgres(sqlDB)
	enqueuer := &deferredEnqueuer{}

	opts := append(cfg.Engine.Options(),
		emailengine.WithConsent(consents),
		emailengine.WithContent(newContentResolver(cfg.ContentCache, sqlDB, redisClient)),
		emailengine.WithLogger(log),
		emailengine.WithSubmitHook(tasks.EnqueueDispatch(enqueuer)),
		emailengine.WithLock(func(name string) distlock.Lock {
			return distlock.New(redisClient, sqlDB, "emailengine:sweep:"+name, sweepLockTTL)
		}),
	)
	engine := emailengine.New(postgres.New(sqlDB), provider, opts...)

	jobOpts := append(tasks.Options(engine, cfg.Engine.Schedules, log),
		job.WithLogger(log),
		job.WithMaxWorkers(cfg.Jobs.Workers),
	)
	if cfg.Jobs.SweepsOnStart {
		jobOpts = append(jobOpts, job.WithRunOnStart())
	}
	jobs, err := job.NewManager(pool, jobOpts...)
	if err != nil {
		return err
	}
	enqueuer.set(jobs)

	checks := health.Checks{
		"postgres": db.Healthcheck(pool),
		"jobs":     job.Healthcheck(jobs),
	}
	if redisClient != nil {
		checks["redis"] = redis.Healthcheck(redisClient)
	}

	router := httpapi.NewRouter(engine, consents,
		httpapi.WithLogger(log),
		httpapi.WithHealthChecks(checks),
		httpapi.WithCORSOrigins(cfg.HTTP.CORSOrigins...),
	)

	if err := jobs.Start(ctx); err != nil {
		return err
	}
	log.Info("emailengine started",
		slog.String("provider", cfg.Engine.Provider()),
		slog.Bool("redis_locks", redisClient != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpapi.Serve(gctx, httpapi.ServerConfig{
			Addr:            cfg.HTTP.Addr,
			ReadTimeout:     cfg.HTTP.ReadTimeout,
			WriteTimeout:    cfg.HTTP.WriteTimeout,
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		}, router, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return jobs.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
