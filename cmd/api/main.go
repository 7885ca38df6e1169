package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadrouting_backend/internal/board"
	"leadrouting_backend/internal/events"
	apphttp "leadrouting_backend/internal/http"
	"leadrouting_backend/internal/http/router"
	"leadrouting_backend/internal/routing"
	"leadrouting_backend/internal/scheduler"
	"leadrouting_backend/migrations"
	"leadrouting_backend/platform/config"
	"leadrouting_backend/platform/db"
	"leadrouting_backend/platform/logger"
	"leadrouting_backend/platform/redisconn"
	"leadrouting_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		applied, err := db.RunMigrations(ctx, cfg, migrations.FS)
		if err == nil && applied > 0 {
			log.Info("database migrations applied", "count", applied)
		}
		return err
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	rdb := initRedis(ctx, cfg, log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	deps := routing.Deps{Pool: pool, Bus: eventBus, Log: log}
	if rdb != nil {
		deps.Redis = rdb
	}
	if rebalancer, closeScheduler := initRebalanceScheduler(cfg, log); rebalancer != nil {
		defer closeScheduler()
		deps.Scheduler = rebalancer
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	assembled, err := routing.NewService(cfg, deps)
	if err != nil {
		log.Error("failed to initialize routing service", "error", err)
		panic("failed to initialize routing service: " + err.Error())
	}
	routingModule := routing.NewModule(assembled.Service, validator.New())

	hub := board.NewHub(log)
	defer hub.Close()
	relay := board.NewRelay(hub, deps.Redis, board.DefaultChannel, log)
	relay.Register(eventBus)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  pool,
		Modules: []apphttp.Module{
			routingModule,
			board.NewModule(hub),
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	if assembled.Deliveries != nil {
		purge := scheduler.NewDeliveryPurge(assembled.Deliveries, log, time.Hour)
		g.Go(func() error {
			purge.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Board streams never end on their own.
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		eventBus.Wait()
		os.Exit(1)
	}
	eventBus.Wait()
}

func initRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) redis.UniversalClient {
	if !cfg.IsRedisEnabled() {
		log.Warn("REDIS_URL not configured; delivery ledger in Postgres, board updates stay local")
		return nil
	}

	var client *redis.Client
	if err := withRetry(ctx, log, "redis connection", 5, time.Second, func() error {
		c, err := redisconn.New(ctx, cfg)
		if err != nil {
			return err
		}
		client = c
		return nil
	}); err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	return client
}

func initRebalanceScheduler(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if !cfg.IsRedisEnabled() {
		log.Warn("REDIS_URL not configured; stage rebalances run inline")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize rebalance scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
