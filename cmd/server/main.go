// Package main is the entrypoint for the artifactflow API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/artifactflow/internal/api"
	"github.com/kiranshivaraju/artifactflow/internal/api/handler"
	mw "github.com/kiranshivaraju/artifactflow/internal/api/middleware"
	"github.com/kiranshivaraju/artifactflow/internal/api/response"
	"github.com/kiranshivaraju/artifactflow/internal/cache"
	"github.com/kiranshivaraju/artifactflow/internal/capability"
	"github.com/kiranshivaraju/artifactflow/internal/config"
	"github.com/kiranshivaraju/artifactflow/internal/engine"
	"github.com/kiranshivaraju/artifactflow/internal/orchestrator"
	"github.com/kiranshivaraju/artifactflow/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; a missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"store", cfg.Database.Backend,
		"storage", cfg.Storage.Provider,
		"engine", cfg.Engine.Provider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Job store
	jobStore, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Capability issuer and processing engine
	issuer, err := capability.NewIssuer(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create capability issuer: %w", err)
	}
	slog.Info("capability issuer initialized", "provider", issuer.Name())

	eng, err := engine.NewEngine(ctx, cfg.Engine)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if c, ok := eng.(io.Closer); ok {
		defer c.Close()
	}
	slog.Info("engine initialized", "engine", eng.Name())

	svc := orchestrator.NewService(jobStore, eng, issuer, redisCache, orchestrator.ConfigFrom(cfg))

	// 5. Optional background reconciliation
	var wg sync.WaitGroup
	if cfg.Orchestrator.ReconcileInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.RunSweeper(ctx, cfg.Orchestrator.ReconcileInterval)
		}()
	}

	// 6. Build router with dependencies
	deps := api.Dependencies{
		RateLimit:   mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),
		CORSOrigins: cfg.Server.CORSAllowedOrigins,

		HealthHandler:   healthHandler(jobStore, redisCache),
		UploadHandler:   handler.NewUploadHandler(svc),
		TriggerHandler:  handler.NewTriggerHandler(svc),
		ListJobsHandler: handler.NewListJobsHandler(svc),
		StatusHandler:   handler.NewStatusHandler(svc),
		DownloadHandler: handler.NewDownloadHandler(svc),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	wg.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// openStore connects the configured job store backend. The returned func
// releases its resources.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	if cfg.Backend == "memory" {
		slog.Warn("using in-memory job store; jobs are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.URL, cfg.MigrationsDir); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	return store.NewPostgresStore(pool), pool.Close, nil
}

// pinger is the slice of store.Store and cache.Cache the health check needs.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks job store and cache connectivity.
func healthHandler(s, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
