package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/splax/lbinsight/internal/app/migrate"
	"github.com/splax/lbinsight/internal/cache"
	httpx "github.com/splax/lbinsight/internal/http"
	"github.com/splax/lbinsight/internal/repository/postgres"
	"github.com/splax/lbinsight/internal/retry"
	"github.com/splax/lbinsight/internal/service/reports"
	"github.com/splax/lbinsight/internal/ws"
	"github.com/splax/lbinsight/pkg/config"
	"github.com/splax/lbinsight/pkg/logger"
)

func main() {
	configPath := pflag.String("config", os.Getenv("LBINSIGHT_CONFIG"), "optional YAML config file")
	skipMigrate := pflag.Bool("skip-migrate", false, "do not apply pending schema migrations on start (or SKIP_MIGRATIONS)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.ConnectTimeout)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if !*skipMigrate && !cfg.SkipMigrations {
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	warehouse := postgres.NewWarehouse(pool, postgres.Options{
		BatchSize: cfg.Warehouse.BatchSize,
		Retry:     retry.Policy{Attempts: cfg.Warehouse.RetryAttempts, Unit: cfg.Warehouse.RetryUnit},
		Logger:    log,
	})
	hub := ws.NewHub()
	defer hub.Close()

	var reportCache reports.Cache
	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		rc, err := cache.NewReportCache(addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ReportTTL, log)
		if err != nil {
			log.Warn("report cache unavailable", "error", err)
		} else {
			defer rc.Close()
			reportCache = rc
		}
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	reportSvc := reports.New(warehouse, reportCache, hub, log)
	go func() {
		if err := reportSvc.Relay(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("report relay stopped", "error", err)
		}
	}()

	router := httpx.NewRouter(log, reportSvc, hub, httpx.Options{
		Limiter:   limiter,
		RateLimit: cfg.API.RateLimit,
		DBHealth:  warehouse.Ping,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.API.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
