// Package main is the entry point for the resilience service. It loads
// configuration, builds the circuit breakers and their protected wrappers,
// starts the probe/metrics HTTP server, and handles graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dskow/resilience-core/internal/breaker"
	"github.com/dskow/resilience-core/internal/cache"
	"github.com/dskow/resilience-core/internal/config"
	"github.com/dskow/resilience-core/internal/logging"
	"github.com/dskow/resilience-core/internal/metrics"
	"github.com/dskow/resilience-core/internal/partner"
	"github.com/dskow/resilience-core/internal/readiness"
)

const (
	cacheBreakerName   = "cache-redis"
	partnerBreakerName = "partner-quotes"
)

func main() {
	configPath := flag.String("config", "configs/resilienced.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	sink, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer sink.Close()
	logger := sink.Logger

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"breakers", cfg.BreakerNames(),
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"admin_enabled", cfg.Admin.Enabled,
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Build every configured breaker and register it for health reporting.
	registry := breaker.NewRegistry()
	breakers := make(map[string]*breaker.CircuitBreaker, len(cfg.Breakers))
	for _, name := range cfg.BreakerNames() {
		cb, err := breaker.New(name, cfg.Breakers[name].ToOptions(), logger)
		if err != nil {
			logger.Error("failed to create breaker", "name", name, "error", err)
			os.Exit(1)
		}
		registry.Register(name, cb)
		breakers[name] = cb
	}

	// Cache wrapper around redis.
	cacheCB, ok := breakers[cacheBreakerName]
	if !ok {
		logger.Error("missing breaker config", "name", cacheBreakerName)
		os.Exit(1)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	cacheSvc := cache.New(rdb, cacheCB, cache.Config{
		LocalCapacity:  cfg.Cache.LocalCapacity,
		LocalTTL:       cfg.Cache.LocalTTL,
		IntentCapacity: cfg.Cache.IntentCapacity,
	}, logger)
	defer cacheSvc.Close()

	// Partner API wrapper, only when a base URL is configured.
	var partnerClient *partner.Client
	if cfg.Partner.BaseURL != "" {
		partnerCB, ok := breakers[partnerBreakerName]
		if !ok {
			logger.Error("missing breaker config", "name", partnerBreakerName)
			os.Exit(1)
		}
		partnerClient = partner.New(nil, partnerCB, partner.Config{
			StalenessWindow: cfg.Partner.StalenessWindow,
			HedgeDelay:      cfg.Partner.HedgeDelay,
			MaxBodyBytes:    cfg.Partner.MaxBodyBytes,
		}, logger)
	}

	// Probe, admin and metrics endpoints.
	mux := http.NewServeMux()
	var allowlist []string
	if cfg.Admin.Enabled {
		allowlist = cfg.Admin.IPAllowlist
	}
	readiness.New(registry, allowlist, logger).RegisterRoutes(mux)
	if cfg.Metrics.IsEnabled() {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", cfg.Metrics.Path)
	}

	// Config reloader: only the log level and the partner staleness window
	// are hot-reloadable.
	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()
	reloader.OnReload(func(newCfg *config.Config) {
		sink.SetLevel(newCfg.Logging.Level)
		if partnerClient != nil {
			partnerClient.SetStalenessWindow(newCfg.Partner.StalenessWindow)
		}
	})

	// Replay queued write intents whenever the cache dependency is healthy
	// again.
	replayCtx, stopReplay := context.WithCancel(context.Background())
	defer stopReplay()
	go replayLoop(replayCtx, cacheSvc, cfg.Cache.ReplayInterval)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting resilience service", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("resilience service stopped gracefully")
}

// replayLoop periodically re-attempts queued write intents once the cache
// breaker has closed again.
func replayLoop(ctx context.Context, svc *cache.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if svc.PendingWrites() == 0 {
				continue
			}
			if svc.Breaker().State() != breaker.StateClosed {
				continue
			}
			svc.ReplayIntents(ctx)
		}
	}
}
