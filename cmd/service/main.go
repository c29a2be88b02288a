package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/resmoray/nomad-weather-map/internal/autoupdate"
	"github.com/resmoray/nomad-weather-map/internal/catalog"
	"github.com/resmoray/nomad-weather-map/internal/circuitbreaker"
	"github.com/resmoray/nomad-weather-map/internal/config"
	httphandler "github.com/resmoray/nomad-weather-map/internal/http"
	"github.com/resmoray/nomad-weather-map/internal/loaders"
	"github.com/resmoray/nomad-weather-map/internal/manual"
	"github.com/resmoray/nomad-weather-map/internal/observability"
	"github.com/resmoray/nomad-weather-map/internal/resolver"
	"github.com/resmoray/nomad-weather-map/internal/snapshot"
	"github.com/resmoray/nomad-weather-map/internal/summary"
	"github.com/resmoray/nomad-weather-map/internal/summarycache"
	"github.com/resmoray/nomad-weather-map/internal/upstream"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	regions, err := catalog.Load(cfg.RegionCatalogPath)
	if err != nil {
		logger.Fatal("region catalog", zap.Error(err))
	}
	logger.Info("region catalog loaded", zap.String("path", cfg.RegionCatalogPath), zap.Int("regions", regions.Len()))

	scheduler := upstream.NewScheduler(cfg.UpstreamSpacing)
	observability.RegisterCooldownGauge(func() float64 {
		return scheduler.CooldownRemaining().Seconds()
	})

	fetcher := upstream.NewFetcher(scheduler, upstream.FetcherOptions{
		Timeout:             cfg.FetchTimeout,
		Attempts:            cfg.FetchAttempts,
		BaseDelay:           cfg.RetryBaseDelay,
		MinRateLimitBackoff: cfg.RateLimitMinBackoff,
	}, logger)

	if cfg.CircuitBreakerEnabled {
		fetcher.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "open_meteo",
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Warn("circuit breaker transition",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	builder := summary.NewBuilder(
		loaders.NewClimateLoader(fetcher, cfg.ClimateBaseURLs, cfg.YearCacheMaxEntries, logger),
		loaders.NewAirLoader(fetcher, cfg.AirBaseURL, cfg.YearCacheMaxEntries),
		loaders.NewMarineLoader(fetcher, cfg.MarineBaseURL, cfg.YearCacheMaxEntries),
		logger,
	)

	var mirror summarycache.Mirror
	var cachePing func() error
	var memcacheCloser *summarycache.MemcachedMirror
	if cfg.CacheBackend == "memcached" {
		mc := summarycache.NewMemcachedMirror(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, 24*time.Hour)
		mirror = mc
		cachePing = mc.Ping
		memcacheCloser = mc
		logger.Info("summary cache mirror: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	}

	cache := summarycache.NewStore(cfg.SummaryCacheDir, mirror, logger)
	snapshots := snapshot.NewStore(cfg.SnapshotDir, snapshot.MaxAges{
		Climate: cfg.ClimateMaxAge,
		Air:     cfg.AirMaxAge,
		Marine:  cfg.MarineMaxAge,
	}, logger)
	overrides := manual.NewLoader(cfg.ManualDataDir, logger)

	core := resolver.New(regions, builder, cache, snapshots, overrides, cfg.BaselineWindow, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoUpdateEnabled {
		updater := autoupdate.New(core, snapshots, cfg.AutoUpdateInterval, cfg.AutoUpdateBatchSize, cfg.UpstreamSpacing, logger)
		updater.Start(rootCtx)
		logger.Info("auto-updater started",
			zap.Duration("interval", cfg.AutoUpdateInterval),
			zap.Int("batch_size", cfg.AutoUpdateBatchSize))
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	tracker := httphandler.NewInFlightTracker()
	handler := httphandler.NewHandler(core, scheduler, cachePing, logger)
	router := httphandler.NewRouter(handler, tracker, limiter, cfg.RequestTimeout, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", tracker.Count()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := tracker.WaitForZero(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", tracker.Count()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
