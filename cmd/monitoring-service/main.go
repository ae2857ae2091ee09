package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/api"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/appdynamics"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/audit"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/cache"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/config"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/engine"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/metrics"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/otel"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/scheduler"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/store"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting intelligent-monitoring", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	mongoStore, err := store.NewMongo(ctx, cfg.Mongo, cfg.Retention)
	if err != nil {
		logger.Error("failed to connect mongo", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoStore.Close(disconnectCtx); err != nil {
			logger.Warn("mongo disconnect", slog.Any("error", err))
		}
	}()

	tokens := appdynamics.NewTokenSource(cfg.AppDynamics, nil, utils.ComponentLogger(logger, "appdynamics"))
	appdClient := appdynamics.NewClient(cfg.AppDynamics, tokens, nil, utils.ComponentLogger(logger, "appdynamics"))
	traceClient := otel.NewClient(cfg.OTel, nil, utils.ComponentLogger(logger, "otel"))

	recorder := audit.NewRecorder(mongoStore.Audit, utils.ComponentLogger(logger, "audit"))
	analyzer := engine.NewPatternAnalyzer(mongoStore.Patterns, mongoStore.Fixes,
		cfg.Collector.MinConfidenceForFixProposal, utils.ComponentLogger(logger, "engine"))
	workflow := engine.NewReviewWorkflow(mongoStore.Fixes, mongoStore.Patterns, recorder, utils.ComponentLogger(logger, "engine"))

	collector := scheduler.New(
		cfg.Collector,
		cfg.Retention,
		appdClient,
		traceClient,
		mongoStore.Events,
		mongoStore.Fixes,
		analyzer,
		utils.ComponentLogger(logger, "collector"),
	)
	go collector.Run(ctx)

	handler := api.NewHandler(
		mongoStore.Events,
		mongoStore.Patterns,
		mongoStore.Fixes,
		mongoStore.Audit,
		workflow,
		collector,
		appdClient,
		cacheProvider,
		cfg.Cache,
		mongoStore.Ping,
		utils.ComponentLogger(logger, "api"),
	)
	server := api.NewServer(cfg.Server, handler)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("api server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("intelligent-monitoring stopped")
}
