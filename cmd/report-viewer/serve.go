package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/report-viewer/internal/api"
	"github.com/miradorstack/report-viewer/internal/cache"
	"github.com/miradorstack/report-viewer/internal/config"
	"github.com/miradorstack/report-viewer/internal/engine"
	"github.com/miradorstack/report-viewer/internal/metrics"
	"github.com/miradorstack/report-viewer/internal/repo"
	"github.com/miradorstack/report-viewer/internal/services"
	"github.com/miradorstack/report-viewer/internal/utils"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC, REST and metrics servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	logger.Info("starting report-viewer",
		slog.String("grpc_address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		cacheProvider = cache.NewMemoryProvider()
	}
	defer cacheProvider.Close()

	if cfg.Backend.BaseURL == "" {
		logger.Warn("backend base URL not configured; report and action requests will fail")
	}
	client := repo.NewDashboardClient(
		cfg.Backend.BaseURL,
		cfg.Backend.ReportPath,
		cfg.Backend.RegeneratePath,
		cfg.Backend.ActionPath,
		cfg.Backend.Timeout,
		cacheProvider,
		cfg.Cache.ReportTTL,
		logger,
	)

	rules, err := engine.NewRuleSet(cfg.Rules.Path, logger)
	if err != nil {
		return err
	}

	viewer := services.NewViewerService(logger, client, client, rules, cfg.Notifications.BufferSize)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go viewer.ExpireIdle(ctx, cfg.Sessions.IdleTTL)
	go func() {
		if watchErr := rules.Watch(ctx); watchErr != nil {
			logger.Warn("rule pack hot reload disabled", slog.Any("error", watchErr))
		}
	}()

	var grpcServer *api.Server
	if cfg.Server.Address != "" {
		grpcServer, err = api.NewServer(cfg.Server, api.NewGRPCHandlers(viewer, logger))
		if err != nil {
			return err
		}
		go func() {
			logger.Info("gRPC server listening", slog.String("address", grpcServer.Address()))
			if serveErr := grpcServer.Start(); serveErr != nil {
				logger.Error("gRPC server exited", slog.Any("error", serveErr))
				stop()
			}
		}()
	}

	var webAPI *api.WebAPI
	if cfg.Server.HTTPAddress != "" {
		webAPI = api.NewWebAPI(cfg.Server.HTTPAddress, viewer, logger)
		go func() {
			if serveErr := webAPI.Start(); serveErr != nil {
				logger.Error("http server exited", slog.Any("error", serveErr))
				stop()
			}
		}()
	}

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

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if webAPI != nil {
		if err := webAPI.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", slog.Any("error", err))
		}
	}

	drained := make(chan struct{})
	go func() {
		viewer.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("action runs still in flight at shutdown")
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("report-viewer stopped")
	return nil
}
