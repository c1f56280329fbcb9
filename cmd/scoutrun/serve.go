package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/josepht96/scoutrun/internal/api"
	"github.com/josepht96/scoutrun/internal/auth"
	"github.com/josepht96/scoutrun/internal/config"
	"github.com/josepht96/scoutrun/internal/executor"
	"github.com/josepht96/scoutrun/internal/metrics"
	"github.com/josepht96/scoutrun/internal/report"
	"github.com/josepht96/scoutrun/internal/runner"
	"github.com/josepht96/scoutrun/internal/scheduler"
	"github.com/josepht96/scoutrun/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the periodic collection monitor",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting scoutrun", "version", version, "port", cfg.Port, "interval", cfg.Interval.String())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := os.Stat(cfg.CollectionsDir); err == nil {
		w := watcher.NewCollectionWatcher(cfg.CollectionsDir, logger)
		if _, err := w.Import(ctx, store); err != nil {
			logger.Error("failed to import collection definitions", "directory", cfg.CollectionsDir, "error", err)
		}
	} else {
		logger.Info("collections directory not found, skipping import", "directory", cfg.CollectionsDir)
	}

	transport, err := executor.NewHTTPExecutor(executor.HTTPConfig{
		MaxIdleConns:       cfg.HTTP.MaxIdleConns,
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
		ProxyURL:           cfg.HTTP.ProxyURL,
	})
	if err != nil {
		return err
	}

	exporter := metrics.NewPrometheusExporter(prometheus.DefaultRegisterer)
	run := runner.New(runner.Config{
		Store:            store,
		Transport:        transport,
		Observer:         exporter,
		Logger:           logger,
		DefaultTimeoutMS: int(cfg.HTTP.DefaultTimeout / time.Millisecond),
	})

	sched := scheduler.NewScheduler(scheduler.Config{
		Store:    store,
		Runner:   run,
		Logger:   logger,
		Interval: cfg.Interval,
	})
	sched.Start()
	defer sched.Stop()

	var authenticator auth.Authenticator = auth.Anonymous{}
	if cfg.Auth.JWTSecret != "" {
		authenticator = auth.NewJWTIdentity(cfg.Auth.JWTSecret)
	} else {
		logger.Warn("JWT_SECRET not set, API authentication disabled")
	}

	server := api.NewServer(api.Config{
		Storage:       store,
		Runner:        run,
		Reports:       report.NewService(store, exporter, logger),
		Scheduler:     sched,
		Authenticator: authenticator,
		Limiter:       auth.NewTokenBucketLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		Gatherer:      prometheus.DefaultGatherer,
		Logger:        logger,
		Port:          cfg.Port,
	})

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("HTTP server: %w", err)
	}
	logger.Info("scoutrun stopped")
	return nil
}
