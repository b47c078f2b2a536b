package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smartai/router/internal/blacklist"
	"github.com/smartai/router/internal/cloudauth"
	"github.com/smartai/router/internal/config"
	"github.com/smartai/router/internal/cost"
	"github.com/smartai/router/internal/dispatch"
	"github.com/smartai/router/internal/modelmeta"
	"github.com/smartai/router/internal/routing"
	"github.com/smartai/router/internal/scheduler"
	"github.com/smartai/router/internal/server"
	"github.com/smartai/router/internal/storage/sqlite"
	"github.com/smartai/router/internal/telemetry"
	"github.com/smartai/router/internal/upstream"
	"github.com/smartai/router/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Server.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("starting sair", "version", version, "addr", cfg.Server.Addr())

	// Telemetry
	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(context.Background(),
			cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background()) //nolint:errcheck
	}

	// Optional SQLite mirror for usage records
	var (
		usageStore cost.UsageStore
		readyCheck server.ReadyChecker
	)
	if cfg.Storage.Database != "" {
		store, err := sqlite.New(cfg.Storage.Database)
		if err != nil {
			return err
		}
		defer store.Close()
		usageStore = store
		readyCheck = store.Ping
	}

	// Shared state
	registry := config.NewRegistry(cfg, configPath)
	runtime := config.NewRuntimeState()
	meta, err := modelmeta.LoadDir(cfg.Storage.CacheDir)
	if err != nil {
		return err
	}
	catalog := modelmeta.NewChannelCatalog(cfg.Storage.CacheDir, cfg.Channels)
	bl := blacklist.NewManager()
	interval := scheduler.NewInterval()

	pool := upstream.NewPool()
	defer pool.Close()

	router := routing.NewRouter(registry, runtime, meta, catalog, bl, logger)

	tracker, err := cost.NewTracker(cfg.Storage.LogDir, usageStore, logger)
	if err != nil {
		return err
	}
	sessions := cost.NewSessions()
	alerts := cost.NewAlertLog(cfg.Storage.LogDir)

	dispatcher := dispatch.New(dispatch.Deps{
		Registry:  registry,
		Runtime:   runtime,
		Router:    router,
		Meta:      meta,
		Blacklist: bl,
		Scheduler: interval,
		Pool:      pool,
		Estimator: cost.NewEstimator(),
		Tracker:   tracker,
		Sessions:  sessions,
		Alerts:    alerts,
		Metrics:   metrics,
		Logger:    logger,
	})

	handler := server.New(server.Deps{
		Auth:       cfg.Auth,
		Dispatcher: dispatcher,
		Router:     router,
		Registry:   registry,
		Runtime:    runtime,
		Blacklist:  bl,
		Meta:       meta,
		Catalog:    catalog,
		Tracker:    tracker,
		Sessions:   sessions,
		Metrics:    metrics,
		ReadyCheck: readyCheck,
	})

	// Background workers
	auth := cloudauth.NewAuthorizer()
	workers := []worker.Worker{tracker}
	if cfg.Tasks.HealthCheck.IsEnabled() {
		workers = append(workers, worker.NewRecoveryWorker(registry, bl, pool, auth, alerts, cfg.Tasks.HealthCheck.Interval))
	}
	if cfg.Tasks.CacheCleanup.IsEnabled() {
		workers = append(workers, worker.NewSweeper(bl, interval, router.Selections(), sessions, metrics, cfg.Tasks.CacheCleanup.Interval))
	}
	if cfg.Tasks.ModelDiscovery.IsEnabled() {
		workers = append(workers, worker.NewDiscoveryWorker(registry, catalog, pool, auth, cfg.Tasks.ModelDiscovery.Interval))
	}
	if cfg.Storage.ArchiveAfterDays > 0 {
		workers = append(workers, worker.NewArchiver(tracker, cfg.Storage.ArchiveAfterDays))
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.NewRunner(workers...).Run(workerCtx)
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("sair ready", "addr", cfg.Server.Addr(), "channels", len(registry.EnabledChannels()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		stopWorkers()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		stopWorkers()
		return err
	}

	// Workers drain after in-flight requests finish so the tracker flushes
	// their usage records.
	stopWorkers()
	select {
	case err := <-workerDone:
		if err != nil {
			slog.Warn("worker shutdown error", "error", err)
		}
	case <-time.After(35 * time.Second):
		slog.Warn("worker shutdown timed out")
	}

	slog.Info("sair stopped")
	return nil
}
