package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restartwatch/internal/api"
	"restartwatch/internal/config"
	"restartwatch/internal/db"
	"restartwatch/internal/docker"
	"restartwatch/internal/ledger"
	"restartwatch/internal/metrics"
	"restartwatch/internal/monitor"
	"restartwatch/internal/notify"
	"restartwatch/internal/probe"
	"restartwatch/internal/store"
)

const (
	preflightTimeout = 10 * time.Second
	shutdownTimeout  = 5 * time.Second
)

func run(parent context.Context, cfg config.Config) error {
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	attrs := []any{"version", version}
	for k, v := range cfg.Summary() {
		attrs = append(attrs, k, v)
	}
	logger.Info("restartwatch starting", attrs...)

	rt, err := docker.New(cfg.DockerHost)
	if err != nil {
		return fmt.Errorf("%w: docker client: %v", config.ErrInvalid, err)
	}
	defer rt.Close()
	if err := preflight(ctx, rt, cfg.ContainerName, logger); err != nil {
		return err
	}

	collector := metrics.New()
	opts := []monitor.Option{
		monitor.WithLogger(logger),
		monitor.WithMetrics(collector),
	}

	sinks := notify.Multi{
		notify.NewWebhook(cfg.NotifyWebhook),
		notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID),
	}

	var history api.History
	if cfg.StatePath != "" {
		database, err := db.Open(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("%w: open state db: %v", config.ErrInvalid, err)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate state db: %w", err)
		}

		st := store.New(database.SQL, cfg.ContainerName)
		led := ledger.New(st, logger)
		if err := led.Restore(ctx, time.Now()); err != nil {
			logger.Warn("restart history not restored", "path", cfg.StatePath, "error", err)
		} else {
			logger.Info("restart history restored", "path", cfg.StatePath, "recent_restarts", led.CountRecent(time.Now()))
		}
		opts = append(opts, monitor.WithLedger(led))
		sinks = append(sinks, st)
		history = st
	}

	// The API server reads status from the monitor and also receives its
	// events, so the notifier is bound after both exist.
	notifier := notify.Func(func(ctx context.Context, e notify.Event) error {
		return sinks.Notify(ctx, e)
	})
	mon := monitor.New(cfg, probe.NewHTTP(version), rt, notifier, opts...)

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		server := api.NewServer(mon, api.NewBroadcaster(), api.Options{
			History: history,
			Summary: cfg.Summary(),
			Metrics: collector.Handler(),
			Logger:  logger,
		})
		sinks = append(sinks, server)

		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           server.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server stopped", "addr", cfg.HTTPAddr, "error", err)
			}
		}()
	}

	mon.Run(ctx)

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	logger.Info("restartwatch stopped")
	return nil
}

// preflight fails only when the engine cannot be reached. A missing container
// is logged; it may be created after the watcher starts.
func preflight(ctx context.Context, rt *docker.Runtime, name string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()

	info, err := rt.Inspect(ctx, name)
	switch {
	case errors.Is(err, docker.ErrContainerNotFound):
		logger.Warn("container not found; restarts will fail until it exists", "container", name)
		return nil
	case err != nil:
		return fmt.Errorf("%w: container runtime unreachable: %v", config.ErrInvalid, err)
	}
	logger.Info("container found",
		"container", info.Name,
		"id", info.ID,
		"image", info.Image,
		"tag", info.ImageTag,
		"status", info.Status,
		"health", info.Health,
	)
	return nil
}
