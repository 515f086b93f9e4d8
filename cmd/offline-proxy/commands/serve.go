package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/vearutop/offline"
	"github.com/vearutop/offline/internal/host"
	"github.com/vearutop/offline/internal/promstats"
	"github.com/vearutop/offline/internal/slogctxd"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start caching proxy",
		Example: `  offline-proxy serve --upstream https://example.com
  OFFLINE_UPSTREAM=https://example.com OFFLINE_VERSION=v2 offline-proxy serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), cfgFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}

	bindFlags(cmd.Flags())

	return cmd
}

func serve(ctx context.Context, cfg Config) error {
	logger := slogctxd.New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogctxd.ParseLevel(cfg.LogLevel),
	})))

	var (
		tracker stats.Tracker = stats.NoOp{}
		metrics http.Handler
	)

	if cfg.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		tracker = promstats.New(reg)
		metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("invalid upstream: %w", err)
	}

	storage := offline.NewMemory(offline.MemoryConfig{
		Logger:             logger,
		Stats:              tracker,
		HeapInUseSoftLimit: cfg.HeapInUseSoftLimit,
	})
	defer storage.Close()

	if cfg.StateFile != "" {
		restoreState(ctx, logger, storage, cfg.StateFile)
	}

	mc := cfg.mediatorConfig()
	mc.Storage = storage
	mc.Logger = logger
	mc.Stats = tracker

	m, err := offline.New(mc)
	if err != nil {
		return err
	}

	srv := host.New(m, host.Config{
		Upstream:  upstream,
		Heartbeat: cfg.Heartbeat,
		Metrics:   metrics,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(srv.Close)

	serverDone := make(chan error, 1)

	go func() {
		logger.Important(ctx, "listening", "addr", cfg.Listen, "upstream", cfg.Upstream, "version", cfg.Version)
		serverDone <- httpServer.ListenAndServe()
	}()

	go install(ctx, logger, m, cfg.InstallTimeout)

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-serverDone:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
	}

	if err := m.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	if cfg.StateFile != "" {
		if err := dumpState(shutdownCtx, logger, storage, cfg.StateFile); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func install(ctx context.Context, logger ctxd.Logger, m *offline.Mediator, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.Install(ctx); err != nil {
		logger.Error(ctx, "install failed", "error", err)

		return
	}

	if err := m.WaitState(ctx, offline.StateControlling); err != nil {
		logger.Warn(ctx, "not controlling yet", "state", m.State().String(), "error", err)
	}
}

func restoreState(ctx context.Context, logger ctxd.Logger, storage *offline.Memory, path string) {
	f, err := os.Open(path) //nolint:gosec // Path is provided by operator.
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn(ctx, "failed to open state file", "path", path, "error", err)
		}

		return
	}

	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn(ctx, "failed to close state file", "error", err)
		}
	}()

	if _, err := storage.Restore(f); err != nil {
		logger.Warn(ctx, "failed to restore state", "path", path, "error", err)
	}
}

func dumpState(ctx context.Context, logger ctxd.Logger, storage *offline.Memory, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return ctxd.WrapError(ctx, err, "failed to create state file")
	}

	n, err := storage.Dump(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}

	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return ctxd.WrapError(ctx, err, "failed to dump state", "path", path)
	}

	logger.Info(ctx, "state saved", "path", path, "entries", n)

	return nil
}
