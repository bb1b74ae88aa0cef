// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

const (
	defaultSweepInterval = time.Hour
	readinessTimeout     = 2 * time.Second
	shutdownTimeout      = 5 * time.Second
)

func newServeCmd(deps *Deps) *cobra.Command {
	var sweepInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics and health server and sweep expired sessions",
		Long: `Run until interrupted. Metrics and health probes are served on
metrics_addr, and expired sessions are swept every --sweep-interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, deps, sweepInterval)
		},
	}
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", defaultSweepInterval, "time between expired session sweeps; 0 disables")
	return cmd
}

func runServe(cmd *cobra.Command, deps *Deps, sweepInterval time.Duration) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.MetricsAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("serve needs metrics_addr")
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var current atomic.Pointer[app]
	srv := deps.observabilityServer(cfg.MetricsAddr, func() bool {
		a := current.Load()
		if a == nil {
			return false
		}
		readyCtx, readyCancel := context.WithTimeout(ctx, readinessTimeout)
		defer readyCancel()
		if err := a.Ready(readyCtx); err != nil {
			logger.Warn("readiness check failed", "error", err)
			return false
		}
		return true
	})

	a, err := buildApp(ctx, cfg, logger, deps, srv.Registerer())
	if err != nil {
		return err
	}
	defer a.Close()

	errCh, err := srv.Start()
	if err != nil {
		return oops.Code("SERVE_FAILED").With("addr", cfg.MetricsAddr).Wrap(err)
	}
	current.Store(a)
	go monitorServerErrors(ctx, cancel, errCh, logger)

	if sweepInterval > 0 {
		go runSweeper(ctx, a, sweepInterval)
	}

	cmd.Printf("Serving on %s\n", srv.Addr())
	logger.Info("authcore ready", "metrics_addr", srv.Addr(), "sweep_interval", sweepInterval)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// runSweeper deletes expired sessions every interval until ctx ends.
func runSweeper(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sessions.Sweep(ctx)
		}
	}
}

// monitorServerErrors cancels ctx when the server fails. It returns when the
// channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("observability server error, shutting down", "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
