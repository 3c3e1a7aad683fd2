// Package app wires the feed pipeline together and manages its lifecycle:
// election, ingestion, batching, broadcast, and the local client surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/callmedraxx/mevu-sub004/internal/config"
	"github.com/callmedraxx/mevu-sub004/internal/notify"
)

// cleanupInterval paces the eviction of stale dedup and game-merge state.
const cleanupInterval = time.Hour

// App is the root application object. It owns the configuration, logger and
// the cleanup chain torn down in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires every dependency and drives the component loops until ctx is
// cancelled. On the way out it drains whatever the flusher still holds.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// The bus is best-effort: a false here means unclustered mode, not an
	// error.
	if !deps.Bus.Init(ctx) {
		a.logger.Info("broadcast bus disabled")
	}

	// The first snapshot load is best-effort too; the refresh loop retries.
	if err := deps.Mapper.Refresh(ctx); err != nil {
		a.logger.Warn("initial mapping load failed, starting with empty snapshot",
			slog.String("error", err.Error()))
	}

	notifier := deps.Notifier
	deps.Coordinator.OnPromote(func() {
		if deps.Feeder != nil {
			deps.Feeder.Promote()
		}
		notifier.Notifyf(context.Background(), notify.EventLeaderElected,
			"Leadership acquired", "holder=%s", deps.Coordinator.HolderID())
	})
	deps.Flusher.OnFailure(func(err error) {
		notifier.Notifyf(context.Background(), notify.EventFlushFailed,
			"Price flush failed", "batch discarded: %v", err)
	})

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Coordinator.Run(runCtx) })
	g.Go(func() error { return ignoreCancel(deps.Flusher.Run(runCtx)) })
	g.Go(func() error {
		return ignoreCancel(deps.Mapper.RunRefresh(runCtx, a.cfg.Mapper.RefreshInterval.Duration))
	})
	g.Go(func() error {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return nil
			case <-ticker.C:
				deps.Engine.Cleanup()
			}
		}
	})

	if deps.Feeder != nil {
		g.Go(func() error { return deps.Feeder.Run(runCtx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(runCtx) })
	}
	if deps.Hub != nil {
		g.Go(func() error { return ignoreCancel(deps.Hub.Run(runCtx)) })
	}
	if deps.Server != nil {
		g.Go(func() error { return deps.Server.Run(runCtx) })
	}

	a.logger.Info("pipeline started",
		slog.Bool("feed_enabled", deps.Feeder != nil),
		slog.Bool("archive_enabled", deps.Archiver != nil),
		slog.Bool("server_enabled", deps.Server != nil),
	)

	err = g.Wait()

	// Final drain so a clean shutdown does not strand staged prices.
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	deps.Flusher.Drain(drainCtx)
	cancel()

	return err
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ignoreCancel maps a context cancellation to a clean exit so one loop's
// shutdown does not read as a group failure.
func ignoreCancel(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}
