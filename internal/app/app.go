// Package app wires configuration into a running bot: storage, clients, the
// risk gate, the sweeps, the cycle runner and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"polybot/internal/config"
	"polybot/internal/cycle"
	"polybot/internal/exit"
	"polybot/internal/ledger"
	"polybot/internal/logger"
	"polybot/internal/risk"
	"polybot/internal/scanner"
	"polybot/internal/scheduler"
	"polybot/internal/store/sqlite"
	httpapi "polybot/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

const defaultLoopInterval = 30 * time.Minute

// App owns the wired dependencies and runs a single cycle, the loop or the HTTP API.
type App struct {
	cfg      *config.Config
	store    *sqlite.SqliteStore
	ledger   *ledger.Ledger
	gate     *risk.Gate
	exits    *exit.Engine
	runner   *cycle.Runner
	http     *httpapi.Server
	scanners []scanner.Scanner

	cleanup func()
}

// NewApp builds the app from cfg without starting anything.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	a, cleanup, err := buildAppWithWire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.cleanup = cleanup
	return a, nil
}

func (a *App) Ledger() *ledger.Ledger { return a.ledger }

func (a *App) Gate() *risk.Gate { return a.gate }

func (a *App) Summary() StartupSummary {
	return newStartupSummary(a.cfg, a.scanners)
}

// RunOnce runs a single cycle, then persists the risk state.
func (a *App) RunOnce(ctx context.Context) (cycle.Report, error) {
	if _, err := a.gate.Sync(ctx); err != nil {
		logger.Warnf("risk state sync: %v", err)
	}
	rep, err := a.runner.Run(ctx)
	if saveErr := a.gate.Save(ctx); saveErr != nil && err == nil {
		err = fmt.Errorf("save risk state: %w", saveErr)
	}
	return rep, err
}

// Loop runs cycles on the configured schedule until ctx is done.
func (a *App) Loop(ctx context.Context) error {
	interval, ok := scheduler.ParseIntervalDuration(a.cfg.Scheduler.Interval)
	if !ok {
		logger.Warnf("invalid scheduler.interval %q, using %s", a.cfg.Scheduler.Interval, defaultLoopInterval)
		interval = defaultLoopInterval
	}
	s := scheduler.NewAlignedScheduler(interval, time.Duration(a.cfg.Scheduler.OffsetSeconds)*time.Second)
	s.RunImmediately = a.cfg.Scheduler.RunImmediately
	logger.Infof("cycle loop every %s (offset %ds)", interval, a.cfg.Scheduler.OffsetSeconds)
	err := s.Run(ctx, func(ctx context.Context) error {
		rep, err := a.RunOnce(ctx)
		logger.Infof("cycle %s done in %s: placed=%d exits=%d settled=%d", rep.RunID, rep.Duration.Round(time.Millisecond), rep.Placed, rep.Exits.Closed, rep.Settlements.Resolved)
		return err
	})
	if saveErr := a.gate.Save(context.Background()); saveErr != nil {
		logger.Errorf("save risk state on exit: %v", saveErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Serve runs the HTTP API and the cycle loop together.
func (a *App) Serve(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("http api listening on %s", a.http.Addr())
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.Loop(ctx)
	})
	return group.Wait()
}

// WatchConfig applies exit threshold changes from w to the running engine.
// Other sections need a restart.
func (a *App) WatchConfig(w *config.Watcher) {
	if w == nil {
		return
	}
	w.OnChange(func(cfg *config.Config) {
		a.exits.SetThresholds(thresholdsFromConfig(cfg.Exit))
	})
}

func (a *App) Close() {
	if a == nil || a.cleanup == nil {
		return
	}
	a.cleanup()
	a.cleanup = nil
}
