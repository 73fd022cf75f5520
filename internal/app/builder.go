package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"polybot/internal/config"
	"polybot/internal/cycle"
	"polybot/internal/execution"
	"polybot/internal/exit"
	"polybot/internal/ledger"
	"polybot/internal/logger"
	"polybot/internal/metrics"
	"polybot/internal/notifier"
	"polybot/internal/oracle"
	"polybot/internal/pkg/circuit"
	"polybot/internal/risk"
	"polybot/internal/scanner"
	"polybot/internal/settlement"
	"polybot/internal/store/sqlite"
	httpapi "polybot/internal/transport/http"
)

const (
	controlBackendFile   = "file"
	controlBackendSqlite = "sqlite"
)

func provideStore(cfg *config.Config) (*sqlite.SqliteStore, func(), error) {
	st, err := sqlite.NewSqliteStore(cfg.Ledger.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger db: %w", err)
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warnf("close ledger db: %v", err)
		}
	}
	return st, cleanup, nil
}

func provideGateway(cfg *config.Config) (*execution.Gateway, error) {
	gw, err := execution.NewGateway(execution.Config{
		GatewayURL: cfg.Execution.GatewayURL,
		APIKey:     cfg.Execution.APIKey,
		Timeout:    cfg.Execution.Timeout,
		MaxRetries: cfg.Execution.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	if !cfg.App.DryRun && !gw.Live() {
		return nil, fmt.Errorf("live trading requires execution.gateway_url")
	}
	watchBreaker(gw.Breaker())
	return gw, nil
}

func provideOracle(cfg *config.Config) (*oracle.Client, error) {
	c, err := oracle.NewClient(oracle.Config{
		GammaHost:        cfg.Oracle.GammaHost,
		ClobHost:         cfg.Oracle.ClobHost,
		Timeout:          cfg.Oracle.Timeout,
		MaxRetries:       cfg.Oracle.MaxRetries,
		BreakerThreshold: cfg.Oracle.BreakerThreshold,
		BreakerCooldown:  cfg.Oracle.BreakerCooldown,
	})
	if err != nil {
		return nil, err
	}
	watchBreaker(c.Breaker())
	return c, nil
}

// provideLedger values the portfolio from live balances only when trading
// live; paper trading uses the ledger valuation.
func provideLedger(cfg *config.Config, st *sqlite.SqliteStore, gw *execution.Gateway) *ledger.Ledger {
	opts := ledger.Options{InitialCapital: cfg.Ledger.InitialCapital}
	if !cfg.App.DryRun && gw.Live() {
		opts.Balances = gw
	}
	return ledger.New(st, opts)
}

func provideStateStore(cfg *config.Config, st *sqlite.SqliteStore) (risk.StateStore, error) {
	switch cfg.Risk.ControlBackend {
	case "", controlBackendFile:
		return risk.NewFileStateStore(cfg.Risk.ControlPath), nil
	case controlBackendSqlite:
		return risk.NewSQLStateStore(st.Control()), nil
	default:
		return nil, fmt.Errorf("unknown risk.control_backend %q", cfg.Risk.ControlBackend)
	}
}

func provideGate(ctx context.Context, cfg *config.Config, l *ledger.Ledger, ss risk.StateStore, notify notifier.TextNotifier) (*risk.Gate, error) {
	g, err := risk.LoadGate(ctx, limitsFromConfig(cfg.Risk), l, ss)
	if err != nil {
		return nil, err
	}
	metrics.SetHalted(g.Halted())
	// observers run under the gate lock; push the alert off it
	g.OnTransition(func(tr risk.Transition) {
		metrics.SetHalted(tr.To.Halted)
		var text string
		switch {
		case tr.To.Halted && (!tr.From.Halted || tr.From.HaltKind != tr.To.HaltKind):
			text = fmt.Sprintf("TRADING HALTED (%s): %s", tr.To.HaltKind, tr.To.HaltReason)
		case !tr.To.Halted && tr.From.Halted:
			text = "Trading resumed by " + tr.To.UpdatedBy
		default:
			return
		}
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := notify.SendText(sendCtx, text); err != nil {
				logger.Warnf("halt alert: %v", err)
			}
		}()
	})
	return g, nil
}

func provideNotifier(cfg *config.Config) notifier.TextNotifier {
	tg := cfg.Notify.Telegram
	if !tg.Enabled {
		return notifier.Noop{}
	}
	return notifier.NewTelegram(tg.BotToken, tg.ChatID)
}

func provideExitEngine(cfg *config.Config, l *ledger.Ledger, o *oracle.Client, gw *execution.Gateway) *exit.Engine {
	return exit.NewEngine(l, o, gw, exit.Options{
		DryRun:       cfg.App.DryRun,
		Pacing:       time.Duration(cfg.Exit.PacingMS) * time.Millisecond,
		PairedFeePct: cfg.Settlement.PairedFeePct,
		Thresholds:   thresholdsFromConfig(cfg.Exit),
	})
}

func provideResolver(cfg *config.Config, l *ledger.Ledger, o *oracle.Client) *settlement.Resolver {
	return settlement.NewResolver(l, o, cfg.Settlement.PairedFeePct)
}

func provideScanners(cfg *config.Config) ([]scanner.Scanner, error) {
	out := make([]scanner.Scanner, 0, len(cfg.Scanners.Files))
	for _, f := range cfg.Scanners.Files {
		if !f.Enabled {
			continue
		}
		s, err := scanner.NewFileScanner(f.Name, f.Path, f.Ceiling)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func provideRunner(cfg *config.Config, l *ledger.Ledger, g *risk.Gate, ex *exit.Engine, res *settlement.Resolver, gw *execution.Gateway, scanners []scanner.Scanner, notify notifier.TextNotifier) *cycle.Runner {
	return cycle.NewRunner(l, g, ex, res, gw, scanners, notify, cycle.Options{
		DryRun:        cfg.App.DryRun,
		DashboardPath: cfg.Ledger.DashboardPath,
		NotifyCycle:   cfg.Notify.Telegram.Enabled,
	})
}

func provideHTTPServer(cfg *config.Config, l *ledger.Ledger, g *risk.Gate) (*httpapi.Server, error) {
	return httpapi.NewServer(httpapi.ServerConfig{Addr: cfg.HTTP.Addr, Ledger: l, Gate: g})
}

func limitsFromConfig(r config.RiskConfig) risk.Limits {
	return risk.Limits{
		KellyFraction:        r.KellyFraction,
		MaxPositionPct:       r.MaxPositionPct,
		MaxGlobalExposurePct: r.MaxGlobalExposurePct,
		DailyLossLimitPct:    r.DailyLossLimitPct,
		MinTradeUSD:          r.MinTradeUSD,
		MinPortfolioUSD:      r.MinPortfolioUSD,
		DefaultCeilingUSD:    r.DefaultCeilingUSD,
	}
}

func thresholdsFromConfig(e config.ExitConfig) exit.Thresholds {
	return exit.Thresholds{
		ProfitTargetPct:    e.ProfitTargetPct,
		TrailingProfitPct:  e.TrailingProfitPct,
		TrailingAfter:      e.TrailingAfter,
		StopLossPct:        e.StopLossPct,
		NearResolutionHigh: e.NearResolutionHigh,
		LikelyLoserLow:     e.LikelyLoserLow,
		LikelyLoserMinHold: e.LikelyLoserMinHold,
		StaleAfter:         e.StaleAfter,
		StaleMovePct:       e.StaleMovePct,
		MaxHold:            e.MaxHold,
		PairedMaxHold:      e.PairedMaxHold,
		ExitFeePct:         e.ExitFeePct,
	}
}

func watchBreaker(b *circuit.Breaker) {
	if b == nil {
		return
	}
	b.SetStateChangeHandler(func(name string, from, to circuit.State) {
		metrics.SetBreakerState(name, int(to))
		logger.Warnf("circuit %s: %s -> %s", name, from, to)
	})
}

func scannerNames(scanners []scanner.Scanner) string {
	if len(scanners) == 0 {
		return "-"
	}
	names := make([]string, len(scanners))
	for i, s := range scanners {
		names[i] = s.Name()
	}
	return strings.Join(names, ", ")
}
