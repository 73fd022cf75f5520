package app

import (
	"fmt"
	"strings"

	"polybot/internal/config"
	"polybot/internal/scanner"
)

type StartupSummary struct {
	Mode       string
	Capital    float64
	DBPath     string
	Control    string
	Risk       config.RiskConfig
	Exit       config.ExitConfig
	PairedFee  float64
	Scanners   string
	HTTPAddr   string
	Interval   string
	Notify     bool
	GatewayURL string
}

func newStartupSummary(cfg *config.Config, scanners []scanner.Scanner) StartupSummary {
	mode := "LIVE"
	if cfg.App.DryRun {
		mode = "DRY RUN"
	}
	control := cfg.Risk.ControlBackend
	if control == controlBackendFile || control == "" {
		control = "file " + cfg.Risk.ControlPath
	}
	return StartupSummary{
		Mode:       mode,
		Capital:    cfg.Ledger.InitialCapital,
		DBPath:     cfg.Ledger.DBPath,
		Control:    control,
		Risk:       cfg.Risk,
		Exit:       cfg.Exit,
		PairedFee:  cfg.Settlement.PairedFeePct,
		Scanners:   scannerNames(scanners),
		HTTPAddr:   cfg.HTTP.Addr,
		Interval:   cfg.Scheduler.Interval,
		Notify:     cfg.Notify.Telegram.Enabled,
		GatewayURL: cfg.Execution.GatewayURL,
	}
}

// String 渲染启动配置摘要。
func (s StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 60)
	b.WriteString(line + "\n")
	b.WriteString("  PolyBot startup summary\n")
	b.WriteString(line + "\n")
	fmt.Fprintf(&b, "  Mode:      %s\n", s.Mode)
	fmt.Fprintf(&b, "  Capital:   $%.2f\n", s.Capital)
	fmt.Fprintf(&b, "  Ledger:    %s\n", s.DBPath)
	fmt.Fprintf(&b, "  Control:   %s\n", s.Control)
	fmt.Fprintf(&b, "  Gateway:   %s\n", orDash(s.GatewayURL))
	fmt.Fprintf(&b, "  Scanners:  %s\n", s.Scanners)
	fmt.Fprintf(&b, "  Interval:  %s | HTTP %s | Telegram %v\n", orDash(s.Interval), orDash(s.HTTPAddr), s.Notify)
	b.WriteString("[risk]\n")
	fmt.Fprintf(&b, "  kelly=%.2f per_trade=%.0f%% exposure=%.0f%% daily_loss=%.0f%% min_trade=$%.2f ceiling=$%.2f\n",
		s.Risk.KellyFraction, s.Risk.MaxPositionPct*100, s.Risk.MaxGlobalExposurePct*100,
		s.Risk.DailyLossLimitPct*100, s.Risk.MinTradeUSD, s.Risk.DefaultCeilingUSD)
	b.WriteString("[exit]\n")
	fmt.Fprintf(&b, "  target=%+.0f%% trailing=%+.0f%%/%s stop=%+.0f%% max_hold=%s paired_max_hold=%s paired_fee=%.2f%%\n",
		s.Exit.ProfitTargetPct*100, s.Exit.TrailingProfitPct*100, s.Exit.TrailingAfter,
		s.Exit.StopLossPct*100, s.Exit.MaxHold, s.Exit.PairedMaxHold, s.PairedFee*100)
	b.WriteString(line)
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
