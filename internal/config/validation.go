package config

import (
	"fmt"
	"strings"

	"polybot/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Ledger.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Exit.validate(); err != nil {
		return err
	}
	if err := c.Settlement.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	return c.Scanners.validate()
}

func (l *LedgerConfig) validate() error {
	if strings.TrimSpace(l.DBPath) == "" {
		return fmt.Errorf("ledger.db_path cannot be empty")
	}
	if l.InitialCapital <= 0 {
		return fmt.Errorf("ledger.initial_capital must be > 0")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	for name, v := range map[string]float64{
		"risk.kelly_fraction":          r.KellyFraction,
		"risk.max_position_pct":        r.MaxPositionPct,
		"risk.max_global_exposure_pct": r.MaxGlobalExposurePct,
		"risk.daily_loss_limit_pct":    r.DailyLossLimitPct,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %.4f", name, v)
		}
	}
	if r.MinTradeUSD < 0 || r.MinPortfolioUSD < 0 {
		return fmt.Errorf("risk minimums must be >= 0")
	}
	if r.DefaultCeilingUSD <= 0 {
		return fmt.Errorf("risk.default_ceiling_usd must be > 0")
	}
	switch r.ControlBackend {
	case "file":
		if strings.TrimSpace(r.ControlPath) == "" {
			return fmt.Errorf("risk.control_path required for file backend")
		}
	case "sqlite":
	default:
		return fmt.Errorf("risk.control_backend must be file or sqlite, got %q", r.ControlBackend)
	}
	return nil
}

func (e *ExitConfig) validate() error {
	if e.ProfitTargetPct <= 0 || e.TrailingProfitPct <= 0 {
		return fmt.Errorf("exit profit thresholds must be > 0")
	}
	if e.StopLossPct >= 0 {
		return fmt.Errorf("exit.stop_loss_pct must be negative")
	}
	if e.NearResolutionHigh <= 0 || e.NearResolutionHigh > 1 {
		return fmt.Errorf("exit.near_resolution_high must be in (0, 1]")
	}
	if e.LikelyLoserLow < 0 || e.LikelyLoserLow >= e.NearResolutionHigh {
		return fmt.Errorf("exit.likely_loser_low must be in [0, near_resolution_high)")
	}
	if e.ExitFeePct < 0 || e.ExitFeePct >= 1 {
		return fmt.Errorf("exit.exit_fee_pct must be in [0, 1)")
	}
	return nil
}

func (s *SettlementConfig) validate() error {
	if s.PairedFeePct < 0 || s.PairedFeePct >= 1 {
		return fmt.Errorf("settlement.paired_fee_pct must be in [0, 1)")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if _, ok := scheduler.ParseIntervalDuration(s.Interval); !ok {
		return fmt.Errorf("scheduler.interval invalid: %q", s.Interval)
	}
	if s.OffsetSeconds < 0 {
		return fmt.Errorf("scheduler.offset_seconds must be >= 0")
	}
	return nil
}

func (s *ScannersConfig) validate() error {
	seen := make(map[string]bool, len(s.Files))
	for i, f := range s.Files {
		if f.Name == "" {
			return fmt.Errorf("scanners.files[%d] missing name", i)
		}
		if f.Path == "" {
			return fmt.Errorf("scanners.files.%s missing path", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("scanners.files duplicate name %s", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}
