package config

import (
	"strings"
	"time"
)

// 默认值常量
const (
	defaultAppEnv       = "dev"
	defaultAppLogLevel  = "info"
	defaultAppLogFormat = "text"
	defaultAppLogPath   = "data/logs/polybot.log"

	defaultLedgerDBPath   = "data/polybot.db"
	defaultInitialCapital = 100.0

	defaultKellyFraction     = 0.30
	defaultMaxPositionPct    = 0.08
	defaultMaxGlobalExposure = 0.70
	defaultDailyLossLimitPct = 0.15
	defaultMinTradeUSD       = 0.50
	defaultMinPortfolioUSD   = 10.0
	defaultCeilingUSD        = 10.0
	defaultControlBackend    = "file"
	defaultControlPath       = "data/bot_control.json"

	defaultProfitTargetPct    = 0.25
	defaultTrailingProfitPct  = 0.15
	defaultTrailingAfter      = 24 * time.Hour
	defaultStopLossPct        = -0.50
	defaultNearResolutionHigh = 0.92
	defaultLikelyLoserLow     = 0.08
	defaultLikelyLoserMinHold = 2 * time.Hour
	defaultStaleAfter         = 48 * time.Hour
	defaultStaleMovePct       = 0.05
	defaultMaxHold            = 168 * time.Hour
	defaultPairedMaxHold      = 336 * time.Hour
	defaultExitFeePct         = 0.002
	defaultPacingMS           = 300

	defaultPairedFeePct = 0.004

	defaultGammaHost        = "https://gamma-api.polymarket.com"
	defaultClobHost         = "https://clob.polymarket.com"
	defaultOracleTimeout    = 10 * time.Second
	defaultOracleRetries    = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = time.Minute

	defaultGatewayURL       = "http://127.0.0.1:8088/api/v1"
	defaultExecutionTimeout = 15 * time.Second
	defaultExecutionRetries = 2

	defaultHTTPAddr          = ":9991"
	defaultSchedulerInterval = "15m"
)

// Default 返回全部字段取默认值的配置，用于无配置文件启动与测试。
func Default() *Config {
	var c Config
	c.applyDefaults(make(keySet))
	return &c
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Ledger.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Exit.applyDefaults(keys)
	c.Settlement.applyDefaults(keys)
	c.Oracle.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Scanners.applyDefaults()
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		// 未显式配置时默认模拟盘。
		boolFieldDefault("app.dry_run", &a.DryRun, true),
	)
}

func (l *LedgerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("ledger.db_path", &l.DBPath, defaultLedgerDBPath),
		floatFieldDefault("ledger.initial_capital", &l.InitialCapital, defaultInitialCapital),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("risk.kelly_fraction", &r.KellyFraction, defaultKellyFraction),
		floatFieldDefault("risk.max_position_pct", &r.MaxPositionPct, defaultMaxPositionPct),
		floatFieldDefault("risk.max_global_exposure_pct", &r.MaxGlobalExposurePct, defaultMaxGlobalExposure),
		floatFieldDefault("risk.daily_loss_limit_pct", &r.DailyLossLimitPct, defaultDailyLossLimitPct),
		floatFieldDefault("risk.min_trade_usd", &r.MinTradeUSD, defaultMinTradeUSD),
		floatFieldDefault("risk.min_portfolio_usd", &r.MinPortfolioUSD, defaultMinPortfolioUSD),
		floatFieldDefault("risk.default_ceiling_usd", &r.DefaultCeilingUSD, defaultCeilingUSD),
		stringFieldDefault("risk.control_backend", &r.ControlBackend, defaultControlBackend),
		stringFieldDefault("risk.control_path", &r.ControlPath, defaultControlPath),
	)
	r.ControlBackend = strings.ToLower(strings.TrimSpace(r.ControlBackend))
}

func (e *ExitConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("exit.profit_target_pct", &e.ProfitTargetPct, defaultProfitTargetPct),
		floatFieldDefault("exit.trailing_profit_pct", &e.TrailingProfitPct, defaultTrailingProfitPct),
		durationFieldDefault("exit.trailing_after", &e.TrailingAfter, defaultTrailingAfter),
		floatFieldDefault("exit.stop_loss_pct", &e.StopLossPct, defaultStopLossPct),
		floatFieldDefault("exit.near_resolution_high", &e.NearResolutionHigh, defaultNearResolutionHigh),
		floatFieldDefault("exit.likely_loser_low", &e.LikelyLoserLow, defaultLikelyLoserLow),
		durationFieldDefault("exit.likely_loser_min_hold", &e.LikelyLoserMinHold, defaultLikelyLoserMinHold),
		durationFieldDefault("exit.stale_after", &e.StaleAfter, defaultStaleAfter),
		floatFieldDefault("exit.stale_move_pct", &e.StaleMovePct, defaultStaleMovePct),
		durationFieldDefault("exit.max_hold", &e.MaxHold, defaultMaxHold),
		durationFieldDefault("exit.paired_max_hold", &e.PairedMaxHold, defaultPairedMaxHold),
		floatFieldDefault("exit.exit_fee_pct", &e.ExitFeePct, defaultExitFeePct),
		fieldDefault{
			key:   "exit.pacing_ms",
			need:  func() bool { return e.PacingMS <= 0 },
			apply: func() { e.PacingMS = defaultPacingMS },
		},
	)
}

func (s *SettlementConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("settlement.paired_fee_pct", &s.PairedFeePct, defaultPairedFeePct),
	)
}

func (o *OracleConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("oracle.gamma_host", &o.GammaHost, defaultGammaHost),
		stringFieldDefault("oracle.clob_host", &o.ClobHost, defaultClobHost),
		durationFieldDefault("oracle.timeout", &o.Timeout, defaultOracleTimeout),
		intFieldDefault("oracle.max_retries", &o.MaxRetries, defaultOracleRetries),
		intFieldDefault("oracle.breaker_threshold", &o.BreakerThreshold, defaultBreakerThreshold),
		durationFieldDefault("oracle.breaker_cooldown", &o.BreakerCooldown, defaultBreakerCooldown),
	)
	o.GammaHost = strings.TrimRight(o.GammaHost, "/")
	o.ClobHost = strings.TrimRight(o.ClobHost, "/")
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("execution.gateway_url", &e.GatewayURL, defaultGatewayURL),
		durationFieldDefault("execution.timeout", &e.Timeout, defaultExecutionTimeout),
		intFieldDefault("execution.max_retries", &e.MaxRetries, defaultExecutionRetries),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr))
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("scheduler.interval", &s.Interval, defaultSchedulerInterval),
		boolFieldDefault("scheduler.run_immediately", &s.RunImmediately, true),
	)
}

func (s *ScannersConfig) applyDefaults() {
	for i := range s.Files {
		f := &s.Files[i]
		f.Name = strings.TrimSpace(f.Name)
		f.Path = strings.TrimSpace(f.Path)
	}
}

// 辅助函数

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
