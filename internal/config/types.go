package config

import (
	"strings"
	"time"
)

// Config 是 polybot 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Risk       RiskConfig       `toml:"risk"`
	Exit       ExitConfig       `toml:"exit"`
	Settlement SettlementConfig `toml:"settlement"`
	Oracle     OracleConfig     `toml:"oracle"`
	Execution  ExecutionConfig  `toml:"execution"`
	Notify     NotifyConfig     `toml:"notify"`
	HTTP       HTTPConfig       `toml:"http"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Scanners   ScannersConfig   `toml:"scanners"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	DryRun    bool   `toml:"dry_run"`
}

type LedgerConfig struct {
	DBPath         string  `toml:"db_path"`
	InitialCapital float64 `toml:"initial_capital"`
	DashboardPath  string  `toml:"dashboard_path"`
}

// RiskConfig 对应风控闸门的仓位和熔断参数。
type RiskConfig struct {
	KellyFraction        float64 `toml:"kelly_fraction"`
	MaxPositionPct       float64 `toml:"max_position_pct"`
	MaxGlobalExposurePct float64 `toml:"max_global_exposure_pct"`
	DailyLossLimitPct    float64 `toml:"daily_loss_limit_pct"`
	MinTradeUSD          float64 `toml:"min_trade_usd"`
	MinPortfolioUSD      float64 `toml:"min_portfolio_usd"`
	DefaultCeilingUSD    float64 `toml:"default_ceiling_usd"`
	ControlBackend       string  `toml:"control_backend"`
	ControlPath          string  `toml:"control_path"`
}

// ExitConfig 是离场规则阈值，支持热更新。
type ExitConfig struct {
	ProfitTargetPct    float64       `toml:"profit_target_pct"`
	TrailingProfitPct  float64       `toml:"trailing_profit_pct"`
	TrailingAfter      time.Duration `toml:"trailing_after"`
	StopLossPct        float64       `toml:"stop_loss_pct"`
	NearResolutionHigh float64       `toml:"near_resolution_high"`
	LikelyLoserLow     float64       `toml:"likely_loser_low"`
	LikelyLoserMinHold time.Duration `toml:"likely_loser_min_hold"`
	StaleAfter         time.Duration `toml:"stale_after"`
	StaleMovePct       float64       `toml:"stale_move_pct"`
	MaxHold            time.Duration `toml:"max_hold"`
	PairedMaxHold      time.Duration `toml:"paired_max_hold"`
	ExitFeePct         float64       `toml:"exit_fee_pct"`
	PacingMS           int           `toml:"pacing_ms"`
}

type SettlementConfig struct {
	// PairedFeePct 是成对套利的手续费估计（占 size 比例），需要按实际成交校准。
	PairedFeePct float64 `toml:"paired_fee_pct"`
}

type OracleConfig struct {
	GammaHost        string        `toml:"gamma_host"`
	ClobHost         string        `toml:"clob_host"`
	Timeout          time.Duration `toml:"timeout"`
	MaxRetries       int           `toml:"max_retries"`
	BreakerThreshold int           `toml:"breaker_threshold"`
	BreakerCooldown  time.Duration `toml:"breaker_cooldown"`
}

type ExecutionConfig struct {
	GatewayURL string        `toml:"gateway_url"`
	APIKey     string        `toml:"api_key"`
	Timeout    time.Duration `toml:"timeout"`
	MaxRetries int           `toml:"max_retries"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

type SchedulerConfig struct {
	Interval       string `toml:"interval"`
	OffsetSeconds  int    `toml:"offset_seconds"`
	RunImmediately bool   `toml:"run_immediately"`
}

// ScannersConfig 列出候选文件扫描器，每个文件对应一个策略名。
type ScannersConfig struct {
	Files []ScannerFile `toml:"files"`
}

type ScannerFile struct {
	Name    string  `toml:"name"`
	Path    string  `toml:"path"`
	Enabled bool    `toml:"enabled"`
	Ceiling float64 `toml:"ceiling_usd"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
