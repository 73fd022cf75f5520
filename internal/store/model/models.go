package model

import (
	"gorm.io/datatypes"
)

const (
	TradeStatusOpen = "open"

	// RiskControlRowID 是 risk_control 表唯一一行的主键。
	RiskControlRowID = 1
)

// TradeModel 对应 trades 表。时间字段统一存 unix 秒。
type TradeModel struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Strategy    string         `gorm:"column:strategy;index:idx_trades_strategy"`
	MarketID    string         `gorm:"column:market_id;index:idx_trades_market"`
	Question    string         `gorm:"column:question"`
	TokenRef    string         `gorm:"column:token_ref"`
	Side        string         `gorm:"column:side"`
	EntryPrice  float64        `gorm:"column:entry_price"`
	SizeUSD     float64        `gorm:"column:size_usd"`
	EdgePct     float64        `gorm:"column:edge_pct"`
	DryRun      bool           `gorm:"column:dry_run"`
	OrderRefs   datatypes.JSON `gorm:"column:order_refs;type:TEXT"`
	Status      string         `gorm:"column:status;index:idx_trades_status"`
	PnL         *float64       `gorm:"column:pnl"`
	CreatedAt   int64          `gorm:"column:created_at;index:idx_trades_created"`
	ClosedAt    *int64         `gorm:"column:closed_at;index:idx_trades_closed"`
	CloseReason string         `gorm:"column:close_reason"`
}

func (TradeModel) TableName() string { return "trades" }

// SnapshotModel 对应 portfolio_snapshots 表，只追加不更新。
type SnapshotModel struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement"`
	TakenAt    int64          `gorm:"column:taken_at;index:idx_snapshots_taken"`
	TotalValue float64        `gorm:"column:total_value"`
	Cash       float64        `gorm:"column:cash"`
	Deployed   float64        `gorm:"column:deployed"`
	TotalPnL   float64        `gorm:"column:total_pnl"`
	DailyPnL   float64        `gorm:"column:daily_pnl"`
	TradeCount int64          `gorm:"column:trade_count"`
	OpenCount  int64          `gorm:"column:open_count"`
	WinRate    float64        `gorm:"column:win_rate"`
	Breakdown  datatypes.JSON `gorm:"column:strategy_breakdown;type:TEXT"`
}

func (SnapshotModel) TableName() string { return "portfolio_snapshots" }

// RiskControlModel 是单行的风控控制记录，进程启动时读取，停机和每次熔断切换时写回。
type RiskControlModel struct {
	ID             int64  `gorm:"column:id;primaryKey"`
	Mode           string `gorm:"column:mode"`
	TradingEnabled bool   `gorm:"column:trading_enabled"`
	Halted         bool   `gorm:"column:halted"`
	HaltReason     string `gorm:"column:halt_reason"`
	HaltKind       string `gorm:"column:halt_kind"`
	HaltedAt       int64  `gorm:"column:halted_at"`
	UpdatedBy      string `gorm:"column:updated_by"`
	UpdatedAt      int64  `gorm:"column:updated_at"`
	LastRunAt      int64  `gorm:"column:last_run_at"`
}

func (RiskControlModel) TableName() string { return "risk_control" }
