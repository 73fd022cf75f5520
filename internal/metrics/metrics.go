// Package metrics 定义 /metrics 导出的 prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "polybot"

// ============ 周期 ============

var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "runs_total",
		Help:      "Scan-and-settle cycles by outcome",
	},
	[]string{"result"}, // ok, halted, error
)

var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "duration_seconds",
		Help:      "Wall time of one cycle",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	},
)

var ScannerErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "scanner_errors_total",
		Help:      "Scanner failures; the cycle continues with the next scanner",
	},
	[]string{"scanner"},
)

// ============ 风控与成交 ============

var RiskDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "decisions_total",
		Help:      "Risk gate decisions by rule",
	},
	[]string{"rule"},
)

var RiskHalted = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "halted",
		Help:      "1 while trading is halted",
	},
)

var TradesRecorded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "trades_recorded_total",
		Help:      "Trades written to the ledger",
	},
	[]string{"strategy", "dry_run"},
)

var OrdersFailed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "orders_failed_total",
		Help:      "Orders the execution client rejected",
	},
	[]string{"strategy"},
)

// ============ 平仓 ============

var ExitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exit",
		Name:      "closed_total",
		Help:      "Positions closed by the exit engine by rule",
	},
	[]string{"reason"},
)

var SettlementsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "settlement",
		Name:      "resolved_total",
		Help:      "Positions closed against a resolved market",
	},
)

var RealizedPnl = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "realized_pnl_abs_usd",
		Help:      "Absolute realized pnl booked per cycle, split by sign",
	},
	[]string{"sign"},
)

// ============ 组合状态 ============

var Portfolio = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "usd",
		Help:      "Portfolio figures from the latest snapshot",
	},
	[]string{"field"}, // value, deployed, cash, daily_pnl, total_pnl
)

var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "open_positions",
		Help:      "Open positions in the ledger",
	},
)

var BreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	},
	[]string{"client"},
)

// RecordDecision 记录一次风控判定。
func RecordDecision(rule string) {
	RiskDecisions.WithLabelValues(rule).Inc()
}

func SetHalted(halted bool) {
	if halted {
		RiskHalted.Set(1)
		return
	}
	RiskHalted.Set(0)
}

func RecordTrade(strategy string, dryRun bool) {
	label := "false"
	if dryRun {
		label = "true"
	}
	TradesRecorded.WithLabelValues(strategy, label).Inc()
}

// RecordPnl 按正负号累加已实现盈亏。
func RecordPnl(pnl float64) {
	switch {
	case pnl > 0:
		RealizedPnl.WithLabelValues("profit").Add(pnl)
	case pnl < 0:
		RealizedPnl.WithLabelValues("loss").Add(-pnl)
	}
}

func RecordExits(byReason map[string]int) {
	for reason, n := range byReason {
		ExitsTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// UpdatePortfolio 刷新组合快照类指标。
func UpdatePortfolio(value, deployed, cash, dailyPnl, totalPnl float64, open int) {
	Portfolio.WithLabelValues("value").Set(value)
	Portfolio.WithLabelValues("deployed").Set(deployed)
	Portfolio.WithLabelValues("cash").Set(cash)
	Portfolio.WithLabelValues("daily_pnl").Set(dailyPnl)
	Portfolio.WithLabelValues("total_pnl").Set(totalPnl)
	OpenPositions.Set(float64(open))
}

func SetBreakerState(client string, state int) {
	BreakerState.WithLabelValues(client).Set(float64(state))
}
