package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"polybot/internal/pkg/money"
	"polybot/internal/store"
	"polybot/internal/trade"
)

const (
	dashboardRecentTrades = 50
	dashboardSeriesDays   = 30
	botActiveWindow       = time.Hour
)

type StrategyStats struct {
	Strategy string  `json:"strategy"`
	Trades   int     `json:"trades"`
	Open     int     `json:"open"`
	Wins     int     `json:"wins"`
	TotalPnL float64 `json:"total_pnl"`
	AvgPnL   float64 `json:"avg_pnl"`
	BestPnL  float64 `json:"best_pnl"`
	WorstPnL float64 `json:"worst_pnl"`
	Volume   float64 `json:"volume"`
}

type DailyPoint struct {
	Date       string  `json:"date"`
	PnL        float64 `json:"pnl"`
	Cumulative float64 `json:"cumulative"`
}

type TradeView struct {
	ID          int64    `json:"id"`
	Strategy    string   `json:"strategy"`
	MarketID    string   `json:"market_id"`
	Question    string   `json:"question,omitempty"`
	Side        string   `json:"side"`
	EntryPrice  float64  `json:"entry_price"`
	SizeUSD     float64  `json:"size_usd"`
	EdgePct     float64  `json:"edge_pct"`
	DryRun      bool     `json:"dry_run"`
	Status      string   `json:"status"`
	PnL         *float64 `json:"pnl"`
	CreatedAt   string   `json:"created_at"`
	ClosedAt    string   `json:"closed_at,omitempty"`
	CloseReason string   `json:"close_reason,omitempty"`
}

type Health struct {
	BotActive   bool   `json:"bot_active"`
	LastTradeAt string `json:"last_trade_at,omitempty"`
	GeneratedAt string `json:"generated_at"`
}

type DashboardSummary struct {
	PortfolioValue float64 `json:"portfolio_value"`
	InitialCapital float64 `json:"initial_capital"`
	TotalPnL       float64 `json:"total_pnl"`
	DailyPnL       float64 `json:"daily_pnl"`
	Deployed       float64 `json:"deployed"`
	Cash           float64 `json:"cash"`
	WinRatePct     float64 `json:"win_rate_pct"`
	TradeCount     int64   `json:"trade_count"`
	OpenCount      int64   `json:"open_count"`
	LiveBalances   bool    `json:"live_balances"`
}

// Dashboard is the JSON document consumed by the static dashboard page.
type Dashboard struct {
	Summary         DashboardSummary `json:"summary"`
	RecentTrades    []TradeView      `json:"recent_trades"`
	DailyPnL        []DailyPoint     `json:"daily_pnl"`
	Strategies      []StrategyStats  `json:"strategies"`
	OpenPositions   []TradeView      `json:"open_positions"`
	ClosedPositions []TradeView      `json:"closed_positions"`
	Health          Health           `json:"health"`
}

// StrategyBreakdown groups every trade by strategy label.
func (l *Ledger) StrategyBreakdown(ctx context.Context) ([]StrategyStats, error) {
	rows, err := l.trades.List(ctx, store.TradeQuery{})
	if err != nil {
		return nil, err
	}
	return breakdown(fromModels(rows)), nil
}

func breakdown(trades []trade.Trade) []StrategyStats {
	byName := make(map[string]*StrategyStats)
	closed := make(map[string]int)
	for _, t := range trades {
		s, ok := byName[t.Strategy]
		if !ok {
			s = &StrategyStats{Strategy: t.Strategy}
			byName[t.Strategy] = s
		}
		s.Trades++
		s.Volume += t.SizeUSD
		if t.IsOpen() {
			s.Open++
		}
		if t.PnL == nil {
			continue
		}
		pnl := *t.PnL
		if closed[t.Strategy] == 0 || pnl > s.BestPnL {
			s.BestPnL = pnl
		}
		if closed[t.Strategy] == 0 || pnl < s.WorstPnL {
			s.WorstPnL = pnl
		}
		closed[t.Strategy]++
		s.TotalPnL += pnl
		if pnl > 0 {
			s.Wins++
		}
	}
	out := make([]StrategyStats, 0, len(byName))
	for name, s := range byName {
		if n := closed[name]; n > 0 {
			s.AvgPnL = money.Round4(s.TotalPnL / float64(n))
		}
		s.TotalPnL = money.Round4(s.TotalPnL)
		s.Volume = money.Cents(s.Volume)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalPnL > out[j].TotalPnL })
	return out
}

// dailySeries returns one point per UTC day for the last days days, oldest first.
func dailySeries(trades []trade.Trade, now time.Time, days int) []DailyPoint {
	today, _ := utcDay(now)
	first := today.AddDate(0, 0, -(days - 1))
	byDay := make(map[string]float64, days)
	for _, t := range trades {
		if t.PnL == nil || t.ClosedAt == nil || t.ClosedAt.Before(first) {
			continue
		}
		byDay[t.ClosedAt.UTC().Format("2006-01-02")] += *t.PnL
	}
	out := make([]DailyPoint, 0, days)
	cum := 0.0
	for i := 0; i < days; i++ {
		day := first.AddDate(0, 0, i).Format("2006-01-02")
		pnl := money.Round4(byDay[day])
		cum = money.Round4(cum + pnl)
		out = append(out, DailyPoint{Date: day, PnL: pnl, Cumulative: cum})
	}
	return out
}

func view(t trade.Trade) TradeView {
	v := TradeView{
		ID:          t.ID,
		Strategy:    t.Strategy,
		MarketID:    t.MarketID,
		Question:    t.Question,
		Side:        t.Side.String(),
		EntryPrice:  t.EntryPrice,
		SizeUSD:     t.SizeUSD,
		EdgePct:     t.EdgePct,
		DryRun:      t.DryRun,
		Status:      string(t.Status),
		PnL:         t.PnL,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
		CloseReason: t.CloseReason,
	}
	if t.ClosedAt != nil {
		v.ClosedAt = t.ClosedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func views(trades []trade.Trade) []TradeView {
	out := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, view(t))
	}
	return out
}

// Dashboard builds the full export document from one read of the trade set.
func (l *Ledger) Dashboard(ctx context.Context) (Dashboard, error) {
	rows, err := l.trades.List(ctx, store.TradeQuery{})
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard: %w", err)
	}
	all := fromModels(rows)
	now := l.nowFn()
	st := l.Stats(ctx)

	d := Dashboard{
		Summary: DashboardSummary{
			PortfolioValue: st.PortfolioValue,
			InitialCapital: l.initial,
			TotalPnL:       st.TotalPnL,
			DailyPnL:       st.DailyPnL,
			Deployed:       st.Deployed,
			Cash:           st.Cash,
			WinRatePct:     money.Round4(st.WinRate * 100),
			TradeCount:     st.TradeCount,
			OpenCount:      st.OpenCount,
			LiveBalances:   st.LiveBalances,
		},
		DailyPnL:   dailySeries(all, now, dashboardSeriesDays),
		Strategies: breakdown(all),
		Health:     Health{GeneratedAt: now.UTC().Format(time.RFC3339)},
	}

	var open, closed []trade.Trade
	for _, t := range all {
		if t.IsOpen() {
			open = append(open, t)
		} else {
			closed = append(closed, t)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closedAt(closed[i]).After(closedAt(closed[j]))
	})
	if len(closed) > dashboardRecentTrades {
		closed = closed[:dashboardRecentTrades]
	}
	d.OpenPositions = views(open)
	d.ClosedPositions = views(closed)

	recent := make([]trade.Trade, len(all))
	copy(recent, all)
	sort.SliceStable(recent, func(i, j int) bool {
		if recent[i].CreatedAt.Equal(recent[j].CreatedAt) {
			return recent[i].ID > recent[j].ID
		}
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	if len(recent) > dashboardRecentTrades {
		recent = recent[:dashboardRecentTrades]
	}
	d.RecentTrades = views(recent)

	if len(recent) > 0 {
		last := recent[0].CreatedAt
		d.Health.LastTradeAt = last.UTC().Format(time.RFC3339)
		d.Health.BotActive = now.Sub(last) < botActiveWindow
	}
	return d, nil
}

// ExportDashboard writes the dashboard document to path atomically.
func (l *Ledger) ExportDashboard(ctx context.Context, path string) error {
	d, err := l.Dashboard(ctx)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func closedAt(t trade.Trade) time.Time {
	if t.ClosedAt == nil {
		return time.Time{}
	}
	return *t.ClosedAt
}

// Views renders trades the way the dashboard does, for API consumers.
func Views(trades []trade.Trade) []TradeView { return views(trades) }
