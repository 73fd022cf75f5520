package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"polybot/internal/pkg/money"
	"polybot/internal/store"
	"polybot/internal/store/model"
	"polybot/internal/trade"

	"gorm.io/datatypes"
)

// Stats is one consistent read of the portfolio aggregates.
type Stats struct {
	TotalPnL       float64
	DailyPnL       float64
	Deployed       float64
	PortfolioValue float64
	Cash           float64
	WinRate        float64
	Wins           int
	Closed         int
	TradeCount     int64
	OpenCount      int64
	LiveBalances   bool
}

// Snapshot mirrors one portfolio_snapshots row.
type Snapshot struct {
	TakenAt    time.Time `json:"taken_at"`
	TotalValue float64   `json:"total_value"`
	Cash       float64   `json:"cash"`
	Deployed   float64   `json:"deployed"`
	TotalPnL   float64   `json:"total_pnl"`
	DailyPnL   float64   `json:"daily_pnl"`
	TradeCount int64     `json:"trade_count"`
	OpenCount  int64     `json:"open_count"`
	WinRate    float64   `json:"win_rate"`
}

func (l *Ledger) TotalPnl(ctx context.Context) float64 {
	total, err := l.trades.SumPnL(ctx, store.TradeQuery{Statuses: terminalStatuses()})
	if err != nil {
		l.log.Errorf("total pnl: %v", err)
		return 0
	}
	return money.Cents(total)
}

// DailyPnl sums realized pnl of trades closed during the current UTC day.
func (l *Ledger) DailyPnl(ctx context.Context) float64 {
	start, end := utcDay(l.nowFn())
	total, err := l.trades.SumPnL(ctx, store.TradeQuery{
		Statuses:    terminalStatuses(),
		ClosedSince: start.Unix(),
		ClosedUntil: end.Unix(),
	})
	if err != nil {
		l.log.Errorf("daily pnl: %v", err)
		return 0
	}
	return money.Cents(total)
}

// DeployedCapital is the sum of sizeUsd over open trades.
func (l *Ledger) DeployedCapital(ctx context.Context) float64 {
	total, err := l.trades.SumSize(ctx, store.TradeQuery{Statuses: []string{string(trade.StatusOpen)}})
	if err != nil {
		l.log.Errorf("deployed capital: %v", err)
		return 0
	}
	return money.Cents(total)
}

// WinRate is wins / closed trades with a known pnl, in [0, 1].
func (l *Ledger) WinRate(ctx context.Context) float64 {
	wins, closed := l.winLoss(ctx)
	if closed == 0 {
		return 0
	}
	return float64(wins) / float64(closed)
}

func (l *Ledger) winLoss(ctx context.Context) (wins, closed int) {
	rows, err := l.trades.List(ctx, store.TradeQuery{Statuses: terminalStatuses()})
	if err != nil {
		l.log.Errorf("win rate: %v", err)
		return 0, 0
	}
	for _, row := range rows {
		if row.PnL == nil {
			continue
		}
		closed++
		if *row.PnL > 0 {
			wins++
		}
	}
	return wins, closed
}

func (l *Ledger) TradeCount(ctx context.Context) int64 {
	n, err := l.trades.Count(ctx, store.TradeQuery{})
	if err != nil {
		l.log.Errorf("trade count: %v", err)
		return 0
	}
	return n
}

// PortfolioValue uses live balances plus deployed capital when a balance
// source reports any cash, otherwise initial capital plus realized pnl.
func (l *Ledger) PortfolioValue(ctx context.Context) float64 {
	value, _ := l.portfolioValue(ctx, l.TotalPnl(ctx), l.DeployedCapital(ctx))
	return value
}

func (l *Ledger) portfolioValue(ctx context.Context, totalPnl, deployed float64) (float64, bool) {
	if l.balances != nil {
		onChain, deposited, err := l.balances.Balances(ctx)
		switch {
		case err != nil:
			l.log.Warnf("live balances unavailable, using ledger valuation: %v", err)
		case onChain+deposited > 0:
			return money.Cents(money.Sum(onChain, deposited, deployed)), true
		}
	}
	return money.Cents(money.Sum(l.initial, totalPnl)), false
}

func (l *Ledger) Stats(ctx context.Context) Stats {
	s := Stats{
		TotalPnL:   l.TotalPnl(ctx),
		DailyPnL:   l.DailyPnl(ctx),
		Deployed:   l.DeployedCapital(ctx),
		TradeCount: l.TradeCount(ctx),
	}
	s.PortfolioValue, s.LiveBalances = l.portfolioValue(ctx, s.TotalPnL, s.Deployed)
	s.Cash = money.Cents(l.initial + s.TotalPnL - s.Deployed)
	s.Wins, s.Closed = l.winLoss(ctx)
	if s.Closed > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Closed)
	}
	open, err := l.trades.Count(ctx, store.TradeQuery{Statuses: []string{string(trade.StatusOpen)}})
	if err != nil {
		l.log.Errorf("open count: %v", err)
	}
	s.OpenCount = open
	return s
}

// Snapshot appends one portfolio_snapshots row. Each call adds a row; history
// is never rewritten.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	st := l.Stats(ctx)
	snap := Snapshot{
		TakenAt:    l.nowFn().UTC(),
		TotalValue: st.PortfolioValue,
		Cash:       st.Cash,
		Deployed:   st.Deployed,
		TotalPnL:   st.TotalPnL,
		DailyPnL:   st.DailyPnL,
		TradeCount: st.TradeCount,
		OpenCount:  st.OpenCount,
		WinRate:    st.WinRate,
	}
	var breakdown datatypes.JSON
	if rows, err := l.StrategyBreakdown(ctx); err == nil {
		if raw, err := json.Marshal(rows); err == nil {
			breakdown = datatypes.JSON(raw)
		}
	}
	row := &model.SnapshotModel{
		TakenAt:    snap.TakenAt.Unix(),
		TotalValue: snap.TotalValue,
		Cash:       snap.Cash,
		Deployed:   snap.Deployed,
		TotalPnL:   snap.TotalPnL,
		DailyPnL:   snap.DailyPnL,
		TradeCount: snap.TradeCount,
		OpenCount:  snap.OpenCount,
		WinRate:    snap.WinRate,
		Breakdown:  breakdown,
	}
	if err := l.snapshots.Append(ctx, row); err != nil {
		return Snapshot{}, fmt.Errorf("append snapshot: %w", err)
	}
	return snap, nil
}

func (l *Ledger) Snapshots(ctx context.Context, since time.Time) ([]Snapshot, error) {
	var from int64
	if !since.IsZero() {
		from = since.Unix()
	}
	rows, err := l.snapshots.List(ctx, from, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, Snapshot{
			TakenAt:    time.Unix(r.TakenAt, 0).UTC(),
			TotalValue: r.TotalValue,
			Cash:       r.Cash,
			Deployed:   r.Deployed,
			TotalPnL:   r.TotalPnL,
			DailyPnL:   r.DailyPnL,
			TradeCount: r.TradeCount,
			OpenCount:  r.OpenCount,
			WinRate:    r.WinRate,
		})
	}
	return out, nil
}

// Summary renders the portfolio aggregates as a short text block.
func (l *Ledger) Summary(ctx context.Context) string {
	st := l.Stats(ctx)
	var b strings.Builder
	fmt.Fprintf(&b, "Portfolio value: $%.2f\n", st.PortfolioValue)
	fmt.Fprintf(&b, "Total P&L: $%+.2f\n", st.TotalPnL)
	fmt.Fprintf(&b, "Today P&L: $%+.2f\n", st.DailyPnL)
	fmt.Fprintf(&b, "Deployed: $%.2f\n", st.Deployed)
	fmt.Fprintf(&b, "Open positions: %d\n", st.OpenCount)
	fmt.Fprintf(&b, "Win rate: %.1f%% (%d/%d)\n", st.WinRate*100, st.Wins, st.Closed)
	fmt.Fprintf(&b, "Total trades: %d", st.TradeCount)
	return b.String()
}

func utcDay(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
