// Package ledger is the durable record of trades and portfolio snapshots and
// the only writer of realized pnl. Aggregates are recomputed from storage on
// every call; nothing is cached between calls.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"polybot/internal/logger"
	"polybot/internal/pkg/money"
	"polybot/internal/store"
	"polybot/internal/trade"
)

var (
	ErrAlreadyClosed = errors.New("trade already closed")
	ErrTradeNotFound = errors.New("trade not found")
	ErrInvalidClose  = errors.New("invalid close")
)

// BalanceSource reports live cash balances. Either value may be zero.
type BalanceSource interface {
	Balances(ctx context.Context) (onChain, deposited float64, err error)
}

type Options struct {
	InitialCapital float64
	Balances       BalanceSource
	Now            func() time.Time
}

type Ledger struct {
	trades    store.TradeRepository
	snapshots store.SnapshotRepository
	initial   float64
	balances  BalanceSource
	nowFn     func() time.Time
	log       logger.Component
}

func New(st store.Store, opts Options) *Ledger {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		trades:    st.Trades(),
		snapshots: st.Snapshots(),
		initial:   opts.InitialCapital,
		balances:  opts.Balances,
		nowFn:     now,
		log:       logger.With("ledger"),
	}
}

func (l *Ledger) InitialCapital() float64 { return l.initial }

// Record inserts t as a new open trade and returns its id. Any storage error
// is returned as-is: a trade that failed to record did not happen.
func (l *Ledger) Record(ctx context.Context, t trade.Trade) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	t.Status = trade.StatusOpen
	t.PnL = nil
	t.ClosedAt = nil
	t.CloseReason = ""
	if t.CreatedAt.IsZero() {
		t.CreatedAt = l.nowFn()
	}
	row, err := toModel(t)
	if err != nil {
		return 0, err
	}
	if err := l.trades.Insert(ctx, row); err != nil {
		return 0, fmt.Errorf("record trade %s/%s: %w", t.Strategy, t.MarketID, err)
	}
	l.log.Infof("recorded #%d %s %s %s size=$%.2f entry=%.4f dry_run=%v",
		row.ID, t.Strategy, t.MarketID, t.Side, t.SizeUSD, t.EntryPrice, t.DryRun)
	return row.ID, nil
}

// Close moves an open trade to a terminal status exactly once. A second call
// returns ErrAlreadyClosed and leaves the stored pnl/status untouched.
func (l *Ledger) Close(ctx context.Context, id int64, pnl float64, status trade.Status, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: status %q is not terminal", ErrInvalidClose, status)
	}
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return fmt.Errorf("%w: pnl is not finite", ErrInvalidClose)
	}
	pnl = money.Round4(pnl)
	err := l.trades.Close(ctx, id, string(status), pnl, strings.TrimSpace(reason), l.nowFn().Unix())
	switch {
	case err == nil:
		l.log.Infof("closed #%d status=%s pnl=%+.4f reason=%s", id, status, pnl, reason)
		return nil
	case errors.Is(err, store.ErrNotOpen):
		l.log.Warnf("close #%d ignored: already closed", id)
		return fmt.Errorf("close #%d: %w", id, ErrAlreadyClosed)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("close #%d: %w", id, ErrTradeNotFound)
	default:
		return fmt.Errorf("close #%d: %w", id, err)
	}
}

func (l *Ledger) Get(ctx context.Context, id int64) (*trade.Trade, error) {
	row, err := l.trades.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrTradeNotFound
	}
	t := fromModel(*row)
	return &t, nil
}

// Trades returns trades matching f, oldest first unless f.Limit is set, in
// which case the newest f.Limit are returned newest first.
func (l *Ledger) Trades(ctx context.Context, f trade.Filter) ([]trade.Trade, error) {
	rows, err := l.trades.List(ctx, toQuery(f))
	if err != nil {
		return nil, err
	}
	return fromModels(rows), nil
}

// OpenPositions degrades to an empty set on storage errors.
func (l *Ledger) OpenPositions(ctx context.Context) []trade.Trade {
	out, err := l.Trades(ctx, trade.Filter{Status: trade.StatusOpen})
	if err != nil {
		l.log.Errorf("list open positions: %v", err)
		return nil
	}
	return out
}

func (l *Ledger) ClosedPositions(ctx context.Context, limit int) []trade.Trade {
	rows, err := l.trades.List(ctx, store.TradeQuery{
		Statuses:    terminalStatuses(),
		Limit:       limit,
		NewestFirst: true,
	})
	if err != nil {
		l.log.Errorf("list closed positions: %v", err)
		return nil
	}
	return fromModels(rows)
}

// HasOpenPosition is a best-effort duplicate-exposure check, not a lock: two
// callers that both check before either records will both see false. On a
// storage error it answers true so the market is skipped this cycle.
func (l *Ledger) HasOpenPosition(ctx context.Context, marketID string) bool {
	n, err := l.trades.Count(ctx, store.TradeQuery{
		Statuses: []string{string(trade.StatusOpen)},
		MarketID: strings.TrimSpace(marketID),
	})
	if err != nil {
		l.log.Errorf("has open position %s: %v", marketID, err)
		return true
	}
	return n > 0
}

func terminalStatuses() []string {
	return []string{
		string(trade.StatusWon),
		string(trade.StatusLost),
		string(trade.StatusResolved),
		string(trade.StatusExpired),
	}
}

func toQuery(f trade.Filter) store.TradeQuery {
	q := store.TradeQuery{
		Strategy:    strings.TrimSpace(f.Strategy),
		MarketID:    strings.TrimSpace(f.MarketID),
		Limit:       f.Limit,
		NewestFirst: f.Limit > 0,
	}
	if f.Status != "" {
		q.Statuses = []string{string(f.Status)}
	}
	if !f.Since.IsZero() {
		q.Since = f.Since.Unix()
	}
	if !f.Until.IsZero() {
		q.Until = f.Until.Unix()
	}
	return q
}
