package ledger

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"polybot/internal/store/sqlite"
	"polybot/internal/trade"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type mockBalances struct{ mock.Mock }

func (m *mockBalances) Balances(ctx context.Context) (float64, float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Get(1).(float64), args.Error(2)
}

func newTestLedger(t *testing.T, opts Options) (*Ledger, *sqlite.SqliteStore, *clock) {
	t.Helper()
	st, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	clk := &clock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	if opts.InitialCapital == 0 {
		opts.InitialCapital = 100
	}
	opts.Now = clk.Now
	return New(st, opts), st, clk
}

func single(market string, size, entry float64) trade.Trade {
	return trade.Trade{
		Strategy:   "value",
		MarketID:   market,
		TokenRef:   "tok-" + market,
		Side:       trade.SingleSide(trade.OutcomeA),
		EntryPrice: entry,
		SizeUSD:    size,
		EdgePct:    0.1,
		DryRun:     true,
		OrderRefs:  []string{"dry_run_1"},
	}
}

func TestRecordAndGet(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, Options{})

	id, err := l.Record(ctx, single("m1", 5, 0.4))
	require.NoError(t, err)

	got, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, trade.StatusOpen, got.Status)
	assert.Nil(t, got.PnL)
	assert.Equal(t, trade.SingleSide(trade.OutcomeA), got.Side)
	assert.Equal(t, []string{"dry_run_1"}, got.OrderRefs)
	assert.True(t, got.CreatedAt.Equal(clk.now))
	assert.True(t, l.HasOpenPosition(ctx, "m1"))
	assert.False(t, l.HasOpenPosition(ctx, "m2"))

	_, err = l.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestRecordRejectsInvalidTrade(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})

	_, err := l.Record(ctx, single("m1", -1, 0.4))
	assert.ErrorIs(t, err, trade.ErrInvalidTrade)
	assert.Zero(t, l.TradeCount(ctx))
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})

	id, err := l.Record(ctx, single("m1", 10, 0.5))
	require.NoError(t, err)

	require.NoError(t, l.Close(ctx, id, 4.123456, trade.StatusWon, trade.ReasonProfitTarget))

	err = l.Close(ctx, id, -10, trade.StatusLost, trade.ReasonStopLoss)
	assert.ErrorIs(t, err, ErrAlreadyClosed)

	got, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, trade.StatusWon, got.Status)
	require.NotNil(t, got.PnL)
	assert.InDelta(t, 4.1235, *got.PnL, 1e-9)
	assert.Equal(t, trade.ReasonProfitTarget, got.CloseReason)
	require.NotNil(t, got.ClosedAt)
	assert.False(t, l.HasOpenPosition(ctx, "m1"))
}

func TestCloseRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})
	id, err := l.Record(ctx, single("m1", 10, 0.5))
	require.NoError(t, err)

	assert.ErrorIs(t, l.Close(ctx, id, 1, trade.StatusOpen, "x"), ErrInvalidClose)
	assert.ErrorIs(t, l.Close(ctx, 12345, 1, trade.StatusWon, "x"), ErrTradeNotFound)

	got, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.IsOpen())
}

func TestDeployedCapitalRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, Options{})
	rng := rand.New(rand.NewSource(7))

	open := map[int64]float64{}
	for i := 0; i < 40; i++ {
		if len(open) > 0 && rng.Intn(3) == 0 {
			for id := range open {
				require.NoError(t, l.Close(ctx, id, 0, trade.StatusResolved, "test"))
				delete(open, id)
				break
			}
			continue
		}
		size := float64(rng.Intn(900)+100) / 100
		id, err := l.Record(ctx, single("m", size, 0.5))
		require.NoError(t, err)
		open[id] = size
	}

	want := 0.0
	for _, size := range open {
		want += size
	}
	assert.InDelta(t, want, l.DeployedCapital(ctx), 0.005)

	sum := 0.0
	for _, tr := range l.OpenPositions(ctx) {
		sum += tr.SizeUSD
	}
	assert.InDelta(t, sum, l.DeployedCapital(ctx), 0.005)
	assert.Len(t, l.OpenPositions(ctx), len(open))
}

func TestPnlAggregates(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, Options{})

	today := clk.now
	clk.now = today.Add(-24 * time.Hour)
	a, err := l.Record(ctx, single("a", 10, 0.5))
	require.NoError(t, err)
	require.NoError(t, l.Close(ctx, a, 5, trade.StatusWon, "x"))

	clk.now = today
	b, err := l.Record(ctx, single("b", 8, 0.5))
	require.NoError(t, err)
	require.NoError(t, l.Close(ctx, b, -8, trade.StatusLost, "x"))
	c, err := l.Record(ctx, single("c", 4, 0.5))
	require.NoError(t, err)
	require.NoError(t, l.Close(ctx, c, 2, trade.StatusWon, "x"))
	_, err = l.Record(ctx, single("d", 3, 0.5))
	require.NoError(t, err)

	assert.InDelta(t, -1, l.TotalPnl(ctx), 1e-9)
	assert.InDelta(t, -6, l.DailyPnl(ctx), 1e-9)
	assert.InDelta(t, 3, l.DeployedCapital(ctx), 1e-9)
	assert.InDelta(t, 2.0/3.0, l.WinRate(ctx), 1e-9)
	assert.InDelta(t, 99, l.PortfolioValue(ctx), 1e-9)

	st := l.Stats(ctx)
	assert.Equal(t, int64(4), st.TradeCount)
	assert.Equal(t, int64(1), st.OpenCount)
	assert.InDelta(t, 96, st.Cash, 1e-9)

	summary := l.Summary(ctx)
	assert.Contains(t, summary, "Portfolio value: $99.00")
	assert.Contains(t, summary, "Win rate: 66.7% (2/3)")
}

func TestPortfolioValueUsesLiveBalances(t *testing.T) {
	ctx := context.Background()
	bal := new(mockBalances)
	l, _, _ := newTestLedger(t, Options{Balances: bal})
	_, err := l.Record(ctx, single("m1", 12, 0.5))
	require.NoError(t, err)

	bal.On("Balances", mock.Anything).Return(40.0, 10.0, nil).Once()
	assert.InDelta(t, 62, l.PortfolioValue(ctx), 1e-9)

	bal.On("Balances", mock.Anything).Return(0.0, 0.0, nil).Once()
	assert.InDelta(t, 100, l.PortfolioValue(ctx), 1e-9)

	bal.On("Balances", mock.Anything).Return(0.0, 0.0, errors.New("rpc down")).Once()
	assert.InDelta(t, 100, l.PortfolioValue(ctx), 1e-9)
	bal.AssertExpectations(t)
}

func TestReadsDegradeWritesPropagate(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newTestLedger(t, Options{})
	_, err := l.Record(ctx, single("m1", 5, 0.5))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	assert.Zero(t, l.TotalPnl(ctx))
	assert.Zero(t, l.DeployedCapital(ctx))
	assert.Empty(t, l.OpenPositions(ctx))
	assert.True(t, l.HasOpenPosition(ctx, "m1"))

	_, err = l.Record(ctx, single("m2", 5, 0.5))
	assert.Error(t, err)
	assert.Error(t, l.Close(ctx, 1, 1, trade.StatusWon, "x"))
}

func TestSnapshotAppends(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, Options{})
	_, err := l.Record(ctx, single("m1", 5, 0.5))
	require.NoError(t, err)

	first, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100, first.TotalValue, 1e-9)
	assert.InDelta(t, 5, first.Deployed, 1e-9)
	assert.InDelta(t, 95, first.Cash, 1e-9)

	clk.now = clk.now.Add(time.Minute)
	_, err = l.Snapshot(ctx)
	require.NoError(t, err)

	snaps, err := l.Snapshots(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, Options{})

	a, err := l.Record(ctx, single("a", 10, 0.5))
	require.NoError(t, err)
	require.NoError(t, l.Close(ctx, a, 3, trade.StatusWon, "x"))
	arb := trade.Trade{Strategy: "arb", MarketID: "b", Side: trade.Paired(), EntryPrice: 0.95, SizeUSD: 10}
	b, err := l.Record(ctx, arb)
	require.NoError(t, err)
	require.NoError(t, l.Close(ctx, b, -1, trade.StatusLost, "x"))
	_, err = l.Record(ctx, single("c", 2, 0.5))
	require.NoError(t, err)

	clk.now = clk.now.Add(30 * time.Minute)
	d, err := l.Dashboard(ctx)
	require.NoError(t, err)

	assert.True(t, d.Health.BotActive)
	assert.Len(t, d.RecentTrades, 3)
	assert.Len(t, d.OpenPositions, 1)
	assert.Len(t, d.ClosedPositions, 2)
	require.Len(t, d.DailyPnL, 30)
	assert.InDelta(t, 2, d.DailyPnL[29].PnL, 1e-9)
	assert.InDelta(t, 2, d.DailyPnL[29].Cumulative, 1e-9)
	assert.InDelta(t, 50, d.Summary.WinRatePct, 1e-9)

	require.Len(t, d.Strategies, 2)
	assert.Equal(t, "value", d.Strategies[0].Strategy)
	assert.Equal(t, 2, d.Strategies[0].Trades)
	assert.Equal(t, 1, d.Strategies[0].Open)
	assert.InDelta(t, 12, d.Strategies[0].Volume, 1e-9)
	assert.InDelta(t, 3, d.Strategies[0].BestPnL, 1e-9)

	clk.now = clk.now.Add(2 * time.Hour)
	path := filepath.Join(t.TempDir(), "out", "dashboard.json")
	require.NoError(t, l.ExportDashboard(ctx, path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"bot_active": false`)
}
