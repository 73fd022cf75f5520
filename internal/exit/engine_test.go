package exit

import (
	"context"
	"strings"
	"testing"
	"time"

	"polybot/internal/execution"
	"polybot/internal/oracle"
	"polybot/internal/settlement"
	"polybot/internal/trade"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type mockOracle struct{ mock.Mock }

func (m *mockOracle) GetLivePrice(ctx context.Context, tokenRef string) *float64 {
	p, _ := m.Called(ctx, tokenRef).Get(0).(*float64)
	return p
}

func (m *mockOracle) GetMarketStatus(ctx context.Context, marketID string) *oracle.MarketStatus {
	s, _ := m.Called(ctx, marketID).Get(0).(*oracle.MarketStatus)
	return s
}

type mockExec struct{ mock.Mock }

func (m *mockExec) PlaceMarketOrder(ctx context.Context, tokenRef string, amountUSD float64, side execution.OrderSide, dryRun bool) execution.Result {
	return m.Called(ctx, tokenRef, amountUSD, side, dryRun).Get(0).(execution.Result)
}

func (m *mockExec) PlaceLimitOrder(ctx context.Context, tokenRef string, price, size float64, side execution.OrderSide, dryRun bool) execution.Result {
	return m.Called(ctx, tokenRef, price, size, side, dryRun).Get(0).(execution.Result)
}

func (m *mockExec) CancelOrder(ctx context.Context, ref string, dryRun bool) bool {
	return m.Called(ctx, ref, dryRun).Bool(0)
}

type closed struct {
	id     int64
	pnl    float64
	status trade.Status
	reason string
}

type fakePositions struct {
	open   []trade.Trade
	closes []closed
}

func (f *fakePositions) OpenPositions(context.Context) []trade.Trade { return f.open }

func (f *fakePositions) Close(_ context.Context, id int64, pnl float64, status trade.Status, reason string) error {
	f.closes = append(f.closes, closed{id, pnl, status, reason})
	return nil
}

var _ settlement.Positions = (*fakePositions)(nil)

func price(p float64) *float64 { return &p }

func single(id int64, entry, size float64, age time.Duration) trade.Trade {
	return trade.Trade{
		ID:         id,
		MarketID:   "m",
		TokenRef:   "tok",
		Side:       trade.SingleSide(trade.OutcomeA),
		EntryPrice: entry,
		SizeUSD:    size,
		Status:     trade.StatusOpen,
		CreatedAt:  testNow.Add(-age),
	}
}

func newEngine(pos *fakePositions, orc *mockOracle, exec *mockExec, dryRun bool) *Engine {
	return NewEngine(pos, orc, exec, Options{
		DryRun:       dryRun,
		PairedFeePct: settlement.DefaultPairedFeePct,
		Now:          func() time.Time { return testNow },
	})
}

func TestProfitTargetExit(t *testing.T) {
	orc := new(mockOracle)
	orc.On("GetLivePrice", mock.Anything, "tok").Return(price(0.40))
	exec := new(mockExec)
	exec.On("PlaceMarketOrder", mock.Anything, "tok", mock.MatchedBy(func(v float64) bool { return v > 9.999 && v < 10.001 }), execution.Sell, false).
		Return(execution.Result{Success: true, OrderRef: "0xsell"}).Once()

	pos := &fakePositions{open: []trade.Trade{single(1, 0.30, 3, time.Hour)}}
	rep := newEngine(pos, orc, exec, false).Sweep(context.Background())

	exec.AssertExpectations(t)
	require.Len(t, pos.closes, 1)
	c := pos.closes[0]
	assert.Equal(t, trade.StatusWon, c.status)
	assert.InDelta(t, 0.992, c.pnl, 1e-9)
	assert.True(t, strings.HasPrefix(c.reason, "profit_target: +33% gain"), c.reason)
	assert.Equal(t, 1, rep.Closed)
	assert.Equal(t, 1, rep.ByReason[trade.ReasonProfitTarget])
}

func TestRuleOrder(t *testing.T) {
	reg := DefaultRegistry()
	th := DefaultThresholds()
	assert.Equal(t, []string{
		"profit_target", "trailing_profit", "stop_loss", "near_resolution",
		"likely_loser", "stale", "max_hold",
	}, reg.IDs())

	cases := []struct {
		name  string
		entry float64
		price float64
		age   time.Duration
		want  string
	}{
		{"hold", 0.50, 0.55, time.Hour, ""},
		{"trailing needs 24h", 0.50, 0.60, 23 * time.Hour, ""},
		{"trailing", 0.50, 0.60, 25 * time.Hour, "trailing_profit"},
		{"stop loss", 0.50, 0.25, time.Hour, "stop_loss"},
		{"stop loss beats likely loser", 0.50, 0.05, 3 * time.Hour, "stop_loss"},
		{"near resolution", 0.90, 0.95, time.Hour, "near_resolution"},
		{"near resolution needs profit", 0.97, 0.95, time.Hour, ""},
		{"likely loser", 0.12, 0.07, 3 * time.Hour, "likely_loser"},
		{"likely loser needs 2h", 0.12, 0.07, time.Hour, ""},
		{"stale", 0.50, 0.51, 49 * time.Hour, "stale"},
		{"max hold", 0.50, 0.40, 169 * time.Hour, "max_hold"},
		{"profit target first", 0.40, 0.95, 200 * time.Hour, "profit_target"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPosition(single(1, tc.entry, 10, tc.age), tc.price, testNow, th.ExitFeePct)
			v, ok := reg.Evaluate(p, th)
			if tc.want == "" {
				assert.False(t, ok, v.Reason)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tc.want, v.Rule)
			assert.Equal(t, p.NetPnL, v.PnL)
		})
	}
}

func TestRegistryReplacesInPlace(t *testing.T) {
	reg := DefaultRegistry()
	reg.Register(stopLoss{})
	assert.Len(t, reg.IDs(), 7)
	assert.Equal(t, "stop_loss", reg.IDs()[2])
	_, ok := reg.Rule("nope")
	assert.False(t, ok)
	assert.Panics(t, func() { reg.MustRule("nope") })
}

func TestMissingPriceSkips(t *testing.T) {
	orc := new(mockOracle)
	orc.On("GetLivePrice", mock.Anything, "tok").Return(nil)
	pos := &fakePositions{open: []trade.Trade{single(1, 0.30, 3, 300*time.Hour)}}
	noToken := single(2, 0.30, 3, 300*time.Hour)
	noToken.TokenRef = ""
	pos.open = append(pos.open, noToken)

	rep := newEngine(pos, orc, new(mockExec), false).Sweep(context.Background())
	assert.Equal(t, 2, rep.Skipped)
	assert.Empty(t, pos.closes)
}

func TestFailedLiveSellKeepsPositionOpen(t *testing.T) {
	orc := new(mockOracle)
	orc.On("GetLivePrice", mock.Anything, "tok").Return(price(0.10))
	exec := new(mockExec)
	exec.On("PlaceMarketOrder", mock.Anything, "tok", mock.Anything, execution.Sell, mock.Anything).
		Return(execution.Result{Error: "no liquidity"})

	pos := &fakePositions{open: []trade.Trade{single(1, 0.50, 5, time.Hour)}}
	rep := newEngine(pos, orc, exec, false).Sweep(context.Background())
	assert.Equal(t, 1, rep.Failed)
	assert.Empty(t, pos.closes)

	// paper trading still books the exit
	rep = newEngine(pos, orc, exec, true).Sweep(context.Background())
	assert.Equal(t, 1, rep.Closed)
	require.Len(t, pos.closes, 1)
	assert.Equal(t, trade.StatusLost, pos.closes[0].status)
	assert.InDelta(t, -4.002, pos.closes[0].pnl, 1e-9)
}

func TestPairedExits(t *testing.T) {
	paired := func(id int64, market string, age time.Duration) trade.Trade {
		return trade.Trade{ID: id, MarketID: market, Side: trade.Paired(), EntryPrice: 0.95, SizeUSD: 10, Status: trade.StatusOpen, CreatedAt: testNow.Add(-age)}
	}
	orc := new(mockOracle)
	orc.On("GetMarketStatus", mock.Anything, "resolved").Return(&oracle.MarketStatus{Resolved: true})
	orc.On("GetMarketStatus", mock.Anything, "past").Return(&oracle.MarketStatus{EndDate: testNow.Add(-time.Hour)})
	orc.On("GetMarketStatus", mock.Anything, "running").Return(&oracle.MarketStatus{EndDate: testNow.Add(time.Hour)})
	orc.On("GetMarketStatus", mock.Anything, "down").Return(nil)

	pos := &fakePositions{open: []trade.Trade{
		paired(1, "resolved", time.Hour),
		paired(2, "past", time.Hour),
		paired(3, "running", time.Hour),
		paired(4, "down", 337*time.Hour),
	}}
	exec := new(mockExec)
	rep := newEngine(pos, orc, exec, false).Sweep(context.Background())

	exec.AssertNotCalled(t, "PlaceMarketOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 3, rep.Closed)
	require.Len(t, pos.closes, 3)
	assert.Equal(t, int64(1), pos.closes[0].id)
	assert.InDelta(t, 0.4863, pos.closes[0].pnl, 1e-9)
	assert.Equal(t, "arb_resolved: market settled", pos.closes[0].reason)
	assert.True(t, strings.HasPrefix(pos.closes[1].reason, "arb_past_resolution"))
	assert.Equal(t, int64(4), pos.closes[2].id)
	assert.Zero(t, pos.closes[2].pnl)
	assert.Equal(t, trade.StatusResolved, pos.closes[2].status)
}

func TestPairedLossClampedAtZero(t *testing.T) {
	tr := trade.Trade{Side: trade.Paired(), EntryPrice: 1.02, SizeUSD: 10, CreatedAt: testNow}
	v, ok := evaluatePaired(tr, &oracle.MarketStatus{Resolved: true}, testNow, DefaultThresholds(), settlement.Calculator{PairedFeePct: 0.004})
	require.True(t, ok)
	assert.Zero(t, v.PnL)
}

func TestSetThresholdsAppliesToNextSweep(t *testing.T) {
	orc := new(mockOracle)
	orc.On("GetLivePrice", mock.Anything, "tok").Return(price(0.55))
	exec := new(mockExec)
	exec.On("PlaceMarketOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(execution.Result{Success: true})

	pos := &fakePositions{open: []trade.Trade{single(1, 0.50, 5, time.Hour)}}
	e := newEngine(pos, orc, exec, true)
	assert.Zero(t, e.Sweep(context.Background()).Closed)

	th := e.Thresholds()
	th.ProfitTargetPct = 0.05
	e.SetThresholds(th)
	assert.Equal(t, 1, e.Sweep(context.Background()).Closed)
}

func TestPacingHonorsCancel(t *testing.T) {
	orc := new(mockOracle)
	orc.On("GetLivePrice", mock.Anything, "tok").Return(price(0.5))
	pos := &fakePositions{open: []trade.Trade{single(1, 0.5, 5, time.Hour), single(2, 0.5, 5, time.Hour)}}
	e := NewEngine(pos, orc, new(mockExec), Options{Pacing: time.Hour, Now: func() time.Time { return testNow }})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	rep := e.Sweep(ctx)
	assert.Equal(t, 1, rep.Checked)
	assert.Less(t, time.Since(start), 5*time.Second)
}
