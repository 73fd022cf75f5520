package cycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"polybot/internal/execution"
	"polybot/internal/exit"
	"polybot/internal/ledger"
	"polybot/internal/risk"
	"polybot/internal/scanner"
	"polybot/internal/settlement"
	"polybot/internal/store/sqlite"
	"polybot/internal/trade"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type staticScanner struct {
	name       string
	candidates []trade.Candidate
	err        error
}

func (s staticScanner) Name() string { return s.name }

func (s staticScanner) Scan(context.Context) ([]trade.Candidate, error) {
	return s.candidates, s.err
}

type fakeExits struct{ rep exit.Report }

func (f fakeExits) Sweep(context.Context) exit.Report { return f.rep }

type fakeSettlement struct{ rep settlement.Report }

func (f fakeSettlement) Sweep(context.Context) settlement.Report { return f.rep }

type fakeExec struct {
	fail   bool
	orders []string
}

func (f *fakeExec) PlaceMarketOrder(_ context.Context, tokenRef string, amountUSD float64, side execution.OrderSide, dryRun bool) execution.Result {
	f.orders = append(f.orders, tokenRef)
	if f.fail {
		return execution.Result{Error: "rejected"}
	}
	return execution.Result{Success: true, OrderRef: execution.DryRunRef("mkt", tokenRef, side, 0, amountUSD), FilledSize: amountUSD}
}

func (f *fakeExec) PlaceLimitOrder(context.Context, string, float64, float64, execution.OrderSide, bool) execution.Result {
	return execution.Result{}
}

func (f *fakeExec) CancelOrder(context.Context, string, bool) bool { return true }

type recorder struct{ msgs []string }

func (r *recorder) SendText(_ context.Context, text string) error {
	r.msgs = append(r.msgs, text)
	return nil
}

func testLimits() risk.Limits {
	return risk.Limits{
		KellyFraction:        0.30,
		MaxPositionPct:       0.08,
		MaxGlobalExposurePct: 0.70,
		DailyLossLimitPct:    0.15,
		MinTradeUSD:          0.50,
		MinPortfolioUSD:      10,
		DefaultCeilingUSD:    10,
	}
}

func newFixture(t *testing.T) (*ledger.Ledger, *risk.Gate) {
	t.Helper()
	st, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "cycle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	l := ledger.New(st, ledger.Options{InitialCapital: 100, Now: func() time.Time { return testNow }})
	g := risk.NewGate(testLimits(), l, nil, risk.DefaultState())
	g.SetClock(func() time.Time { return testNow })
	return l, g
}

func weather(market string, edge float64) trade.Candidate {
	return trade.Candidate{
		Strategy: "weather",
		MarketID: market,
		TokenRef: market + "-yes",
		Question: "Will it rain?",
		Side:     trade.SingleSide(trade.OutcomeA),
		Price:    0.30,
		Edge:     edge,
	}
}

func TestRunPlacesSizesAndRejects(t *testing.T) {
	l, g := newFixture(t)
	exec := &fakeExec{}
	dash := filepath.Join(t.TempDir(), "dash", "dashboard.json")
	notes := &recorder{}

	paired := trade.Candidate{Strategy: "arb", MarketID: "m-pair", Side: trade.Paired(), Price: 0.95, SizeHint: 20}
	scanners := []scanner.Scanner{
		staticScanner{name: "weather", candidates: []trade.Candidate{
			weather("m1", 0.12),
			weather("m1", 0.20),
			weather("m2", 0),
		}},
		staticScanner{name: "broken", err: errors.New("feed down")},
		staticScanner{name: "arb", candidates: []trade.Candidate{paired}},
	}
	r := NewRunner(l, g,
		fakeExits{rep: exit.Report{Closed: 1, ByReason: map[string]int{trade.ReasonStopLoss: 1}}},
		fakeSettlement{rep: settlement.Report{Resolved: 2}},
		exec, scanners, notes,
		Options{DryRun: true, DashboardPath: dash, NotifyCycle: true, Now: func() time.Time { return testNow }})

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, rep.RunID, 26)
	assert.Equal(t, 4, rep.Candidates)
	assert.Equal(t, 1, rep.Placed)
	assert.Equal(t, 1, rep.AlreadyOpen)
	assert.Equal(t, 1, rep.Unsized)
	assert.Equal(t, 1, rep.Rejected[risk.RulePerTrade])
	assert.Contains(t, rep.ScannerErrors["broken"], "feed down")
	assert.Equal(t, 1, rep.Exits.Closed)
	assert.Equal(t, 2, rep.Settlements.Resolved)
	assert.Equal(t, []string{"m1-yes"}, exec.orders)

	open := l.OpenPositions(context.Background())
	require.Len(t, open, 1)
	assert.Equal(t, "m1", open[0].MarketID)
	assert.InDelta(t, 1.54, open[0].SizeUSD, 1e-9)
	assert.Equal(t, 0.30, open[0].EntryPrice)
	assert.True(t, open[0].DryRun)
	require.Len(t, open[0].OrderRefs, 1)
	assert.True(t, strings.HasPrefix(open[0].OrderRefs[0], "dry_run_"))

	assert.InDelta(t, 1.54, rep.Snapshot.Deployed, 1e-9)
	assert.EqualValues(t, 1, rep.Snapshot.OpenCount)

	_, err = os.Stat(dash)
	assert.NoError(t, err)
	require.Len(t, notes.msgs, 2)
	assert.Contains(t, notes.msgs[0], "cycle started")
	assert.Contains(t, notes.msgs[1], "placed: 1")
	assert.Equal(t, testNow, g.State().LastRunAt)
}

func TestRunWhileHaltedRejectsEverything(t *testing.T) {
	l, g := newFixture(t)
	require.NoError(t, g.EmergencyHalt(context.Background(), "manual stop", "test"))
	exec := &fakeExec{}
	r := NewRunner(l, g, fakeExits{}, fakeSettlement{}, exec,
		[]scanner.Scanner{staticScanner{name: "weather", candidates: []trade.Candidate{weather("m1", 0.12)}}},
		nil, Options{DryRun: true, Now: func() time.Time { return testNow }})

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Halted)
	assert.Equal(t, "manual stop", rep.HaltReason)
	assert.Equal(t, 1, rep.Rejected[risk.RuleHalted])
	assert.Empty(t, exec.orders)
}

func TestFailedOrderIsNotRecorded(t *testing.T) {
	l, g := newFixture(t)
	exec := &fakeExec{fail: true}
	r := NewRunner(l, g, fakeExits{}, fakeSettlement{}, exec,
		[]scanner.Scanner{staticScanner{name: "weather", candidates: []trade.Candidate{weather("m1", 0.12)}}},
		nil, Options{Now: func() time.Time { return testNow }})

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.OrderFailures)
	assert.Zero(t, rep.Placed)
	assert.Empty(t, l.OpenPositions(context.Background()))
}

func TestSizeFallsBackToHint(t *testing.T) {
	l, g := newFixture(t)
	r := NewRunner(l, g, fakeExits{}, fakeSettlement{}, &fakeExec{}, nil, nil, Options{})
	ctx := context.Background()

	assert.Equal(t, 4.0, r.size(ctx, trade.Candidate{Side: trade.Paired(), SizeHint: 4}))
	assert.Equal(t, 3.0, r.size(ctx, trade.Candidate{Side: trade.Paired(), SizeHint: 4, Ceiling: 3}))
	assert.Equal(t, 10.0, r.size(ctx, trade.Candidate{Side: trade.Paired(), SizeHint: 40}))
	assert.Zero(t, r.size(ctx, trade.Candidate{Side: trade.Paired()}))
	// explicit odds win over the price-derived ones
	assert.InDelta(t, 8.0, r.size(ctx, trade.Candidate{Side: trade.SingleSide(trade.OutcomeB), Edge: 0.5, Odds: 0.5, Price: 0.3}), 1e-9)
}
