// Package risk is the single chokepoint every trade size passes before
// execution. It owns position sizing and the Active/Halted state machine.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"polybot/internal/logger"
	"polybot/internal/pkg/money"
)

// Portfolio is the read side of the ledger the gate needs.
type Portfolio interface {
	DailyPnl(ctx context.Context) float64
	PortfolioValue(ctx context.Context) float64
	DeployedCapital(ctx context.Context) float64
}

type Limits struct {
	KellyFraction        float64
	MaxPositionPct       float64
	MaxGlobalExposurePct float64
	DailyLossLimitPct    float64
	MinTradeUSD          float64
	MinPortfolioUSD      float64
	DefaultCeilingUSD    float64
}

// Decision is the result of Approve.
type Decision struct {
	Approved bool
	Reason   string
	Rule     string
}

// Rule names, in evaluation order.
const (
	RuleHalted       = "halted"
	RuleDailyLoss    = "daily_loss"
	RuleExposure     = "global_exposure"
	RulePerTrade     = "per_trade_cap"
	RuleMinPortfolio = "min_portfolio"
	RuleMinTrade     = "min_trade"
	RuleApproved     = "approved"
)

// Transition is passed to observers on every halt/resume.
type Transition struct {
	From State
	To   State
}

type Gate struct {
	mu        sync.Mutex
	state     State
	limits    Limits
	portfolio Portfolio
	store     StateStore
	nowFn     func() time.Time
	observers []func(Transition)
	log       logger.Component
}

// NewGate builds a gate around an explicit initial state, normally the one
// returned by StateStore.Load.
func NewGate(limits Limits, portfolio Portfolio, store StateStore, initial State) *Gate {
	return &Gate{
		state:     initial.normalized(),
		limits:    limits,
		portfolio: portfolio,
		store:     store,
		nowFn:     time.Now,
		log:       logger.With("risk"),
	}
}

// LoadGate reads the persisted state and builds a gate from it.
func LoadGate(ctx context.Context, limits Limits, portfolio Portfolio, store StateStore) (*Gate, error) {
	st, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	g := NewGate(limits, portfolio, store, st)
	if st.Halted {
		g.log.Warnf("starting halted: %s (%s)", st.HaltReason, st.HaltKind)
	}
	return g, nil
}

func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if now != nil {
		g.nowFn = now
	}
}

// OnTransition registers fn to run after each halt/resume. fn runs under the
// gate lock and must not call back into the gate.
func (g *Gate) OnTransition(fn func(Transition)) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.observers = append(g.observers, fn)
	g.mu.Unlock()
}

func (g *Gate) Limits() Limits { return g.limits }

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Halted
}

// KellySize returns the fractional-Kelly stake for a candidate, capped by the
// per-trade percentage and the ceiling, floored at the minimum trade size and
// rounded to cents. ceiling <= 0 uses the default ceiling. Non-positive or
// non-finite inputs size to zero.
func (g *Gate) KellySize(edge, odds, bankroll, ceiling float64) float64 {
	return KellySize(g.limits, edge, odds, bankroll, ceiling)
}

func KellySize(l Limits, edge, odds, bankroll, ceiling float64) float64 {
	for _, v := range []float64{edge, odds, bankroll, ceiling} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
	}
	if edge <= 0 || odds <= 0 || bankroll <= 0 {
		return 0
	}
	if ceiling <= 0 {
		ceiling = l.DefaultCeilingUSD
	}
	kelly := money.Dec(edge).Div(money.Dec(odds)).Mul(money.Dec(l.KellyFraction))
	raw := money.Float(money.Dec(bankroll).Mul(kelly))
	size := math.Min(raw, bankroll*l.MaxPositionPct)
	if ceiling > 0 {
		size = math.Min(size, ceiling)
	}
	size = math.Max(size, l.MinTradeUSD)
	if ceiling > 0 {
		size = math.Min(size, ceiling)
	}
	return money.Cents(size)
}

// Approve runs the ordered checks; the first failure wins. A daily-loss
// breach halts the gate as a side effect.
func (g *Gate) Approve(ctx context.Context, sizeUSD float64) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.Halted {
		return Decision{Reason: "Trading halted: " + g.state.HaltReason, Rule: RuleHalted}
	}
	if math.IsNaN(sizeUSD) || math.IsInf(sizeUSD, 0) {
		return Decision{Reason: "Trade size is not a number", Rule: RuleMinTrade}
	}

	value := g.portfolio.PortfolioValue(ctx)
	deployed := g.portfolio.DeployedCapital(ctx)
	daily := g.portfolio.DailyPnl(ctx)

	lossLimit := value * g.limits.DailyLossLimitPct
	if money.LT(daily, -lossLimit) {
		reason := fmt.Sprintf("Daily loss limit hit: $%.2f (limit: -$%.2f)", daily, lossLimit)
		g.haltLocked(ctx, HaltDailyLoss, reason, "risk_gate")
		return Decision{Reason: reason, Rule: RuleDailyLoss}
	}

	maxDeployed := value * g.limits.MaxGlobalExposurePct
	if money.GT(deployed+sizeUSD, maxDeployed) {
		return Decision{
			Reason: fmt.Sprintf("Exposure limit: $%.2f + $%.2f > $%.2f max", deployed, sizeUSD, maxDeployed),
			Rule:   RuleExposure,
		}
	}

	maxPerTrade := value * g.limits.MaxPositionPct
	if money.GT(sizeUSD, maxPerTrade) {
		return Decision{
			Reason: fmt.Sprintf("Position too large: $%.2f > $%.2f max", sizeUSD, maxPerTrade),
			Rule:   RulePerTrade,
		}
	}

	if money.LT(value, g.limits.MinPortfolioUSD) {
		return Decision{Reason: fmt.Sprintf("Portfolio too small to trade: $%.2f", value), Rule: RuleMinPortfolio}
	}

	if money.LT(sizeUSD, g.limits.MinTradeUSD) {
		return Decision{Reason: fmt.Sprintf("Trade too small: $%.2f", sizeUSD), Rule: RuleMinTrade}
	}

	g.log.Debugf("approved $%.2f | portfolio $%.2f deployed $%.2f", sizeUSD, value, deployed)
	return Decision{Approved: true, Reason: "approved", Rule: RuleApproved}
}

// EmergencyHalt halts trading until an explicit Resume. It is never cleared
// by CheckDailyReset.
func (g *Gate) EmergencyHalt(ctx context.Context, reason, by string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if reason == "" {
		reason = "emergency halt"
	}
	return g.haltLocked(ctx, HaltEmergency, reason, by)
}

// Resume clears any halt.
func (g *Gate) Resume(ctx context.Context, by string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resumeLocked(ctx, by)
}

// CheckDailyReset clears a daily-loss halt once the UTC day has rolled over
// since the halt. An emergency halt stored by another process is adopted
// first and is never cleared here. It reports whether it resumed.
func (g *Gate) CheckDailyReset(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.dailyLossHalt() {
		if _, err := g.syncLocked(ctx); err != nil {
			g.log.Warnf("merge stored risk state: %v", err)
		}
	}
	if !g.state.dailyLossHalt() {
		return false, nil
	}
	now := g.nowFn().UTC()
	if !g.state.HaltedAt.IsZero() && sameUTCDay(g.state.HaltedAt, now) {
		return false, nil
	}
	if err := g.resumeLocked(ctx, "daily_reset"); err != nil {
		return true, err
	}
	g.log.Infof("daily reset: trading resumed for new UTC day")
	return true, nil
}

// Sync adopts a halt or resume written to the store by another process,
// such as `polybot halt` or an edited control file. A stored record older
// than the in-memory state is ignored, except that a stored emergency halt
// always upgrades a daily-loss halt. It reports whether the state changed.
func (g *Gate) Sync(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.syncLocked(ctx)
}

func (g *Gate) syncLocked(ctx context.Context) (bool, error) {
	if g.store == nil {
		return false, nil
	}
	loaded, err := g.store.Load(ctx)
	if err != nil {
		return false, err
	}
	loaded = loaded.normalized()
	if !g.adoptable(loaded) {
		return false, nil
	}
	from := g.state
	loaded.LastRunAt = from.LastRunAt
	g.state = loaded
	if loaded.Halted {
		g.log.Warnf("external halt adopted (%s): %s", loaded.HaltKind, loaded.HaltReason)
	} else {
		g.log.Infof("external resume adopted (by %s)", loaded.UpdatedBy)
	}
	tr := Transition{From: from, To: g.state}
	for _, fn := range g.observers {
		fn(tr)
	}
	return true, nil
}

// adoptable applies the same upgrade rule as haltLocked: while both sides
// are halted only an emergency replaces a daily-loss halt.
func (g *Gate) adoptable(loaded State) bool {
	if loaded.Halted && g.state.Halted {
		return loaded.HaltKind == HaltEmergency && g.state.HaltKind != HaltEmergency
	}
	if loaded.Halted == g.state.Halted {
		return false
	}
	return loaded.UpdatedAt.IsZero() || !loaded.UpdatedAt.Before(g.state.UpdatedAt)
}

// MarkRun stamps the last cycle time on the persisted state. The stored
// record is merged first so a halt written by another process mid-cycle
// survives.
func (g *Gate) MarkRun(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.LastRunAt = g.nowFn().UTC()
	return g.persistLocked(ctx)
}

// Save persists the current state after merging the stored record; called
// at process end.
func (g *Gate) Save(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.persistLocked(ctx)
}

func (g *Gate) persistLocked(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	if _, err := g.syncLocked(ctx); err != nil {
		g.log.Warnf("merge stored risk state: %v", err)
	}
	return g.store.Save(ctx, g.state)
}

func (g *Gate) haltLocked(ctx context.Context, kind HaltKind, reason, by string) error {
	if g.state.Halted {
		// keep the first reason; an emergency still upgrades a daily-loss halt
		// so the daily reset cannot clear it
		if kind != HaltEmergency || g.state.HaltKind == HaltEmergency {
			return nil
		}
	}
	from := g.state
	now := g.nowFn().UTC()
	g.state.Halted = true
	g.state.HaltReason = reason
	g.state.HaltKind = kind
	g.state.HaltedAt = now
	g.state.UpdatedBy = by
	g.state.UpdatedAt = now
	g.log.Errorf("TRADING HALTED (%s): %s", kind, reason)
	return g.commitLocked(ctx, from)
}

func (g *Gate) resumeLocked(ctx context.Context, by string) error {
	if !g.state.Halted {
		return nil
	}
	from := g.state
	g.state.Halted = false
	g.state.HaltReason = ""
	g.state.HaltKind = HaltNone
	g.state.HaltedAt = time.Time{}
	g.state.UpdatedBy = by
	g.state.UpdatedAt = g.nowFn().UTC()
	g.log.Infof("trading resumed by %s", by)
	return g.commitLocked(ctx, from)
}

// commitLocked persists the new state immediately. The in-memory transition
// stands even if the write fails.
func (g *Gate) commitLocked(ctx context.Context, from State) error {
	var err error
	if g.store != nil {
		if err = g.store.Save(ctx, g.state); err != nil {
			g.log.Errorf("persist risk state: %v", err)
			err = fmt.Errorf("persist risk state: %w", err)
		}
	}
	tr := Transition{From: from, To: g.state}
	for _, fn := range g.observers {
		fn(tr)
	}
	return err
}

func sameUTCDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
