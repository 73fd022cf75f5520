// Package exit closes open positions before settlement when a profit, loss
// or staleness rule fires.
package exit

import (
	"context"
	"sync"
	"time"

	"polybot/internal/execution"
	"polybot/internal/logger"
	"polybot/internal/oracle"
	"polybot/internal/pkg/money"
	"polybot/internal/settlement"
	"polybot/internal/trade"

	"github.com/shopspring/decimal"
)

type Options struct {
	DryRun       bool
	Pacing       time.Duration
	PairedFeePct float64
	Thresholds   Thresholds
	Registry     *Registry
	Now          func() time.Time
}

type Report struct {
	Checked  int
	Closed   int
	Skipped  int
	Failed   int
	PnL      float64
	ByReason map[string]int
}

type Engine struct {
	positions settlement.Positions
	oracle    oracle.MarketOracle
	exec      execution.Client
	registry  *Registry
	calc      settlement.Calculator
	dryRun    bool
	pacing    time.Duration
	nowFn     func() time.Time
	log       logger.Component

	mu         sync.RWMutex
	thresholds Thresholds
}

func NewEngine(positions settlement.Positions, o oracle.MarketOracle, exec execution.Client, opts Options) *Engine {
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	th := opts.Thresholds
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	return &Engine{
		positions:  positions,
		oracle:     o,
		exec:       exec,
		registry:   reg,
		calc:       settlement.Calculator{PairedFeePct: opts.PairedFeePct},
		dryRun:     opts.DryRun,
		pacing:     opts.Pacing,
		nowFn:      now,
		thresholds: th,
		log:        logger.With("exit"),
	}
}

// SetThresholds swaps the rule parameters; the next sweep uses them.
func (e *Engine) SetThresholds(th Thresholds) {
	e.mu.Lock()
	e.thresholds = th
	e.mu.Unlock()
	e.log.Infof("thresholds updated: target=%+.0f%% stop=%+.0f%% max_hold=%s",
		th.ProfitTargetPct*100, th.StopLossPct*100, th.MaxHold)
}

func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// Sweep evaluates every open position once. Positions without a live price
// are skipped; a failed live sell leaves the position open.
func (e *Engine) Sweep(ctx context.Context) Report {
	rep := Report{ByReason: map[string]int{}}
	open := e.positions.OpenPositions(ctx)
	if len(open) == 0 {
		e.log.Debugf("no open positions to manage")
		return rep
	}
	th := e.Thresholds()
	e.log.Infof("checking %d open position(s)", len(open))

	total := decimal.Zero
	for i, t := range open {
		if i > 0 && !e.pause(ctx) {
			break
		}
		rep.Checked++
		v, ok, evaluated := e.evaluate(ctx, t, th)
		if !evaluated {
			rep.Skipped++
			continue
		}
		if !ok {
			continue
		}
		if err := e.close(ctx, t, v); err != nil {
			rep.Failed++
			e.log.Warnf("trade %d %s: %v", t.ID, v.Rule, err)
			continue
		}
		rep.Closed++
		rep.ByReason[v.Rule]++
		total = total.Add(money.Dec(v.PnL))
		e.log.Infof("CLOSED trade %d %s | pnl $%+.4f | %s", t.ID, short(t.Question), v.PnL, v.Reason)
	}
	rep.PnL = money.Round4(money.Float(total))
	if rep.Closed > 0 {
		e.log.Infof("closed %d position(s), pnl $%+.4f", rep.Closed, rep.PnL)
	}
	return rep
}

// evaluate reports evaluated=false when the position could not be priced.
func (e *Engine) evaluate(ctx context.Context, t trade.Trade, th Thresholds) (Verdict, bool, bool) {
	now := e.nowFn()
	switch t.Side.Kind() {
	case trade.SidePaired:
		v, ok := evaluatePaired(t, e.oracle.GetMarketStatus(ctx, t.MarketID), now, th, e.calc)
		return v, ok, true
	case trade.SideSingle:
		if t.TokenRef == "" || t.EntryPrice <= 0 {
			return Verdict{}, false, false
		}
		price := e.oracle.GetLivePrice(ctx, t.TokenRef)
		if price == nil || *price <= 0 {
			return Verdict{}, false, false
		}
		p := NewPosition(t, *price, now, th.ExitFeePct)
		e.log.Debugf("trade %d: entry=%.3f now=%.3f change=%+.1f%% net=$%+.4f held=%.0fh",
			t.ID, t.EntryPrice, p.Price, p.Change*100, p.NetPnL, p.Held.Hours())
		v, ok := e.registry.Evaluate(p, th)
		return v, ok, true
	default:
		return Verdict{}, false, false
	}
}

func (e *Engine) close(ctx context.Context, t trade.Trade, v Verdict) error {
	if t.Side.IsSingle() {
		if tokens := t.TokensOwned(); tokens > 0 {
			res := e.exec.PlaceMarketOrder(ctx, t.TokenRef, tokens, execution.Sell, e.dryRun)
			if !res.Success {
				if !e.dryRun {
					return &sellError{msg: res.Error}
				}
				e.log.Warnf("paper sell for trade %d failed: %s", t.ID, res.Error)
			}
		}
	}
	return e.positions.Close(ctx, t.ID, v.PnL, trade.StatusForPnl(v.PnL), v.Reason)
}

func (e *Engine) pause(ctx context.Context) bool {
	if e.pacing <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(e.pacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type sellError struct{ msg string }

func (e *sellError) Error() string { return "live sell failed, position kept open: " + e.msg }

func short(s string) string {
	r := []rune(s)
	if len(r) > 50 {
		return string(r[:50])
	}
	return string(r)
}
