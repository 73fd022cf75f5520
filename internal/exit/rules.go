package exit

import (
	"fmt"
	"time"

	"polybot/internal/pkg/money"
	"polybot/internal/trade"
)

// Thresholds parameterize the single-sided exit rules and can be swapped at runtime.
type Thresholds struct {
	ProfitTargetPct    float64
	TrailingProfitPct  float64
	TrailingAfter      time.Duration
	StopLossPct        float64 // negative, e.g. -0.50
	NearResolutionHigh float64
	LikelyLoserLow     float64
	LikelyLoserMinHold time.Duration
	StaleAfter         time.Duration
	StaleMovePct       float64
	MaxHold            time.Duration
	PairedMaxHold      time.Duration
	ExitFeePct         float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ProfitTargetPct:    0.25,
		TrailingProfitPct:  0.15,
		TrailingAfter:      24 * time.Hour,
		StopLossPct:        -0.50,
		NearResolutionHigh: 0.92,
		LikelyLoserLow:     0.08,
		LikelyLoserMinHold: 2 * time.Hour,
		StaleAfter:         48 * time.Hour,
		StaleMovePct:       0.05,
		MaxHold:            168 * time.Hour,
		PairedMaxHold:      336 * time.Hour,
		ExitFeePct:         0.002,
	}
}

// Position is the evaluation view of one single-sided open trade at the
// current live price.
type Position struct {
	Trade  trade.Trade
	Price  float64
	Held   time.Duration
	Change float64 // (price-entry)/entry
	NetPnL float64 // tokens*price - size - sell fee
}

// NewPosition derives the price-dependent fields. Sell fee is charged on
// the current value of the tokens.
func NewPosition(t trade.Trade, price float64, now time.Time, feePct float64) Position {
	tokens := money.Dec(t.TokensOwned())
	value := tokens.Mul(money.Dec(price))
	net := value.Sub(money.Dec(t.SizeUSD)).Sub(value.Mul(money.Dec(feePct)))
	return Position{
		Trade:  t,
		Price:  price,
		Held:   t.HeldFor(now),
		Change: money.PctChange(t.EntryPrice, price),
		NetPnL: money.Round4(money.Float(net)),
	}
}

// Verdict is a rule's decision to close.
type Verdict struct {
	Rule   string
	Reason string
	PnL    float64
}

// Rule is one exit condition. Evaluate returns ok=false to pass.
type Rule interface {
	ID() string
	Evaluate(p Position, th Thresholds) (Verdict, bool)
}

func closeWith(id string, p Position, detail string, args ...any) (Verdict, bool) {
	return Verdict{Rule: id, Reason: id + ": " + fmt.Sprintf(detail, args...), PnL: p.NetPnL}, true
}

func hours(d time.Duration) float64 { return d.Hours() }

type profitTarget struct{}

func (profitTarget) ID() string { return trade.ReasonProfitTarget }

func (r profitTarget) Evaluate(p Position, th Thresholds) (Verdict, bool) {
	if money.GTE(p.Change, th.ProfitTargetPct) && money.GT(p.NetPnL, 0) {
		return closeWith(r.ID(), p, "%+.0f%% gain (entry=%.3f now=%.3f)", p.Change*100, p.Trade.EntryPrice, p.Price)
	}
	return Verdict{}, false
}

type trailingProfit struct{}

func (trailingProfit) ID() string { return trade.ReasonTrailingProfit }

func (r trailingProfit) Evaluate(p Position, th Thresholds) (Verdict, bool) {
	if p.Held > th.TrailingAfter && money.GTE(p.Change, th.TrailingProfitPct) && money.GT(p.NetPnL, 0) {
		return closeWith(r.ID(), p, "%+.0f%% after %.0fh", p.Change*100, hours(p.Held))
	}
	return Verdict{}, false
}

type stopLoss struct{}

func (stopLoss) ID() string { return trade.ReasonStopLoss }

func (r stopLoss) Evaluate(p Position, th Thresholds) (Verdict, bool) {
	if money.LTE(p.Change, th.StopLossPct) {
		return closeWith(r.ID(), p, "%+.0f%% (entry=%.3f now=%.3f)", p.Change*100, p.Trade.EntryPrice, p.Price)
	}
	return Verdict{}, false
}

type nearResolution struct{}

func (nearResolution) ID() string { return trade.ReasonNearResolution }

func (r nearResolution) Evaluate(p Position, th Thresholds) (Verdict, bool) {
	if money.GTE(p.Price, th.NearResolutionHigh) && money.GT(p.NetPnL, 0) {
		return closeWith(r.ID(), p, "price=%.3f", p.Price)
	}
	return Verdict{}, false
}

type likelyLoser struct{}

func (likelyLoser) ID() string { return trade.ReasonLikelyLoser }

func (r likelyLoser) Evaluate(p Position, th Thresholds) (Verdict, bool) {
	if money.LTE(p.Price, th.LikelyLoserLow) && p.Held > th.LikelyLoserMinHold {
		return closeWith(r.ID(), p, "price=%.3f", p.Price)
	}
	return Verdict{}, false
}

type stale struct{}

func (stale) ID() string { return trade.ReasonStale }

func (r stale) Evaluate(p Position, th Thresholds) (Verdict, bool) {
	change := p.Change
	if change < 0 {
		change = -change
	}
	if p.Held > th.StaleAfter && money.LT(change, th.StaleMovePct) {
		return closeWith(r.ID(), p, "%+.0f%% after %.0fh", p.Change*100, hours(p.Held))
	}
	return Verdict{}, false
}

type maxHold struct{}

func (maxHold) ID() string { return trade.ReasonMaxHold }

func (r maxHold) Evaluate(p Position, th Thresholds) (Verdict, bool) {
	if p.Held > th.MaxHold {
		return closeWith(r.ID(), p, "%.0fh exceeded %.0fh limit", hours(p.Held), hours(th.MaxHold))
	}
	return Verdict{}, false
}
