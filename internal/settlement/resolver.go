// Package settlement closes open positions whose market has resolved,
// realizing pnl from the oracle's reported outcome.
package settlement

import (
	"context"
	"errors"
	"sort"

	"polybot/internal/logger"
	"polybot/internal/oracle"
	"polybot/internal/pkg/money"
	"polybot/internal/trade"

	"github.com/shopspring/decimal"
)

// DefaultPairedFeePct approximates taker fees on both legs of a paired
// position, as a fraction of size.
const DefaultPairedFeePct = 0.004

// Positions is the slice of the ledger the resolver works on.
type Positions interface {
	OpenPositions(ctx context.Context) []trade.Trade
	Close(ctx context.Context, id int64, pnl float64, status trade.Status, reason string) error
}

type Report struct {
	Markets  int
	Checked  int
	Resolved int
	Skipped  int
	Failed   int
	PnL      float64
}

type Resolver struct {
	positions Positions
	oracle    oracle.MarketOracle
	calc      Calculator
	log       logger.Component
}

func NewResolver(positions Positions, o oracle.MarketOracle, pairedFeePct float64) *Resolver {
	if pairedFeePct < 0 {
		pairedFeePct = DefaultPairedFeePct
	}
	return &Resolver{
		positions: positions,
		oracle:    o,
		calc:      Calculator{PairedFeePct: pairedFeePct},
		log:       logger.With("settlement"),
	}
}

// Sweep queries each market with open positions once and closes every
// position in a resolved market. An oracle failure skips that market only;
// a failed close is logged and the sweep continues.
func (r *Resolver) Sweep(ctx context.Context) Report {
	var rep Report
	open := r.positions.OpenPositions(ctx)
	if len(open) == 0 {
		return rep
	}

	byMarket := make(map[string][]trade.Trade)
	for _, t := range open {
		byMarket[t.MarketID] = append(byMarket[t.MarketID], t)
	}
	markets := make([]string, 0, len(byMarket))
	for id := range byMarket {
		markets = append(markets, id)
	}
	sort.Strings(markets)

	total := decimal.Zero
	for _, marketID := range markets {
		if ctx.Err() != nil {
			break
		}
		trades := byMarket[marketID]
		rep.Markets++
		rep.Checked += len(trades)

		status := r.oracle.GetMarketStatus(ctx, marketID)
		if status == nil {
			rep.Skipped += len(trades)
			r.log.Debugf("market %s: status unknown, %d position(s) skipped", marketID, len(trades))
			continue
		}
		if !status.Resolved {
			continue
		}

		winner := status.Winner()
		reason := trade.SettlementReason(winnerLabel(winner))
		for _, t := range trades {
			pnl := r.calc.PnL(t, *status)
			err := r.positions.Close(ctx, t.ID, pnl, trade.StatusForPnl(pnl), reason)
			if err != nil {
				rep.Failed++
				r.log.Errorf("close trade %d (%s): %v", t.ID, marketID, err)
				if errors.Is(err, context.Canceled) {
					break
				}
				continue
			}
			rep.Resolved++
			total = total.Add(money.Dec(pnl))
			r.log.Infof("trade %d settled %s: pnl=$%+.4f (%s)", t.ID, t.Side, pnl, reason)
		}
	}
	rep.PnL = money.Round4(money.Float(total))
	if rep.Resolved > 0 {
		r.log.Infof("resolved %d position(s), pnl=$%+.4f", rep.Resolved, rep.PnL)
	}
	return rep
}

// Calculator holds the realized pnl rules; the exit engine shares the paired
// formula.
type Calculator struct {
	PairedFeePct float64
}

// PnL computes the realized pnl of t given a resolved market, rounded to 4
// decimals.
func (c Calculator) PnL(t trade.Trade, status oracle.MarketStatus) float64 {
	size := money.Dec(t.SizeUSD)
	entry := money.Dec(t.EntryPrice)
	switch t.Side.Kind() {
	case trade.SidePaired:
		return money.Round4(money.Float(c.paired(size, entry)))
	case trade.SideSingle:
		outcome, _ := t.Side.Outcome()
		return money.Round4(money.Float(single(outcome, size, entry, status)))
	default:
		logger.Warnf("trade %d: unsupported side %s, settling at zero pnl", t.ID, t.Side)
		return 0
	}
}

// PairedPnL is size/sum - size - fee; a non-positive leg sum yields zero.
func (c Calculator) PairedPnL(sizeUSD, legSum float64) float64 {
	return money.Round4(money.Float(c.paired(money.Dec(sizeUSD), money.Dec(legSum))))
}

func (c Calculator) paired(size, sum decimal.Decimal) decimal.Decimal {
	if !sum.IsPositive() {
		return decimal.Zero
	}
	fee := size.Mul(money.Dec(c.PairedFeePct))
	return size.Div(sum).Sub(size).Sub(fee)
}

func single(outcome trade.Outcome, size, entry decimal.Decimal, status oracle.MarketStatus) decimal.Decimal {
	switch status.Winner() {
	case string(outcome):
		if !entry.IsPositive() {
			return decimal.Zero
		}
		return size.Div(entry).Sub(size)
	case string(outcome.Opposite()):
		return size.Neg()
	}
	// no winner reported: fall back to the final outcome price
	final, ok := status.Price(string(outcome))
	if !ok || !money.GT(final, 0.5) {
		return size.Neg()
	}
	if !entry.IsPositive() {
		return decimal.Zero
	}
	return size.Div(entry).Mul(money.Dec(final)).Sub(size)
}

func winnerLabel(w string) string {
	if w == "" {
		return "unknown"
	}
	return w
}
