package exit

import (
	"fmt"
	"math"
	"time"

	"polybot/internal/oracle"
	"polybot/internal/settlement"
	"polybot/internal/trade"
)

// evaluatePaired decides on a paired position. status may be nil when the
// oracle is unavailable; only the hold-time rule applies then.
func evaluatePaired(t trade.Trade, status *oracle.MarketStatus, now time.Time, th Thresholds, calc settlement.Calculator) (Verdict, bool) {
	expected := math.Max(0, calc.PairedPnL(t.SizeUSD, t.EntryPrice))
	if status != nil {
		if status.Resolved {
			return Verdict{
				Rule:   trade.ReasonPairedResolved,
				Reason: trade.ReasonPairedResolved + ": market settled",
				PnL:    expected,
			}, true
		}
		if !status.EndDate.IsZero() && now.After(status.EndDate) {
			return Verdict{
				Rule:   trade.ReasonPairedPastEndDate,
				Reason: trade.ReasonPairedPastEndDate + ": market should have settled",
				PnL:    expected,
			}, true
		}
	}
	if held := t.HeldFor(now); held > th.PairedMaxHold {
		pnl := 0.0
		if t.PnL != nil {
			pnl = *t.PnL
		}
		return Verdict{
			Rule:   trade.ReasonPairedMaxHold,
			Reason: fmt.Sprintf("%s: %.0fh exceeded limit", trade.ReasonPairedMaxHold, held.Hours()),
			PnL:    pnl,
		}, true
	}
	return Verdict{}, false
}
