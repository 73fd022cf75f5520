// Package oracle answers two questions about the outside market: what a
// token trades at right now, and whether a market has settled.
package oracle

import (
	"context"
	"strings"
	"time"
)

// MarketStatus is the settlement view of one market. OutcomePrices is keyed
// by upper-cased outcome name ("YES", "NO").
type MarketStatus struct {
	Resolved       bool
	Closed         bool
	WinningOutcome string
	OutcomePrices  map[string]float64
	EndDate        time.Time
}

// Winner returns the normalized winning outcome, "" when the market did not
// report one.
func (s MarketStatus) Winner() string {
	return strings.ToUpper(strings.TrimSpace(s.WinningOutcome))
}

// Price returns the final price of an outcome and whether it was reported.
func (s MarketStatus) Price(outcome string) (float64, bool) {
	p, ok := s.OutcomePrices[strings.ToUpper(outcome)]
	return p, ok
}

// MarketOracle is read-only. A nil result means unknown; callers skip the
// position for this cycle instead of guessing.
type MarketOracle interface {
	GetLivePrice(ctx context.Context, tokenRef string) *float64
	GetMarketStatus(ctx context.Context, marketID string) *MarketStatus
}
