// Package trade holds the entities shared by the ledger, the risk gate and
// the settlement/exit sweeps.
package trade

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"polybot/internal/pkg/convert"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusWon      Status = "won"
	StatusLost     Status = "lost"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusWon, StatusLost, StatusResolved, StatusExpired:
		return true
	default:
		return false
	}
}

// StatusForPnl maps a realized pnl to won / lost / resolved.
func StatusForPnl(pnl float64) Status {
	switch {
	case pnl > 0:
		return StatusWon
	case pnl < 0:
		return StatusLost
	default:
		return StatusResolved
	}
}

// Close reasons written by the exit engine. Settlement writes
// "market_resolved: <winner>".
const (
	ReasonProfitTarget      = "profit_target"
	ReasonTrailingProfit    = "trailing_profit"
	ReasonStopLoss          = "stop_loss"
	ReasonNearResolution    = "near_resolution"
	ReasonLikelyLoser       = "likely_loser"
	ReasonStale             = "stale"
	ReasonMaxHold           = "max_hold"
	ReasonPairedResolved    = "arb_resolved"
	ReasonPairedPastEndDate = "arb_past_resolution"
	ReasonPairedMaxHold     = "arb_max_hold"
)

func SettlementReason(winner string) string {
	return "market_resolved: " + strings.TrimSpace(winner)
}

var ErrInvalidTrade = errors.New("invalid trade")

// Trade is one approved capital commitment. MarketID, Side, EntryPrice and
// SizeUSD never change after Record; Status, PnL, ClosedAt and CloseReason
// are written once on close.
type Trade struct {
	ID          int64
	Strategy    string
	MarketID    string
	Question    string
	TokenRef    string
	Side        Side
	EntryPrice  float64 // sum of both leg prices for Paired
	SizeUSD     float64
	EdgePct     float64
	DryRun      bool
	OrderRefs   []string
	Status      Status
	PnL         *float64
	CreatedAt   time.Time
	ClosedAt    *time.Time
	CloseReason string
}

func (t Trade) IsOpen() bool { return t.Status == StatusOpen }

// TokensOwned is the outcome-token count held by a single-sided position.
func (t Trade) TokensOwned() float64 {
	if !t.Side.IsSingle() || t.EntryPrice <= 0 {
		return 0
	}
	return t.SizeUSD / t.EntryPrice
}

// HeldFor returns how long the position has been (or was) open.
func (t Trade) HeldFor(now time.Time) time.Duration {
	if t.CreatedAt.IsZero() {
		return 0
	}
	end := now
	if t.ClosedAt != nil {
		end = *t.ClosedAt
	}
	return end.Sub(t.CreatedAt)
}

// Validate checks the fields Record relies on.
func (t Trade) Validate() error {
	if strings.TrimSpace(t.MarketID) == "" {
		return fmt.Errorf("%w: market id required", ErrInvalidTrade)
	}
	if t.Side.Kind() == SideUnknown {
		return fmt.Errorf("%w: side required", ErrInvalidTrade)
	}
	if !convert.Finite(t.SizeUSD) || t.SizeUSD <= 0 {
		return fmt.Errorf("%w: size %.4f", ErrInvalidTrade, t.SizeUSD)
	}
	if !convert.Finite(t.EntryPrice) || t.EntryPrice < 0 {
		return fmt.Errorf("%w: entry price %.4f", ErrInvalidTrade, t.EntryPrice)
	}
	if !convert.Finite(t.EdgePct) {
		return fmt.Errorf("%w: edge", ErrInvalidTrade)
	}
	return nil
}

// Candidate is what a scanner proposes. It carries no authority: the risk
// gate sizes and approves it.
type Candidate struct {
	Strategy string
	MarketID string
	Question string
	TokenRef string
	Side     Side
	Price    float64 // leg price sum for Paired
	SizeHint float64
	Edge     float64
	Odds     float64
	Ceiling  float64
	EndDate  time.Time
}

// Filter narrows ledger queries. Zero fields match everything.
type Filter struct {
	Status   Status
	Strategy string
	MarketID string
	Since    time.Time
	Until    time.Time
	Limit    int
}
