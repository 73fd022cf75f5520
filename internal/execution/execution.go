// Package execution places and cancels orders on the venue. Dry-run calls
// never leave the process.
package execution

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", s)
	}
}

// Result is the outcome of one order request. FilledPrice is zero when the
// venue did not report a fill price.
type Result struct {
	Success     bool    `json:"success"`
	OrderRef    string  `json:"order_id,omitempty"`
	FilledPrice float64 `json:"filled_price,omitempty"`
	FilledSize  float64 `json:"filled_size,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Client is the order-placement boundary used by the cycle and the exit engine.
type Client interface {
	PlaceMarketOrder(ctx context.Context, tokenRef string, amountUSD float64, side OrderSide, dryRun bool) Result
	PlaceLimitOrder(ctx context.Context, tokenRef string, price, size float64, side OrderSide, dryRun bool) Result
	CancelOrder(ctx context.Context, ref string, dryRun bool) bool
}

var refNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("polybot/orders"))

// DryRunRef derives a stable reference from the request, so the same
// simulated order always maps to the same id.
func DryRunRef(kind, tokenRef string, side OrderSide, price, size float64) string {
	key := fmt.Sprintf("%s|%s|%s|%.6f|%.6f", kind, tokenRef, side, price, size)
	return "dry_run_" + uuid.NewSHA1(refNamespace, []byte(key)).String()
}

func dryMarket(tokenRef string, amountUSD float64, side OrderSide) Result {
	return Result{
		Success:    true,
		OrderRef:   DryRunRef("mkt", tokenRef, side, 0, amountUSD),
		FilledSize: amountUSD,
	}
}

func dryLimit(tokenRef string, price, size float64, side OrderSide) Result {
	return Result{
		Success:     true,
		OrderRef:    DryRunRef("lmt", tokenRef, side, price, size),
		FilledPrice: price,
		FilledSize:  size,
	}
}

func validateOrder(tokenRef string, side OrderSide, amounts ...float64) error {
	if strings.TrimSpace(tokenRef) == "" {
		return fmt.Errorf("token ref is required")
	}
	if side != Buy && side != Sell {
		return fmt.Errorf("unknown order side %q", side)
	}
	for _, a := range amounts {
		if !(a > 0) {
			return fmt.Errorf("order amount must be positive, got %v", a)
		}
	}
	return nil
}
