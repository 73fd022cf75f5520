// Package money does the rounding and threshold comparisons for USD amounts
// and outcome prices in decimal, so 0.1+0.2 style drift never flips a rule.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

var eps = decimal.NewFromFloat(1e-9)

// Dec converts a float, mapping NaN and Inf to zero.
func Dec(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func Float(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// Cents rounds a USD amount to the smallest priced unit.
func Cents(val float64) float64 { return Float(Dec(val).Round(2)) }

// Round4 is used for realized pnl.
func Round4(val float64) float64 { return Float(Dec(val).Round(4)) }

// Compare returns -1, 0 or 1 treating values within 1e-9 as equal.
func Compare(a, b float64) int {
	diff := Dec(a).Sub(Dec(b))
	if diff.Abs().LessThanOrEqual(eps) {
		return 0
	}
	return diff.Sign()
}

func GTE(a, b float64) bool { return Compare(a, b) >= 0 }
func LTE(a, b float64) bool { return Compare(a, b) <= 0 }
func GT(a, b float64) bool  { return Compare(a, b) > 0 }
func LT(a, b float64) bool  { return Compare(a, b) < 0 }

// Sum adds values in decimal.
func Sum(vals ...float64) float64 {
	total := decimal.Zero
	for _, v := range vals {
		total = total.Add(Dec(v))
	}
	return Float(total)
}

// PctChange is (current-entry)/entry; zero when entry <= 0.
func PctChange(entry, current float64) float64 {
	e := Dec(entry)
	if e.Sign() <= 0 {
		return 0
	}
	return Float(Dec(current).Sub(e).Div(e))
}
