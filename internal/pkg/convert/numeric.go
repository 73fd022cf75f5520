// Package convert normalizes loosely typed numbers coming from upstream payloads.
package convert

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Float parses v into a finite float64. ok is false for nil, unsupported
// types, parse failures, NaN and Inf.
func Float(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if !Finite(f) {
		return 0, false
	}
	return f, true
}

// ToFloat64 is Float with failures mapped to 0.
func ToFloat64(v any) float64 {
	f, _ := Float(v)
	return f
}

func Finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
