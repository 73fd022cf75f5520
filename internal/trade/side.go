package trade

import (
	"fmt"
	"strings"
)

// Outcome names one leg of a binary market.
type Outcome string

const (
	OutcomeA Outcome = "YES"
	OutcomeB Outcome = "NO"
)

// Opposite returns the other outcome of a binary market.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeA {
		return OutcomeB
	}
	return OutcomeA
}

type SideKind uint8

const (
	SideUnknown SideKind = iota
	SideSingle
	SidePaired
	SideQuote
)

// Side is a closed variant: SingleSide(outcome), Paired or Quote.
// The zero value is Unknown and is never produced by the constructors.
type Side struct {
	kind    SideKind
	outcome Outcome
}

func SingleSide(o Outcome) Side { return Side{kind: SideSingle, outcome: o} }

func Paired() Side { return Side{kind: SidePaired} }

func Quote() Side { return Side{kind: SideQuote} }

func (s Side) Kind() SideKind { return s.kind }

// Outcome is only meaningful for SingleSide.
func (s Side) Outcome() (Outcome, bool) {
	if s.kind != SideSingle {
		return "", false
	}
	return s.outcome, true
}

func (s Side) IsSingle() bool { return s.kind == SideSingle }
func (s Side) IsPaired() bool { return s.kind == SidePaired }
func (s Side) IsQuote() bool  { return s.kind == SideQuote }

// String returns the persisted code: BUY_YES, BUY_NO, BOTH, QUOTE.
func (s Side) String() string {
	switch s.kind {
	case SideSingle:
		return "BUY_" + string(s.outcome)
	case SidePaired:
		return "BOTH"
	case SideQuote:
		return "QUOTE"
	default:
		return "UNKNOWN"
	}
}

// ParseSide decodes a persisted side code. Anything unrecognised yields the
// Unknown side and an error; callers that read from storage keep the value
// and treat it as unsupported.
func ParseSide(raw string) (Side, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	switch code {
	case "BUY_YES", "YES":
		return SingleSide(OutcomeA), nil
	case "BUY_NO", "NO":
		return SingleSide(OutcomeB), nil
	case "BOTH", "PAIRED":
		return Paired(), nil
	case "QUOTE":
		return Quote(), nil
	default:
		return Side{}, fmt.Errorf("unknown side %q", raw)
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
