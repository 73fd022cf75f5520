package risk

import (
	"strings"
	"time"
)

type HaltKind string

const (
	HaltNone      HaltKind = ""
	HaltDailyLoss HaltKind = "daily_loss"
	HaltEmergency HaltKind = "emergency"
)

type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModeLive   Mode = "live"
)

// State is the process-wide halt record. It is a plain value: the Gate owns
// the live copy and hands out copies.
type State struct {
	Halted     bool      `json:"halted"`
	HaltReason string    `json:"halt_reason,omitempty"`
	HaltKind   HaltKind  `json:"halt_kind,omitempty"`
	HaltedAt   time.Time `json:"halted_at,omitempty"`
	Mode       Mode      `json:"mode"`
	UpdatedBy  string    `json:"updated_by,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
}

// DefaultState is used when no control record exists yet.
func DefaultState() State {
	return State{Mode: ModeDryRun}
}

// dailyLossHalt reports whether the halt came from the daily-loss rule.
// Records written before halt_kind existed only carry the reason text.
func (s State) dailyLossHalt() bool {
	if !s.Halted {
		return false
	}
	if s.HaltKind != HaltNone {
		return s.HaltKind == HaltDailyLoss
	}
	return strings.Contains(strings.ToLower(s.HaltReason), "daily loss")
}

func (s State) normalized() State {
	if s.Mode != ModeLive {
		s.Mode = ModeDryRun
	}
	if s.Halted && s.HaltKind == HaltNone {
		if s.dailyLossHalt() {
			s.HaltKind = HaltDailyLoss
		} else {
			s.HaltKind = HaltEmergency
		}
	}
	if !s.Halted {
		s.HaltReason = ""
		s.HaltKind = HaltNone
		s.HaltedAt = time.Time{}
	}
	return s
}
