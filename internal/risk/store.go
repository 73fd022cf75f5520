package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"polybot/internal/store"
	"polybot/internal/store/model"
)

// StateStore is the durable boundary for State: read at process start,
// written at process end and on every halt transition.
type StateStore interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// controlFile is the on-disk shape of the operator control file. Setting
// trading_enabled to false is the out-of-band kill switch.
type controlFile struct {
	Mode           string `json:"mode"`
	TradingEnabled bool   `json:"trading_enabled"`
	UpdatedBy      string `json:"updated_by"`
	UpdatedAt      string `json:"updated_at"`
	LastBotRun     string `json:"last_bot_run,omitempty"`
	HaltReason     string `json:"halt_reason,omitempty"`
	HaltKind       string `json:"halt_kind,omitempty"`
	HaltedAt       string `json:"halted_at,omitempty"`
}

// FileStateStore keeps State in a JSON control file that operators may edit.
type FileStateStore struct {
	Path string
}

func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{Path: strings.TrimSpace(path)}
}

func (f *FileStateStore) Load(ctx context.Context) (State, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read control file: %w", err)
	}
	cf := controlFile{TradingEnabled: true}
	if err := json.Unmarshal(raw, &cf); err != nil {
		return State{}, fmt.Errorf("parse control file %s: %w", f.Path, err)
	}
	s := State{
		Halted:     !cf.TradingEnabled,
		HaltReason: cf.HaltReason,
		HaltKind:   HaltKind(cf.HaltKind),
		HaltedAt:   parseTime(cf.HaltedAt),
		Mode:       Mode(strings.ToLower(cf.Mode)),
		UpdatedBy:  cf.UpdatedBy,
		UpdatedAt:  parseTime(cf.UpdatedAt),
		LastRunAt:  parseTime(cf.LastBotRun),
	}
	if s.Halted && s.HaltReason == "" {
		s.HaltReason = "trading disabled via control file"
	}
	return s.normalized(), nil
}

func (f *FileStateStore) Save(ctx context.Context, s State) error {
	s = s.normalized()
	cf := controlFile{
		Mode:           string(s.Mode),
		TradingEnabled: !s.Halted,
		UpdatedBy:      s.UpdatedBy,
		UpdatedAt:      formatTime(s.UpdatedAt),
		LastBotRun:     formatTime(s.LastRunAt),
		HaltReason:     s.HaltReason,
		HaltKind:       string(s.HaltKind),
		HaltedAt:       formatTime(s.HaltedAt),
	}
	raw, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write control file: %w", err)
	}
	return os.Rename(tmp, f.Path)
}

// SQLStateStore keeps State in the risk_control row next to the ledger.
type SQLStateStore struct {
	repo store.ControlRepository
}

func NewSQLStateStore(repo store.ControlRepository) *SQLStateStore {
	return &SQLStateStore{repo: repo}
}

func (s *SQLStateStore) Load(ctx context.Context) (State, error) {
	m, err := s.repo.Load(ctx)
	if err != nil {
		return State{}, fmt.Errorf("load risk control: %w", err)
	}
	if m == nil {
		return DefaultState(), nil
	}
	st := State{
		Halted:     m.Halted || !m.TradingEnabled,
		HaltReason: m.HaltReason,
		HaltKind:   HaltKind(m.HaltKind),
		HaltedAt:   unixTime(m.HaltedAt),
		Mode:       Mode(m.Mode),
		UpdatedBy:  m.UpdatedBy,
		UpdatedAt:  unixTime(m.UpdatedAt),
		LastRunAt:  unixTime(m.LastRunAt),
	}
	return st.normalized(), nil
}

func (s *SQLStateStore) Save(ctx context.Context, st State) error {
	st = st.normalized()
	return s.repo.Save(ctx, &model.RiskControlModel{
		Mode:           string(st.Mode),
		TradingEnabled: !st.Halted,
		Halted:         st.Halted,
		HaltReason:     st.HaltReason,
		HaltKind:       string(st.HaltKind),
		HaltedAt:       unixSeconds(st.HaltedAt),
		UpdatedBy:      st.UpdatedBy,
		UpdatedAt:      unixSeconds(st.UpdatedAt),
		LastRunAt:      unixSeconds(st.LastRunAt),
	})
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
