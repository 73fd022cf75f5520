package store

import (
	"context"
	"errors"

	"polybot/internal/store/model"
)

// ErrNotOpen is returned by TradeRepository.Close when the row exists but is
// already terminal.
var ErrNotOpen = errors.New("trade is not open")

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the entry point for database access.
type Store interface {
	Trades() TradeRepository
	Snapshots() SnapshotRepository
	Control() ControlRepository
	// Close closes the store connection.
	Close() error
}

// TradeQuery filters trade reads. Zero values match everything; times are unix seconds.
type TradeQuery struct {
	Statuses    []string
	Strategy    string
	MarketID    string
	Since       int64
	Until       int64
	ClosedSince int64
	ClosedUntil int64
	Limit       int
	NewestFirst bool
}

// TradeRepository handles trade persistence.
type TradeRepository interface {
	Insert(ctx context.Context, t *model.TradeModel) error
	FindByID(ctx context.Context, id int64) (*model.TradeModel, error)
	List(ctx context.Context, q TradeQuery) ([]model.TradeModel, error)
	// Close moves an open trade to a terminal status. It never touches a row
	// that is not open and reports ErrNotOpen / ErrNotFound instead.
	Close(ctx context.Context, id int64, status string, pnl float64, reason string, closedAt int64) error
	Count(ctx context.Context, q TradeQuery) (int64, error)
	SumSize(ctx context.Context, q TradeQuery) (float64, error)
	SumPnL(ctx context.Context, q TradeQuery) (float64, error)
}

// SnapshotRepository handles the append-only portfolio snapshot series.
type SnapshotRepository interface {
	Append(ctx context.Context, s *model.SnapshotModel) error
	List(ctx context.Context, since int64, limit int) ([]model.SnapshotModel, error)
	Latest(ctx context.Context) (*model.SnapshotModel, error)
}

// ControlRepository persists the single risk control row.
type ControlRepository interface {
	Load(ctx context.Context) (*model.RiskControlModel, error)
	Save(ctx context.Context, m *model.RiskControlModel) error
}
