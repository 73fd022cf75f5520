package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"polybot/internal/store"
	"polybot/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "polybot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openTrade(market string, size float64, created int64) *model.TradeModel {
	return &model.TradeModel{
		Strategy:   "value",
		MarketID:   market,
		Side:       "BUY_YES",
		EntryPrice: 0.4,
		SizeUSD:    size,
		Status:     model.TradeStatusOpen,
		CreatedAt:  created,
	}
}

func TestTradeInsertAndClose(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t).Trades()

	tr := openTrade("m1", 5, 100)
	require.NoError(t, repo.Insert(ctx, tr))
	require.NotZero(t, tr.ID)

	require.NoError(t, repo.Close(ctx, tr.ID, "won", 2.5, "profit_target", 200))

	err := repo.Close(ctx, tr.ID, "lost", -5, "stop_loss", 300)
	assert.ErrorIs(t, err, store.ErrNotOpen)

	got, err := repo.FindByID(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PnL)
	assert.Equal(t, "won", got.Status)
	assert.InDelta(t, 2.5, *got.PnL, 1e-9)
	assert.Equal(t, "profit_target", got.CloseReason)
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, int64(200), *got.ClosedAt)

	assert.ErrorIs(t, repo.Close(ctx, 9999, "won", 1, "x", 1), store.ErrNotFound)

	missing, err := repo.FindByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTradeQueriesAndAggregates(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t).Trades()

	a := openTrade("m1", 5, 100)
	b := openTrade("m2", 7, 200)
	c := openTrade("m3", 3, 300)
	c.Strategy = "arb"
	for _, tr := range []*model.TradeModel{a, b, c} {
		require.NoError(t, repo.Insert(ctx, tr))
	}
	require.NoError(t, repo.Close(ctx, b.ID, "lost", -7, "stop_loss", 400))

	open := store.TradeQuery{Statuses: []string{model.TradeStatusOpen}}
	deployed, err := repo.SumSize(ctx, open)
	require.NoError(t, err)
	assert.InDelta(t, 8, deployed, 1e-9)

	pnl, err := repo.SumPnL(ctx, store.TradeQuery{})
	require.NoError(t, err)
	assert.InDelta(t, -7, pnl, 1e-9)

	n, err := repo.Count(ctx, store.TradeQuery{Strategy: "arb"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := repo.List(ctx, store.TradeQuery{Since: 150, NewestFirst: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "m3", rows[0].MarketID)

	closedToday, err := repo.List(ctx, store.TradeQuery{ClosedSince: 350, ClosedUntil: 500})
	require.NoError(t, err)
	require.Len(t, closedToday, 1)
	assert.Equal(t, "m2", closedToday[0].MarketID)
}

func TestSnapshotsAndControl(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	latest, err := s.Snapshots().Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, s.Snapshots().Append(ctx, &model.SnapshotModel{TakenAt: 10, TotalValue: 100}))
	require.NoError(t, s.Snapshots().Append(ctx, &model.SnapshotModel{TakenAt: 20, TotalValue: 101}))
	rows, err := s.Snapshots().List(ctx, 15, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 101, rows[0].TotalValue, 1e-9)

	ctl, err := s.Control().Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, ctl)

	require.NoError(t, s.Control().Save(ctx, &model.RiskControlModel{Halted: true, HaltReason: "manual", HaltKind: "emergency"}))
	require.NoError(t, s.Control().Save(ctx, &model.RiskControlModel{Halted: false, UpdatedBy: "ops"}))
	ctl, err = s.Control().Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, ctl)
	assert.False(t, ctl.Halted)
	assert.Equal(t, "ops", ctl.UpdatedBy)
}
