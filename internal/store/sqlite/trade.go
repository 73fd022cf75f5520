package sqlite

import (
	"context"
	"errors"

	"polybot/internal/store"
	"polybot/internal/store/model"

	"gorm.io/gorm"
)

type tradeRepository struct {
	db *gorm.DB
}

func NewTradeRepo(db *gorm.DB) *tradeRepository {
	return &tradeRepository{db: db}
}

// Insert writes a new trade and fills in its ID.
func (r *tradeRepository) Insert(ctx context.Context, t *model.TradeModel) error {
	if t == nil {
		return errors.New("trade cannot be nil")
	}
	t.ID = 0
	return r.db.WithContext(ctx).Create(t).Error
}

// FindByID returns nil, nil when the trade does not exist.
func (r *tradeRepository) FindByID(ctx context.Context, id int64) (*model.TradeModel, error) {
	var t model.TradeModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tradeRepository) List(ctx context.Context, q store.TradeQuery) ([]model.TradeModel, error) {
	var out []model.TradeModel
	tx := applyTradeQuery(r.db.WithContext(ctx).Model(&model.TradeModel{}), q)
	if q.NewestFirst {
		tx = tx.Order("created_at DESC, id DESC")
	} else {
		tx = tx.Order("created_at ASC, id ASC")
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close is a single UPDATE guarded on status, so a trade closes at most once.
func (r *tradeRepository) Close(ctx context.Context, id int64, status string, pnl float64, reason string, closedAt int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.TradeModel{}).
		Where("id = ? AND status = ?", id, model.TradeStatusOpen).
		Updates(map[string]any{
			"status":       status,
			"pnl":          pnl,
			"closed_at":    closedAt,
			"close_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	existing, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return store.ErrNotFound
	}
	return store.ErrNotOpen
}

func (r *tradeRepository) Count(ctx context.Context, q store.TradeQuery) (int64, error) {
	var n int64
	err := applyTradeQuery(r.db.WithContext(ctx).Model(&model.TradeModel{}), q).Count(&n).Error
	return n, err
}

func (r *tradeRepository) SumSize(ctx context.Context, q store.TradeQuery) (float64, error) {
	return r.sum(ctx, "size_usd", q)
}

func (r *tradeRepository) SumPnL(ctx context.Context, q store.TradeQuery) (float64, error) {
	return r.sum(ctx, "pnl", q)
}

func (r *tradeRepository) sum(ctx context.Context, column string, q store.TradeQuery) (float64, error) {
	var total float64
	err := applyTradeQuery(r.db.WithContext(ctx).Model(&model.TradeModel{}), q).
		Select("COALESCE(SUM(" + column + "), 0)").
		Scan(&total).Error
	return total, err
}

func applyTradeQuery(tx *gorm.DB, q store.TradeQuery) *gorm.DB {
	if len(q.Statuses) > 0 {
		tx = tx.Where("status IN ?", q.Statuses)
	}
	if q.Strategy != "" {
		tx = tx.Where("strategy = ?", q.Strategy)
	}
	if q.MarketID != "" {
		tx = tx.Where("market_id = ?", q.MarketID)
	}
	if q.Since > 0 {
		tx = tx.Where("created_at >= ?", q.Since)
	}
	if q.Until > 0 {
		tx = tx.Where("created_at < ?", q.Until)
	}
	if q.ClosedSince > 0 {
		tx = tx.Where("closed_at >= ?", q.ClosedSince)
	}
	if q.ClosedUntil > 0 {
		tx = tx.Where("closed_at < ?", q.ClosedUntil)
	}
	return tx
}
