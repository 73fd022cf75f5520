package sqlite

import (
	"context"
	"errors"

	"polybot/internal/store/model"

	"gorm.io/gorm"
)

type snapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepo(db *gorm.DB) *snapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Append(ctx context.Context, s *model.SnapshotModel) error {
	if s == nil {
		return errors.New("snapshot cannot be nil")
	}
	s.ID = 0
	return r.db.WithContext(ctx).Create(s).Error
}

// List returns snapshots taken at or after since, oldest first.
func (r *snapshotRepository) List(ctx context.Context, since int64, limit int) ([]model.SnapshotModel, error) {
	var out []model.SnapshotModel
	tx := r.db.WithContext(ctx).Where("taken_at >= ?", since).Order("taken_at ASC, id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *snapshotRepository) Latest(ctx context.Context) (*model.SnapshotModel, error) {
	var s model.SnapshotModel
	err := r.db.WithContext(ctx).Order("taken_at DESC, id DESC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
