package sqlite

import (
	"context"
	"errors"

	"polybot/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type controlRepository struct {
	db *gorm.DB
}

func NewControlRepo(db *gorm.DB) *controlRepository {
	return &controlRepository{db: db}
}

// Load returns nil, nil when no control row was ever written.
func (r *controlRepository) Load(ctx context.Context) (*model.RiskControlModel, error) {
	var m model.RiskControlModel
	err := r.db.WithContext(ctx).Where("id = ?", model.RiskControlRowID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *controlRepository) Save(ctx context.Context, m *model.RiskControlModel) error {
	if m == nil {
		return errors.New("control record cannot be nil")
	}
	m.ID = model.RiskControlRowID
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(m).Error
}
