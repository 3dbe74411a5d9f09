package pricing

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormRepository backs the Pricing Registry's authoritative store with
// Postgres, following the same thin-wrapper-over-gorm.DB shape as
// budget/auth/journal's GormRepository types.
type GormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormRepository(db *gorm.DB, logger *zap.Logger) *GormRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormRepository{db: db, logger: logger}
}

func (r *GormRepository) GetModelDescriptor(ctx context.Context, provider Provider, model string, at time.Time) (*ModelDescriptor, error) {
	var o PriceOverride
	err := r.db.WithContext(ctx).
		Where("provider = ? AND model = ? AND effective_date <= ?", provider, model, at).
		Order("effective_date DESC").
		First(&o).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	d := o.toDescriptor()
	return &d, nil
}

func (r *GormRepository) ListModelDescriptors(ctx context.Context) ([]ModelDescriptor, error) {
	var overrides []PriceOverride
	if err := r.db.WithContext(ctx).Find(&overrides).Error; err != nil {
		return nil, err
	}
	descriptors := make([]ModelDescriptor, 0, len(overrides))
	for _, o := range overrides {
		descriptors = append(descriptors, o.toDescriptor())
	}
	return descriptors, nil
}
