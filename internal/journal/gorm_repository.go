package journal

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormRepository persists Records via GORM, matching the Repository
// pattern used throughout (internal/budget/gorm_repository.go,
// internal/security/rules/gorm_repository.go).
type GormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRepository builds a GormRepository.
func NewGormRepository(db *gorm.DB, logger *zap.Logger) *GormRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormRepository{db: db, logger: logger}
}

// SaveRecord inserts r. Records are append-only: no update path exists.
func (r *GormRepository) SaveRecord(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).Create(rec).Error
}
