package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/amerfu/proxyd/internal/models"
)

// GormRepository is the Postgres-backed Repository implementation,
// grounded on the teacher's internal/services/key/service.go
// hash-lookup convention.
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

// GetAccountKeyByHash looks up an active account key by its hash.
// Filters on is_active=true the way the teacher's key service does
// (internal/services/key/service.go GetKeyByHash).
func (r *GormRepository) GetAccountKeyByHash(ctx context.Context, hash string) (*models.AccountKey, error) {
	var key models.AccountKey
	err := r.db.WithContext(ctx).Where("key_hash = ? AND is_active = ?", hash, true).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// TouchLastUsed updates last_used_at best-effort; callers invoke this
// in a detached goroutine, so errors are only logged, never returned.
func (r *GormRepository) TouchLastUsed(ctx context.Context, keyID string, at time.Time) {
	if err := r.db.WithContext(ctx).Model(&models.AccountKey{}).
		Where("id = ?", keyID).
		Update("last_used_at", at).Error; err != nil {
		r.logger.Warn("auth: failed to update last_used_at", zap.String("key_id", keyID), zap.Error(err))
	}
}
