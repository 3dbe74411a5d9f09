package smart

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormRepository is the Postgres-backed Repository implementation for
// routing rules.
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

// ListActiveRules returns a user's active routing rules, priority
// ascending.
func (r *GormRepository) ListActiveRules(ctx context.Context, userID string) ([]Rule, error) {
	var rules []Rule
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("priority ASC").
		Find(&rules).Error
	return rules, err
}

// RecordRuleApplied increments a rule's analytics counters on match,
// per smart_router.py's times_applied/estimated_savings_usd bump.
func (r *GormRepository) RecordRuleApplied(ctx context.Context, ruleID string, savings decimal.Decimal) error {
	savingsFloat, _ := savings.Float64()
	return r.db.WithContext(ctx).Model(&Rule{}).
		Where("id = ?", ruleID).
		Updates(map[string]interface{}{
			"times_applied":         gorm.Expr("times_applied + 1"),
			"estimated_savings_usd": gorm.Expr("estimated_savings_usd + ?", savingsFloat),
		}).Error
}
