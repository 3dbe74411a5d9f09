package budget

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormRepository is the Postgres-backed Repository implementation for
// the Budget Engine, grounded on the teacher's
// internal/services/budget/service.go persistence calls.
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

// ListActiveBudgets returns every active budget that could apply to
// userID/agentID: global budgets, per-agent budgets scoped to this
// agent, and all per-model budgets (model-prefix filtering happens in
// Budget.Applies, not in SQL, since scope_identifier is a prefix not
// an exact match).
func (r *GormRepository) ListActiveBudgets(ctx context.Context, userID string, agentID *string) ([]Budget, error) {
	q := r.db.WithContext(ctx).Where("is_active = ? AND user_id = ?", true, userID)

	if agentID != nil {
		q = q.Where("scope = ? OR (scope = ? AND scope_identifier = ?) OR scope = ?",
			ScopeGlobal, ScopePerAgent, *agentID, ScopePerModel)
	} else {
		q = q.Where("scope = ? OR scope = ?", ScopeGlobal, ScopePerModel)
	}

	var budgets []Budget
	if err := q.Find(&budgets).Error; err != nil {
		return nil, err
	}
	return budgets, nil
}

// SaveBudget persists spend/fired-threshold/reset-boundary mutations.
func (r *GormRepository) SaveBudget(ctx context.Context, b *Budget) error {
	return r.db.WithContext(ctx).Save(b).Error
}
