package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormRepository loads persisted rule Definitions and compiles them
// into runtime Rules, grounded on rule_engine.py's RuleCompiler and
// the teacher's budget/gorm_repository.go loading pattern.
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

// LoadInto compiles every enabled Definition and registers it on e,
// skipping (and logging) any whose Condition fails to compile rather
// than aborting the whole load.
func (r *GormRepository) LoadInto(ctx context.Context, e *Engine) error {
	var defs []Definition
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&defs).Error; err != nil {
		return err
	}
	for i := range defs {
		compiled, err := compile(&defs[i])
		if err != nil {
			r.logger.Warn("skipping uncompilable security rule", zap.String("rule_id", defs[i].ID.String()), zap.Error(err))
			continue
		}
		e.AddRule(compiled)
	}
	return nil
}

type patternCondition struct {
	Pattern string `json:"pattern"`
}

type thresholdCondition struct {
	Metric    string   `json:"metric"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"value"`
}

type compositeCondition struct {
	RuleIDs []string `json:"rule_ids"`
	Logic   string   `json:"logic"` // "and" | "or"
}

func compile(def *Definition) (*Rule, error) {
	out := &Rule{
		ID:       def.ID.String(),
		TenantID: def.TenantID,
		Name:     def.Name,
		RuleType: def.RuleType,
		Severity: def.Severity,
		Enabled:  def.Enabled,
	}

	switch def.RuleType {
	case TypePattern:
		var c patternCondition
		if err := json.Unmarshal(def.Condition, &c); err != nil {
			return nil, fmt.Errorf("decode pattern condition: %w", err)
		}
		pattern, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern: %w", err)
		}
		out.Pattern = pattern
	case TypeThreshold:
		var c thresholdCondition
		if err := json.Unmarshal(def.Condition, &c); err != nil {
			return nil, fmt.Errorf("decode threshold condition: %w", err)
		}
		out.Metric, out.Operator, out.Threshold = c.Metric, c.Operator, c.Threshold
	case TypeComposite:
		var c compositeCondition
		if err := json.Unmarshal(def.Condition, &c); err != nil {
			return nil, fmt.Errorf("decode composite condition: %w", err)
		}
		out.CompositeRuleIDs = c.RuleIDs
		out.CompositeAnd = c.Logic == "and"
	default:
		return nil, fmt.Errorf("unknown rule type %q", def.RuleType)
	}
	return out, nil
}
