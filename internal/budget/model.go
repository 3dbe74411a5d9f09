// Package budget implements the Budget Engine (C5): scoped spend
// limits, pre-check decisions, debit, threshold alerts, and periodic
// reset, per spec §4.5.
package budget

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/amerfu/proxyd/internal/models"
)

// Scope is the specificity level a Budget applies at, ordered
// per_model ≺ per_agent ≺ global (most specific first) per spec §4.5.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopePerAgent Scope = "per_agent"
	ScopePerModel Scope = "per_model"
)

// scopeRank gives per_model the lowest (most specific) rank.
var scopeRank = map[Scope]int{ScopePerModel: 0, ScopePerAgent: 1, ScopeGlobal: 2}

// Period is the reset cadence for a budget.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
	PeriodCustom  Period = "custom"
)

// ActionOnBreach is what the engine does when projected spend exceeds
// the limit.
type ActionOnBreach string

const (
	ActionBlock    ActionOnBreach = "block"
	ActionDowngrade ActionOnBreach = "downgrade_model"
	ActionWarn     ActionOnBreach = "warn"
	ActionThrottle ActionOnBreach = "throttle"
)

// Budget is the GORM-persisted spend limit record, extended from the
// teacher's internal/models/budget.go Budget struct with the
// scope/scope_identifier/warning-critical-percent fields spec §4.5
// needs and per-threshold-per-period alert tracking.
type Budget struct {
	models.BaseModel
	UserID          uuid.UUID      `gorm:"type:uuid;not null;index"`
	Name            string         `gorm:"not null"`
	Scope           Scope          `gorm:"not null"`
	ScopeIdentifier string         `gorm:"index"` // agent_id or model prefix; empty for global
	Period          Period         `gorm:"not null"`
	LimitUSD        decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	SpentUSD        decimal.Decimal `gorm:"type:numeric(18,6);not null;default:0"`
	WarningPercent  float64        `gorm:"default:50"`
	CriticalPercent float64        `gorm:"default:90"`
	ActionOnBreach  ActionOnBreach `gorm:"not null;default:block"`
	DowngradeTarget string         // explicit target; empty means consult the static table
	FiredThresholds datatypes.JSON `gorm:"type:jsonb"` // []int, already-fired thresholds this period
	StartsAt        time.Time
	ResetAt         time.Time
	IsActive        bool `gorm:"default:true"`
}

// Applies reports whether this budget applies to a request for the
// given agent/model, per spec §4.5's scope-matching rules.
func (b *Budget) Applies(agentID *string, model string) bool {
	switch b.Scope {
	case ScopeGlobal:
		return true
	case ScopePerAgent:
		return agentID != nil && *agentID == b.ScopeIdentifier
	case ScopePerModel:
		return strings.HasPrefix(model, b.ScopeIdentifier)
	default:
		return false
	}
}

// PercentUsed returns spent/limit*100, or 0 if limit is zero.
func (b *Budget) PercentUsed() float64 {
	if b.LimitUSD.IsZero() {
		return 0
	}
	pct, _ := b.SpentUSD.Div(b.LimitUSD).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// NeedsReset reports whether ResetAt has passed.
func (b *Budget) NeedsReset(now time.Time) bool {
	return !b.ResetAt.IsZero() && !b.ResetAt.After(now)
}

// NextBoundary computes the next reset boundary per spec §4.5: start
// of next calendar day / ISO week (Monday 00:00 UTC) / calendar month.
// Grounded on original_source/proxy/app/core/budget_engine.py
// _calculate_next_reset.
func NextBoundary(period Period, from time.Time) time.Time {
	from = from.UTC()
	switch period {
	case PeriodDaily:
		d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		return d.AddDate(0, 0, 1)
	case PeriodWeekly:
		// Python-style Monday=0..Sunday=6 weekday, matching
		// budget_engine.py's (7 - now.weekday()) % 7; on a Monday that
		// is 0, so the boundary moves a full week ahead instead.
		pythonWeekday := (int(from.Weekday()) + 6) % 7
		daysUntilMonday := (7 - pythonWeekday) % 7
		if daysUntilMonday == 0 {
			daysUntilMonday = 7
		}
		d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		return d.AddDate(0, 0, daysUntilMonday)
	case PeriodMonthly:
		return time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	case PeriodYearly:
		return time.Date(from.Year()+1, 1, 1, 0, 0, 0, 0, time.UTC)
	default: // custom: caller is responsible for ResetAt; don't auto-advance
		return from
	}
}
