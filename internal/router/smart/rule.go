// Package smart implements the Smart Router (C6): ordered routing-rule
// evaluation, cheapest-suitable-model lookup, and fallback-chain
// walking, per spec §4.6.
package smart

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/amerfu/proxyd/internal/models"
)

// TaskType is the keyword-heuristic classification of a request.
type TaskType string

const (
	TaskCode          TaskType = "code"
	TaskAnalysis      TaskType = "analysis"
	TaskSummarization TaskType = "summarization"
	TaskTranslation   TaskType = "translation"
	TaskSimple        TaskType = "simple"
	TaskGeneral       TaskType = "general"
)

// Rule is a GORM-persisted routing rule, grounded on
// original_source/proxy/app/models/routing_rule.py's RoutingRule and
// the teacher's internal/models/budget.go column conventions.
type Rule struct {
	models.BaseModel
	UserID             uuid.UUID      `gorm:"type:uuid;not null;index"`
	Name               string         `gorm:"not null"`
	Priority           int            `gorm:"not null;index"` // ascending, lower runs first
	Condition          datatypes.JSON `gorm:"type:jsonb;not null"`
	TargetProvider     string         `gorm:"not null"`
	TargetModel        string         `gorm:"not null"`
	IsActive           bool           `gorm:"default:true"`
	TimesApplied       int64          `gorm:"default:0"`
	EstimatedSavingsUSD float64       `gorm:"default:0"`
}

// Condition is the decoded form of Rule.Condition. Every populated
// field must match for the rule to fire (spec §4.6 "condition
// conjunction"); a zero-value field is not checked.
type Condition struct {
	AgentID         string   `json:"agent_id,omitempty"`
	ModelRequested  string   `json:"model_requested,omitempty"`
	TokenEstimateMax *int64  `json:"token_estimate_max,omitempty"`
	TokenEstimateMin *int64  `json:"token_estimate_min,omitempty"`
	TaskType        TaskType `json:"task_type,omitempty"`
	TimeOfDayStart  string   `json:"time_of_day_start,omitempty"` // "HH:MM"
	TimeOfDayEnd    string   `json:"time_of_day_end,omitempty"`
}

// Matches reports whether every populated condition field is
// satisfied, per spec §4.6's "first match wins" rule evaluation.
func (c Condition) Matches(agentID *string, requestedModel string, estimatedTokens int64, taskType TaskType, timeOfDay string) bool {
	if c.AgentID != "" {
		if agentID == nil || *agentID != c.AgentID {
			return false
		}
	}
	if c.ModelRequested != "" && !hasPrefix(requestedModel, c.ModelRequested) {
		return false
	}
	if c.TokenEstimateMax != nil && estimatedTokens > *c.TokenEstimateMax {
		return false
	}
	if c.TokenEstimateMin != nil && estimatedTokens < *c.TokenEstimateMin {
		return false
	}
	if c.TaskType != "" && c.TaskType != taskType {
		return false
	}
	if c.TimeOfDayStart != "" && c.TimeOfDayEnd != "" {
		if !(c.TimeOfDayStart <= timeOfDay && timeOfDay <= c.TimeOfDayEnd) {
			return false
		}
	}
	return true
}

// decodeCondition unmarshals a Rule's stored Condition JSON.
func decodeCondition(raw datatypes.JSON) (Condition, error) {
	var c Condition
	if len(raw) == 0 {
		return c, nil
	}
	err := json.Unmarshal(raw, &c)
	return c, err
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// nowHHMM returns the current UTC time as "HH:MM", matching
// smart_router.py's strftime("%H:%M").
func nowHHMM(now time.Time) string {
	return now.UTC().Format("15:04")
}
