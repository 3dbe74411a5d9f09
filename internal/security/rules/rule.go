// Package rules implements the custom detection rule engine (spec
// §4.7 #7): organization-defined pattern/threshold/composite rules,
// grounded on
// _examples/original_source/proxy/app/security/rule_engine.py.
package rules

import (
	"regexp"

	"gorm.io/datatypes"

	"github.com/amerfu/proxyd/internal/models"
)

// Type classifies how a Rule is evaluated.
type Type string

const (
	TypePattern   Type = "pattern"
	TypeThreshold Type = "threshold"
	TypeComposite Type = "composite"
)

// Operator is a threshold comparison operator.
type Operator string

const (
	OpGT  Operator = ">"
	OpGTE Operator = ">="
	OpLT  Operator = "<"
	OpLTE Operator = "<="
	OpEQ  Operator = "=="
	OpNEQ Operator = "!="
)

// Severity mirrors security.Severity's values as a separate string
// type for persisted Definitions; Engine converts it to
// security.Severity when it reports a match.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Definition is the persisted, uncompiled shape of a custom rule.
// Condition holds type-specific config: for TypePattern,
// {"pattern": "regex"}; for TypeThreshold,
// {"metric": "...", "operator": ">", "value": 10}; for
// TypeComposite, {"rule_ids": [...], "logic": "and"}.
type Definition struct {
	models.BaseModel
	TenantID    string `gorm:"index"`
	Name        string
	RuleType    Type
	Severity    Severity
	Enabled     bool
	Description string
	Condition   datatypes.JSON
}

func (Definition) TableName() string { return "security_rules" }

// Rule is a compiled, ready-to-evaluate rule, grounded on
// rule_engine.py's CompiledRule.
type Rule struct {
	ID          string
	TenantID    string
	Name        string
	RuleType    Type
	Severity    Severity
	Enabled     bool

	Pattern *regexp.Regexp

	Metric    string
	Operator  Operator
	Threshold float64

	CompositeRuleIDs []string
	CompositeAnd     bool
}
