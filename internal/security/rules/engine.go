package rules

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/amerfu/proxyd/internal/security"
)

// Engine evaluates a tenant-scoped set of compiled Rules, grounded on
// rule_engine.py's RuleEvaluator/CustomRuleDetector. It implements
// security.SyncDetector, registered as the Security Engine's custom
// rule detector.
type Engine struct {
	enabled bool
	mu      sync.RWMutex
	rules   map[string]*Rule // by ID
}

// New builds an enabled, empty rule engine. Rules are registered via
// AddRule, normally loaded from a repository at startup.
func New() *Engine {
	return &Engine{enabled: true, rules: map[string]*Rule{}}
}

func (e *Engine) Name() string  { return "custom_rule_detector" }
func (e *Engine) Enabled() bool { return e.enabled }

// AddRule registers or replaces a compiled rule.
func (e *Engine) AddRule(r *Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.ID] = r
}

// RemoveRule deletes a rule by ID.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, id)
}

func (e *Engine) rulesFor(tenantID string) []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled && (r.TenantID == "" || r.TenantID == tenantID) {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) DetectRequest(data security.RequestData) []security.DetectionResult {
	content := data.System
	for _, m := range data.Messages {
		content += " " + m.Content
	}
	metrics := map[string]float64{
		"message_count":  float64(len(data.Messages)),
		"content_length": float64(len(content)),
		"tool_count":     float64(len(data.ToolDefs)),
	}
	return e.evaluateAll(data.AgentID, content, metrics)
}

func (e *Engine) DetectResponse(data security.ResponseData) []security.DetectionResult {
	metrics := map[string]float64{
		"content_length": float64(len(data.Content)),
		"size_bytes":     float64(data.SizeBytes),
	}
	return e.evaluateAll(data.AgentID, data.Content, metrics)
}

func (e *Engine) evaluateAll(tenantID, content string, metrics map[string]float64) []security.DetectionResult {
	rules := e.rulesFor(tenantID)
	byID := make(map[string]*Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	var results []security.DetectionResult
	for _, r := range rules {
		if evaluateRule(r, content, metrics, byID, 0) {
			results = append(results, security.DetectionResult{
				Detected:    true,
				ThreatType:  security.ThreatCustomRule,
				Severity:    security.Severity(r.Severity),
				Confidence:  decimal.NewFromFloat(0.8),
				Source:      security.SourceSignature,
				Description: "custom rule matched: " + r.Name,
				Evidence:    map[string]any{"rule_id": r.ID, "rule_name": r.Name},
				RuleID:      r.ID,
			})
		}
	}
	return results
}

const maxCompositeDepth = 5

func evaluateRule(r *Rule, content string, metrics map[string]float64, byID map[string]*Rule, depth int) bool {
	if !r.Enabled || depth > maxCompositeDepth {
		return false
	}
	switch r.RuleType {
	case TypePattern:
		return r.Pattern != nil && r.Pattern.MatchString(content)
	case TypeThreshold:
		value, ok := metrics[r.Metric]
		if !ok {
			return false
		}
		return compareThreshold(value, r.Operator, r.Threshold)
	case TypeComposite:
		if len(r.CompositeRuleIDs) == 0 {
			return false
		}
		if r.CompositeAnd {
			for _, id := range r.CompositeRuleIDs {
				sub, ok := byID[id]
				if !ok || !evaluateRule(sub, content, metrics, byID, depth+1) {
					return false
				}
			}
			return true
		}
		for _, id := range r.CompositeRuleIDs {
			sub, ok := byID[id]
			if ok && evaluateRule(sub, content, metrics, byID, depth+1) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareThreshold(value float64, op Operator, threshold float64) bool {
	switch op {
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	case OpNEQ:
		return value != threshold
	default:
		return false
	}
}
