package rules

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amerfu/proxyd/internal/security"
)

func TestEnginePatternMatch(t *testing.T) {
	e := New()
	e.AddRule(&Rule{
		ID: "r1", Name: "blocklist-word", RuleType: TypePattern, Severity: SeverityHigh,
		Enabled: true, Pattern: regexp.MustCompile(`(?i)forbidden-phrase`),
	})
	results := e.DetectRequest(security.RequestData{Messages: []security.MessagePart{{Content: "this has a forbidden-phrase in it"}}})
	assert.Len(t, results, 1)
}

func TestEngineThresholdMatch(t *testing.T) {
	e := New()
	e.AddRule(&Rule{
		ID: "r2", Name: "too-many-tools", RuleType: TypeThreshold, Severity: SeverityMedium,
		Enabled: true, Metric: "tool_count", Operator: OpGT, Threshold: 2,
	})
	results := e.DetectRequest(security.RequestData{ToolDefs: []string{"a", "b", "c"}})
	assert.Len(t, results, 1)
}

func TestEngineCompositeAndRequiresBothSubrules(t *testing.T) {
	e := New()
	e.AddRule(&Rule{ID: "sub1", RuleType: TypePattern, Enabled: true, Pattern: regexp.MustCompile(`foo`)})
	e.AddRule(&Rule{ID: "sub2", RuleType: TypeThreshold, Enabled: true, Metric: "tool_count", Operator: OpGT, Threshold: 1})
	e.AddRule(&Rule{
		ID: "composite", Name: "foo-and-many-tools", RuleType: TypeComposite, Severity: SeverityCritical,
		Enabled: true, CompositeRuleIDs: []string{"sub1", "sub2"}, CompositeAnd: true,
	})

	// sub1 matches on its own; the composite must not.
	noMatch := e.DetectRequest(security.RequestData{Messages: []security.MessagePart{{Content: "foo"}}})
	if assert.Len(t, noMatch, 1) {
		assert.Equal(t, "sub1", noMatch[0].RuleID)
	}

	match := e.DetectRequest(security.RequestData{
		Messages: []security.MessagePart{{Content: "foo"}},
		ToolDefs: []string{"a", "b"},
	})
	found := false
	for _, r := range match {
		if r.RuleID == "composite" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEngineScopesRulesByTenant(t *testing.T) {
	e := New()
	e.AddRule(&Rule{
		ID: "tenant-scoped", TenantID: "tenant-a", Name: "tenant-rule", RuleType: TypePattern,
		Severity: SeverityLow, Enabled: true, Pattern: regexp.MustCompile(`secret`),
	})

	other := e.DetectRequest(security.RequestData{AgentID: "tenant-b", Messages: []security.MessagePart{{Content: "secret"}}})
	assert.Empty(t, other)

	own := e.DetectRequest(security.RequestData{AgentID: "tenant-a", Messages: []security.MessagePart{{Content: "secret"}}})
	assert.Len(t, own, 1)
}
