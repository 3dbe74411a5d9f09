package smart

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/amerfu/proxyd/internal/config"
	"github.com/amerfu/proxyd/internal/models"
	"github.com/amerfu/proxyd/internal/pricing"
)

type fakeRuleRepo struct {
	rules   []Rule
	applied map[string]decimal.Decimal
}

func (f *fakeRuleRepo) ListActiveRules(ctx context.Context, userID string) ([]Rule, error) {
	return f.rules, nil
}

func (f *fakeRuleRepo) RecordRuleApplied(ctx context.Context, ruleID string, savings decimal.Decimal) error {
	if f.applied == nil {
		f.applied = map[string]decimal.Decimal{}
	}
	f.applied[ruleID] = savings
	return nil
}

func mustCondition(t *testing.T, c Condition) datatypes.JSON {
	raw, err := json.Marshal(c)
	require.NoError(t, err)
	return datatypes.JSON(raw)
}

func testRegistry() *pricing.Registry {
	return pricing.NewRegistry(nil, config.PricingConfig{DefaultInputPerMtok: 1.0, DefaultOutputPerMtok: 2.0}, nil)
}

func TestRouteMatchesFirstRuleByPriority(t *testing.T) {
	ruleLow := Rule{
		BaseModel:      models.BaseModel{ID: uuid.New()},
		Priority:       1,
		Condition:      mustCondition(t, Condition{ModelRequested: "gpt-4"}),
		TargetProvider: "openai",
		TargetModel:    "gpt-4o-mini",
		Name:           "cheap-gpt4",
		IsActive:       true,
	}
	ruleHigh := Rule{
		BaseModel:      models.BaseModel{ID: uuid.New()},
		Priority:       2,
		Condition:      mustCondition(t, Condition{ModelRequested: "gpt-4"}),
		TargetProvider: "openai",
		TargetModel:    "gpt-4o",
		Name:           "fallback-gpt4",
		IsActive:       true,
	}
	repo := &fakeRuleRepo{rules: []Rule{ruleHigh, ruleLow}}
	router := New(repo, testRegistry(), nil)

	d := router.Route(context.Background(), "user-1", nil, "gpt-4-turbo", nil, "")
	assert.Equal(t, "gpt-4o-mini", d.TargetModel)
	assert.Contains(t, d.Reason, "cheap-gpt4")
}

func TestRouteNoMatchPassesThrough(t *testing.T) {
	repo := &fakeRuleRepo{}
	router := New(repo, testRegistry(), nil)

	d := router.Route(context.Background(), "user-1", nil, "claude-haiku-4-5", nil, "")
	assert.Equal(t, "claude-haiku-4-5", d.TargetModel)
	assert.Equal(t, pricing.ProviderAnthropic, d.TargetProvider)
}

func TestClassifyTaskType(t *testing.T) {
	assert.Equal(t, TaskCode, classifyTaskType("You are a code review assistant", 5))
	assert.Equal(t, TaskSummarization, classifyTaskType("Please summarize the document", 5))
	assert.Equal(t, TaskSimple, classifyTaskType("", 1))
	assert.Equal(t, TaskGeneral, classifyTaskType("", 5))
}

func TestGetFallbackModelWalksChain(t *testing.T) {
	router := New(&fakeRuleRepo{}, testRegistry(), nil)
	d := router.GetFallbackModel("gpt-4o", []string{"gpt-4o-2024-11-20"})
	assert.True(t, d.IsFallback)
	assert.Equal(t, "gpt-4o-mini", d.Model)
}

func TestGetFallbackModelFallsBackToGeneric(t *testing.T) {
	router := New(&fakeRuleRepo{}, testRegistry(), nil)
	d := router.GetFallbackModel("mixtral-8x7b-32768", []string{"llama-3.3-70b-versatile", "claude-sonnet-4-5", "gpt-4o"})
	assert.True(t, d.IsFallback)
	assert.True(t, d.Generic)
	assert.Equal(t, "claude-haiku-4-5", d.Model)
}

func TestGetCheapestModelAppliesCapabilityFilter(t *testing.T) {
	router := New(&fakeRuleRepo{}, testRegistry(), nil)
	cheapest, ok := router.GetCheapestModel(CapabilityFilter{SupportsVision: true, MinContextWindow: 500000})
	require.True(t, ok)
	assert.Equal(t, "gemini-1.5-flash", cheapest.Model)
}
