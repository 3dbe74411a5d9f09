package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amerfu/proxyd/internal/config"
	"github.com/amerfu/proxyd/internal/models"
	"github.com/amerfu/proxyd/internal/tenancy"
)

type fakeBudgetRepo struct {
	budgets []Budget
	saved   []Budget
}

func (f *fakeBudgetRepo) ListActiveBudgets(ctx context.Context, userID string, agentID *string) ([]Budget, error) {
	return f.budgets, nil
}

func (f *fakeBudgetRepo) SaveBudget(ctx context.Context, b *Budget) error {
	for i := range f.budgets {
		if f.budgets[i].ID == b.ID {
			f.budgets[i] = *b
		}
	}
	f.saved = append(f.saved, *b)
	return nil
}

func newTestBudget(scope Scope, identifier string, limit float64) Budget {
	return Budget{
		BaseModel:       models.BaseModel{ID: uuid.New()},
		UserID:          uuid.New(),
		Name:            string(scope) + ":" + identifier,
		Scope:           scope,
		ScopeIdentifier: identifier,
		Period:          PeriodMonthly,
		LimitUSD:        decimal.NewFromFloat(limit),
		SpentUSD:        decimal.Zero,
		WarningPercent:  50,
		CriticalPercent: 90,
		ActionOnBreach:  ActionBlock,
		ResetAt:         time.Now().Add(24 * time.Hour),
		IsActive:        true,
	}
}

func testCfg() config.BudgetConfig {
	return config.BudgetConfig{AlertThresholds: []int{50, 75, 90, 100}}
}

func TestCheckBudgetAllowsUnderLimit(t *testing.T) {
	repo := &fakeBudgetRepo{budgets: []Budget{newTestBudget(ScopeGlobal, "", 100)}}
	e := New(repo, testCfg(), nil)

	d, err := e.CheckBudget(context.Background(), "user-1", nil, "gpt-4o", decimal.NewFromFloat(1))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, d.Kind)
}

func TestCheckBudgetBlocksOverLimit(t *testing.T) {
	b := newTestBudget(ScopeGlobal, "", 10)
	b.SpentUSD = decimal.NewFromFloat(9)
	repo := &fakeBudgetRepo{budgets: []Budget{b}}
	e := New(repo, testCfg(), nil)

	d, err := e.CheckBudget(context.Background(), "user-1", nil, "gpt-4o", decimal.NewFromFloat(5))
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, d.Kind)
}

func TestCheckBudgetDowngrade(t *testing.T) {
	b := newTestBudget(ScopePerModel, "claude-opus-4-5", 10)
	b.SpentUSD = decimal.NewFromFloat(9)
	b.ActionOnBreach = ActionDowngrade
	repo := &fakeBudgetRepo{budgets: []Budget{b}}
	e := New(repo, testCfg(), nil)

	d, err := e.CheckBudget(context.Background(), "user-1", nil, "claude-opus-4-5", decimal.NewFromFloat(5))
	require.NoError(t, err)
	assert.Equal(t, DecisionDowngrade, d.Kind)
	assert.Equal(t, "claude-sonnet-4-5", d.TargetModel)
}

func TestCheckBudgetFailsOpenOnRepoError(t *testing.T) {
	e := New(errorRepo{}, testCfg(), nil)
	d, err := e.CheckBudget(context.Background(), "user-1", nil, "gpt-4o", decimal.NewFromFloat(100))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, d.Kind)
}

type errorRepo struct{}

func (errorRepo) ListActiveBudgets(ctx context.Context, userID string, agentID *string) ([]Budget, error) {
	return nil, errors.New("boom")
}
func (errorRepo) SaveBudget(ctx context.Context, b *Budget) error { return nil }

func TestThresholdFiresExactlyOncePerPeriod(t *testing.T) {
	b := newTestBudget(ScopeGlobal, "", 100)
	repo := &fakeBudgetRepo{budgets: []Budget{b}}
	e := New(repo, testCfg(), nil)

	_, err := e.CheckBudget(context.Background(), "user-1", nil, "gpt-4o", decimal.NewFromFloat(55))
	require.NoError(t, err)
	select {
	case a := <-e.Alerts():
		assert.Equal(t, 50, a.Threshold)
	default:
		t.Fatal("expected an alert to fire")
	}

	_, err = e.CheckBudget(context.Background(), "user-1", nil, "gpt-4o", decimal.NewFromFloat(55))
	require.NoError(t, err)
	select {
	case a := <-e.Alerts():
		t.Fatalf("threshold 50 should not fire twice in the same period, got %+v", a)
	default:
	}
}

func TestDebitCrossingFiresAlert(t *testing.T) {
	b := newTestBudget(ScopeGlobal, "", 100)
	repo := &fakeBudgetRepo{budgets: []Budget{b}}
	e := New(repo, testCfg(), nil)

	e.Debit(context.Background(), "user-1", nil, "gpt-4o", decimal.NewFromFloat(92))

	// 0% -> 92% crosses 50, 75 and 90; alerts are published in ascending
	// threshold order, so the critical one for 90 is the third.
	var last Alert
	for i := 0; i < 3; i++ {
		select {
		case last = <-e.Alerts():
		default:
			t.Fatal("expected alerts on crossing 50, 75 and 90")
		}
	}
	assert.Equal(t, 90, last.Threshold)
	assert.Equal(t, AlertCritical, last.Type)
}

func TestResetClearsFiredThresholds(t *testing.T) {
	b := newTestBudget(ScopeGlobal, "", 100)
	b.SpentUSD = decimal.NewFromFloat(95)
	b.FiredThresholds = saveFired(map[int]bool{50: true, 75: true, 90: true})
	b.ResetAt = time.Now().Add(-time.Minute)
	repo := &fakeBudgetRepo{budgets: []Budget{b}}
	e := New(repo, testCfg(), nil)

	d, err := e.CheckBudget(context.Background(), "user-1", nil, "gpt-4o", decimal.NewFromFloat(1))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, d.Kind)
	assert.True(t, repo.saved[0].SpentUSD.IsZero())
	assert.Empty(t, loadFired(repo.saved[0].FiredThresholds))
}

func TestScopeSpecificityOrdering(t *testing.T) {
	global := newTestBudget(ScopeGlobal, "", 1000)
	perModel := newTestBudget(ScopePerModel, "gpt-4o", 10)
	perModel.SpentUSD = decimal.NewFromFloat(9)
	repo := &fakeBudgetRepo{budgets: []Budget{global, perModel}}
	e := New(repo, testCfg(), nil)

	d, err := e.CheckBudget(context.Background(), "user-1", nil, "gpt-4o", decimal.NewFromFloat(5))
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, d.Kind)
	assert.Equal(t, perModel.Name, d.BudgetName)
}

type fakeQuota struct {
	quota tenancy.Quota
	err   error
}

func (f fakeQuota) QuotaFor(ctx context.Context, orgID string) (tenancy.Quota, error) {
	return f.quota, f.err
}

func TestCreateAgentBudgetRejectsOverMaxAgents(t *testing.T) {
	existing := newTestBudget(ScopePerAgent, "agent-1", 10)
	repo := &fakeBudgetRepo{budgets: []Budget{existing}}
	e := New(repo, testCfg(), nil).WithTenantQuota(fakeQuota{quota: tenancy.Quota{OrgID: "org-1", MaxAgents: 1}})

	err := e.CreateAgentBudget(context.Background(), "org-1", uuid.New().String(), "agent-2", &Budget{LimitUSD: decimal.NewFromFloat(10)})
	assert.Error(t, err)
	assert.Empty(t, repo.saved)
}

func TestCreateAgentBudgetAllowsUnderMaxAgents(t *testing.T) {
	repo := &fakeBudgetRepo{}
	e := New(repo, testCfg(), nil).WithTenantQuota(fakeQuota{quota: tenancy.Quota{OrgID: "org-1", MaxAgents: 5}})

	err := e.CreateAgentBudget(context.Background(), "org-1", uuid.New().String(), "agent-1", &Budget{LimitUSD: decimal.NewFromFloat(10)})
	require.NoError(t, err)
	assert.Len(t, repo.saved, 1)
	assert.Equal(t, ScopePerAgent, repo.saved[0].Scope)
	assert.Equal(t, "agent-1", repo.saved[0].ScopeIdentifier)
}

func TestCreateAgentBudgetFailsOpenOnQuotaLookupError(t *testing.T) {
	repo := &fakeBudgetRepo{}
	e := New(repo, testCfg(), nil).WithTenantQuota(fakeQuota{err: errors.New("unreachable")})

	err := e.CreateAgentBudget(context.Background(), "org-1", uuid.New().String(), "agent-1", &Budget{LimitUSD: decimal.NewFromFloat(10)})
	require.NoError(t, err)
	assert.Len(t, repo.saved, 1)
}
