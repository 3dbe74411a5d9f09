package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amerfu/proxyd/internal/auth"
	"github.com/amerfu/proxyd/internal/budget"
	"github.com/amerfu/proxyd/internal/config"
	"github.com/amerfu/proxyd/internal/journal"
	"github.com/amerfu/proxyd/internal/models"
	"github.com/amerfu/proxyd/internal/pricing"
	"github.com/amerfu/proxyd/internal/router/smart"
	"github.com/amerfu/proxyd/internal/security"
	"github.com/amerfu/proxyd/internal/services/providers"
	"github.com/amerfu/proxyd/internal/stream"
)

type fakeAuthRepo struct {
	byHash map[string]*models.AccountKey
}

func (f *fakeAuthRepo) GetAccountKeyByHash(ctx context.Context, hash string) (*models.AccountKey, error) {
	return f.byHash[hash], nil
}
func (f *fakeAuthRepo) TouchLastUsed(ctx context.Context, keyID string, at time.Time) {}

type fakeBudgetRepo struct{ budgets []budget.Budget }

func (f *fakeBudgetRepo) ListActiveBudgets(ctx context.Context, userID string, agentID *string) ([]budget.Budget, error) {
	return f.budgets, nil
}
func (f *fakeBudgetRepo) SaveBudget(ctx context.Context, b *budget.Budget) error { return nil }

type fakeRuleRepo struct{}

func (f *fakeRuleRepo) ListActiveRules(ctx context.Context, userID string) ([]smart.Rule, error) {
	return nil, nil
}
func (f *fakeRuleRepo) RecordRuleApplied(ctx context.Context, ruleID string, savings decimal.Decimal) error {
	return nil
}

type fakeJournalRepo struct {
	mu      chan struct{}
	records []*journal.Record
}

func newFakeJournalRepo() *fakeJournalRepo { return &fakeJournalRepo{mu: make(chan struct{}, 1)} }

func (f *fakeJournalRepo) SaveRecord(ctx context.Context, r *journal.Record) error {
	f.records = append(f.records, r)
	return nil
}

func testPrincipalAndKey(t *testing.T) (*fakeAuthRepo, string) {
	t.Helper()
	plaintext, hash, err := models.GenerateAccountKey()
	require.NoError(t, err)
	repo := &fakeAuthRepo{byHash: map[string]*models.AccountKey{
		hash: {
			BaseModel: models.BaseModel{ID: uuid.New()},
			KeyHash:   hash,
			UserID:    uuid.New(),
			Tier:      models.TierStandard,
			IsActive:  true,
		},
	}}
	return repo, plaintext
}

func newTestPipeline(t *testing.T, upstreamURL string, budgets []budget.Budget) (*Pipeline, string) {
	t.Helper()
	authRepo, key := testPrincipalAndKey(t)
	authenticator := auth.New(authRepo, nil, nil)

	registry := pricing.NewRegistry(nil, config.PricingConfig{DefaultInputPerMtok: 1, DefaultOutputPerMtok: 2}, nil)
	router := smart.New(&fakeRuleRepo{}, registry, nil)
	budgetEng := budget.New(&fakeBudgetRepo{budgets: budgets}, config.BudgetConfig{}, nil)
	secEngine := security.New(config.SecurityConfig{}, nil)
	forwarder := providers.New(map[string]providers.ProviderSpec{
		"anthropic": {Name: "anthropic", BaseURL: upstreamURL, AuthHeader: "x-api-key"},
	})
	interceptor := stream.New(secEngine, 10, 4096, nil)
	jw := journal.New(newFakeJournalRepo(), 16, nil)

	p := New(authenticator, router, budgetEng, secEngine, registry, forwarder, interceptor, jw, config.BudgetConfig{PreflightEstimateUSD: 0.10}, nil)
	return p, key
}

func TestHandleUnaryHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	p, key := newTestPipeline(t, srv.URL, nil)

	body := `{"model":"claude-opus-4-5","messages":[{"role":"user","content":"hello there"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("x-api-key", "upstream-key")
	w := httptest.NewRecorder()

	p.ServeAnthropicMessages(w, req)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("x-acc-request-id"))
	assert.Equal(t, "10", resp.Header.Get("x-acc-tokens-input"))
	assert.Equal(t, "5", resp.Header.Get("x-acc-tokens-output"))
}

func TestHandleRejectsMissingCredential(t *testing.T) {
	p, _ := newTestPipeline(t, "http://unused.invalid", nil)

	body := `{"model":"claude-opus-4-5","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	w := httptest.NewRecorder()

	p.ServeAnthropicMessages(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
}

func TestHandleBlocksOverBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called when budget blocks")
	}))
	defer srv.Close()

	exhausted := budget.Budget{
		BaseModel:      models.BaseModel{ID: uuid.New()},
		UserID:         uuid.New(),
		Name:           "global",
		Scope:          budget.ScopeGlobal,
		Period:         budget.PeriodMonthly,
		LimitUSD:       decimal.NewFromFloat(0.0001),
		SpentUSD:       decimal.NewFromFloat(0.0001),
		WarningPercent: 50,
		ActionOnBreach: budget.ActionBlock,
		ResetAt:        time.Now().Add(24 * time.Hour),
		IsActive:       true,
	}
	p, key := newTestPipeline(t, srv.URL, []budget.Budget{exhausted})

	body := `{"model":"claude-opus-4-5","messages":[{"role":"user","content":"hello there, this is a long enough message to estimate a nonzero cost"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("x-api-key", "upstream-key")
	w := httptest.NewRecorder()

	p.ServeAnthropicMessages(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Result().StatusCode)
}

// TestHandleBlocksOnFixedPreflightEstimateNotTokenEstimate exercises a
// budget sitting just under its limit with a short request body: a
// token-derived estimate for this message would project under the
// limit and wrongly allow the request, but the fixed $0.10 pre-flight
// estimate (spec §4.10 step 4) pushes it over and must 429.
func TestHandleBlocksOnFixedPreflightEstimateNotTokenEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called when budget blocks")
	}))
	defer srv.Close()

	almostSpent := budget.Budget{
		BaseModel:      models.BaseModel{ID: uuid.New()},
		UserID:         uuid.New(),
		Name:           "global",
		Scope:          budget.ScopeGlobal,
		Period:         budget.PeriodMonthly,
		LimitUSD:       decimal.NewFromFloat(10),
		SpentUSD:       decimal.NewFromFloat(9.99),
		WarningPercent: 50,
		ActionOnBreach: budget.ActionBlock,
		ResetAt:        time.Now().Add(24 * time.Hour),
		IsActive:       true,
	}
	p, key := newTestPipeline(t, srv.URL, []budget.Budget{almostSpent})

	body := `{"model":"claude-opus-4-5","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("x-api-key", "upstream-key")
	w := httptest.NewRecorder()

	p.ServeAnthropicMessages(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Result().StatusCode)
}

func TestHandleUnknownModelIsBadRequest(t *testing.T) {
	p, key := newTestPipeline(t, "http://unused.invalid", nil)

	body := `{"model":"totally-unknown-model-xyz-nonexistent","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()

	p.ServeAnthropicMessages(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}
