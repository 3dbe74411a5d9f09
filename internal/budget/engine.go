package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/amerfu/proxyd/internal/config"
	"github.com/amerfu/proxyd/internal/tenancy"
)

// DecisionKind is the outcome of a CheckBudget pre-check (spec §4.5).
type DecisionKind string

const (
	DecisionAllow     DecisionKind = "allow"
	DecisionWarn      DecisionKind = "warn"
	DecisionDowngrade DecisionKind = "downgrade"
	DecisionBlock     DecisionKind = "block"
)

// Decision is the result of CheckBudget.
type Decision struct {
	Kind        DecisionKind
	BudgetName  string
	PercentUsed float64
	TargetModel string          // set when Kind == DecisionDowngrade
	Remaining   decimal.Decimal // set when Kind == DecisionBlock
}

// AlertType classifies a threshold-crossing alert.
type AlertType string

const (
	AlertWarning  AlertType = "warning"
	AlertCritical AlertType = "critical"
	AlertBreach   AlertType = "breach"
)

// Alert is emitted at most once per (budget, threshold, period), per
// spec §4.5's threshold-alert semantics.
type Alert struct {
	BudgetID  string
	Threshold int
	Type      AlertType
	FiredAt   time.Time
}

// Repository is the Budget Engine's persistence boundary.
type Repository interface {
	ListActiveBudgets(ctx context.Context, userID string, agentID *string) ([]Budget, error)
	SaveBudget(ctx context.Context, b *Budget) error
}

// Engine is the Budget Engine (C5). Per-budget mutexes serialize
// pre-check/debit/reset the way the teacher's BudgetService
// (internal/services/budget/service.go) guards its in-memory cache,
// fused with original_source's budget_engine.py scope/threshold logic.
type Engine struct {
	repo       Repository
	logger     *zap.Logger
	thresholds []int
	quota      tenancy.TenantQuota

	mu    sync.Mutex // guards locks map
	locks map[string]*sync.Mutex

	alertCh chan Alert
}

// New builds an Engine.
func New(repo Repository, cfg config.BudgetConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	thresholds := append([]int(nil), cfg.AlertThresholds...)
	if len(thresholds) == 0 {
		thresholds = []int{50, 75, 90, 100}
	}
	sort.Ints(thresholds)
	return &Engine{
		repo:       repo,
		logger:     logger,
		thresholds: thresholds,
		locks:      make(map[string]*sync.Mutex),
		alertCh:    make(chan Alert, 256),
	}
}

// WithTenantQuota attaches the collaborator CreateAgentBudget consults
// to enforce an organization's max_agents limit. Without one, quota
// enforcement is skipped (CreateAgentBudget never rejects for it).
func (e *Engine) WithTenantQuota(q tenancy.TenantQuota) *Engine {
	e.quota = q
	return e
}

// CreateAgentBudget provisions a new per_agent-scoped budget for
// orgID, rejecting once the organization's active per-agent budget
// count would exceed its TenantQuota.MaxAgents, grounded on
// multitenant.py's TenantUsage.is_within_limits max_agents check.
// Fail-open: a quota lookup error allows provisioning rather than
// blocking on an infrastructure hiccup (spec §5).
func (e *Engine) CreateAgentBudget(ctx context.Context, orgID, userID, agentID string, b *Budget) error {
	if e.quota != nil {
		q, err := e.quota.QuotaFor(ctx, orgID)
		if err != nil {
			e.logger.Warn("budget: tenant quota lookup failed, failing open", zap.Error(err))
		} else if q.MaxAgents > 0 {
			existing, err := e.repo.ListActiveBudgets(ctx, userID, nil)
			if err != nil {
				e.logger.Warn("budget: list active budgets failed, failing open", zap.Error(err))
			} else {
				count := 0
				for _, eb := range existing {
					if eb.Scope == ScopePerAgent {
						count++
					}
				}
				if count >= q.MaxAgents {
					return fmt.Errorf("tenant %s: max_agents quota of %d reached", orgID, q.MaxAgents)
				}
			}
		}
	}

	uid, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("parse user id: %w", err)
	}

	b.Scope = ScopePerAgent
	b.ScopeIdentifier = agentID
	b.UserID = uid
	return e.repo.SaveBudget(ctx, b)
}

// Alerts returns the channel alerts are published on; a consumer
// drains it to deliver warnings/webhooks, mirroring the teacher's
// startAlertProcessor pattern.
func (e *Engine) Alerts() <-chan Alert { return e.alertCh }

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// CheckBudget implements spec §4.5's pre-check contract. Fail-open:
// any repository error returns Allow so that an infrastructure hiccup
// never blocks traffic (spec §5).
func (e *Engine) CheckBudget(ctx context.Context, userID string, agentID *string, model string, estimatedCost decimal.Decimal) (Decision, error) {
	budgets, err := e.repo.ListActiveBudgets(ctx, userID, agentID)
	if err != nil {
		e.logger.Warn("budget: list active budgets failed, failing open", zap.Error(err))
		return Decision{Kind: DecisionAllow}, nil
	}

	applicable := applicableBudgets(budgets, agentID, model)
	sortBySpecificity(applicable)

	for _, b := range applicable {
		lock := e.lockFor(b.ID.String())
		lock.Lock()
		decision := e.checkOne(ctx, b, model, estimatedCost)
		if err := e.repo.SaveBudget(ctx, b); err != nil {
			e.logger.Warn("budget: save after pre-check failed", zap.String("budget_id", b.ID.String()), zap.Error(err))
		}
		lock.Unlock()

		if decision.Kind != DecisionAllow {
			return decision, nil
		}
	}

	return Decision{Kind: DecisionAllow}, nil
}

func (e *Engine) checkOne(ctx context.Context, b *Budget, model string, estimatedCost decimal.Decimal) Decision {
	e.resetIfDue(b, time.Now())

	projected := b.SpentUSD.Add(estimatedCost)
	projectedPct := percentOf(projected, b.LimitUSD)

	e.fireThresholds(b, projectedPct)

	if !b.LimitUSD.IsZero() && projected.GreaterThan(b.LimitUSD) {
		switch b.ActionOnBreach {
		case ActionDowngrade:
			target := b.DowngradeTarget
			if target == "" {
				target = DowngradeFor(model)
			}
			return Decision{Kind: DecisionDowngrade, BudgetName: b.Name, TargetModel: target, PercentUsed: projectedPct}
		case ActionWarn, ActionThrottle:
			return Decision{Kind: DecisionWarn, BudgetName: b.Name, PercentUsed: projectedPct}
		default: // block
			return Decision{Kind: DecisionBlock, BudgetName: b.Name, Remaining: b.LimitUSD.Sub(b.SpentUSD), PercentUsed: projectedPct}
		}
	}

	if projectedPct >= b.WarningPercent {
		return Decision{Kind: DecisionWarn, BudgetName: b.Name, PercentUsed: projectedPct}
	}

	return Decision{Kind: DecisionAllow, PercentUsed: projectedPct}
}

// Debit applies an actual cost to every applicable budget, mirroring
// the crossing-alert logic of pre-check (spec §4.5's Debit contract).
// Fail-open: persistence errors are logged, never propagated, so a
// storage blip never blocks the response path.
func (e *Engine) Debit(ctx context.Context, userID string, agentID *string, model string, actualCost decimal.Decimal) {
	budgets, err := e.repo.ListActiveBudgets(ctx, userID, agentID)
	if err != nil {
		e.logger.Warn("budget: debit list failed, skipping", zap.Error(err))
		return
	}

	for _, b := range applicableBudgets(budgets, agentID, model) {
		lock := e.lockFor(b.ID.String())
		lock.Lock()
		e.resetIfDue(b, time.Now())

		before := percentOf(b.SpentUSD, b.LimitUSD)
		b.SpentUSD = b.SpentUSD.Add(actualCost)
		after := percentOf(b.SpentUSD, b.LimitUSD)

		e.fireCrossing(b, before, after)

		if err := e.repo.SaveBudget(ctx, b); err != nil {
			e.logger.Warn("budget: save after debit failed", zap.String("budget_id", b.ID.String()), zap.Error(err))
		}
		lock.Unlock()
	}
}

// resetIfDue zeroes spend and clears fired thresholds when the
// budget's period boundary has passed (spec §4.5 "Reset"). Caller
// holds the per-budget lock.
func (e *Engine) resetIfDue(b *Budget, now time.Time) {
	if !b.NeedsReset(now) {
		return
	}
	b.SpentUSD = decimal.Zero
	b.FiredThresholds = nil
	b.ResetAt = NextBoundary(b.Period, now)
}

// fireThresholds emits one alert per newly-crossed threshold ≤ pct,
// per spec §4.5's pre-check alert rule. Caller holds the per-budget
// lock.
func (e *Engine) fireThresholds(b *Budget, pct float64) {
	fired := loadFired(b.FiredThresholds)
	changed := false
	for _, t := range e.thresholds {
		if float64(t) > pct || fired[t] {
			continue
		}
		fired[t] = true
		changed = true
		e.publish(Alert{BudgetID: b.ID.String(), Threshold: t, Type: classify(t, b.CriticalPercent), FiredAt: time.Now()})
	}
	if changed {
		b.FiredThresholds = saveFired(fired)
	}
}

// fireCrossing mirrors fireThresholds for the debit path: fires a
// threshold only if spend just crossed it (before < t <= after).
// Caller holds the per-budget lock.
func (e *Engine) fireCrossing(b *Budget, before, after float64) {
	fired := loadFired(b.FiredThresholds)
	changed := false
	for _, t := range e.thresholds {
		if fired[t] {
			continue
		}
		if before < float64(t) && after >= float64(t) {
			fired[t] = true
			changed = true
			e.publish(Alert{BudgetID: b.ID.String(), Threshold: t, Type: classify(t, b.CriticalPercent), FiredAt: time.Now()})
		}
	}
	if changed {
		b.FiredThresholds = saveFired(fired)
	}
}

func (e *Engine) publish(a Alert) {
	select {
	case e.alertCh <- a:
	default:
		e.logger.Warn("budget: alert channel full, dropping alert", zap.String("budget_id", a.BudgetID), zap.Int("threshold", a.Threshold))
	}
}

func classify(threshold int, criticalPercent float64) AlertType {
	switch {
	case threshold >= 100:
		return AlertBreach
	case float64(threshold) >= criticalPercent:
		return AlertCritical
	default:
		return AlertWarning
	}
}

func percentOf(value, limit decimal.Decimal) float64 {
	if limit.IsZero() {
		return 0
	}
	pct, _ := value.Div(limit).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

func applicableBudgets(all []Budget, agentID *string, model string) []*Budget {
	out := make([]*Budget, 0, len(all))
	for i := range all {
		if all[i].Applies(agentID, model) {
			out = append(out, &all[i])
		}
	}
	return out
}

func sortBySpecificity(bs []*Budget) {
	sort.Slice(bs, func(i, j int) bool { return scopeRank[bs[i].Scope] < scopeRank[bs[j].Scope] })
}

// loadFired decodes the already-fired-threshold set stored on a
// budget. A nil/empty/malformed value decodes to an empty set.
func loadFired(raw datatypes.JSON) map[int]bool {
	out := map[int]bool{}
	if len(raw) == 0 {
		return out
	}
	var list []int
	if err := json.Unmarshal(raw, &list); err != nil {
		return out
	}
	for _, t := range list {
		out[t] = true
	}
	return out
}

// saveFired encodes the fired-threshold set back to JSON, sorted for
// deterministic storage.
func saveFired(fired map[int]bool) datatypes.JSON {
	list := make([]int, 0, len(fired))
	for t := range fired {
		list = append(list, t)
	}
	sort.Ints(list)
	raw, _ := json.Marshal(list)
	return datatypes.JSON(raw)
}

// downgradeTable is the static model-downgrade map (spec §4.5).
var downgradeTable = map[string]string{
	"claude-opus-4-5":   "claude-sonnet-4-5",
	"claude-opus-4":     "claude-sonnet-4",
	"claude-sonnet-4-5": "claude-haiku-4-5",
	"gpt-4o":            "gpt-4o-mini",
	"gpt-4":             "gpt-4o-mini",
	"gpt-4-turbo":       "gpt-4o-mini",
	"o1":                "o3-mini",
}

// DowngradeFor returns the static downgrade target for a model, or the
// model unchanged if no entry exists.
func DowngradeFor(model string) string {
	if target, ok := downgradeTable[model]; ok {
		return target
	}
	return model
}
