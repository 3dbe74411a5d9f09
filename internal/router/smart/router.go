package smart

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amerfu/proxyd/internal/pricing"
)

// Decision is the result of Route.
type Decision struct {
	TargetProvider     pricing.Provider
	TargetModel        string
	Reason             string
	OriginalModel      string
	EstimatedSavingsUSD decimal.Decimal
	RuleID             string // empty when no rule matched
}

// Message is the minimal chat-message shape Route needs to estimate
// tokens and classify task type; callers project their request body
// into this.
type Message struct {
	Content string
}

// Repository is the Smart Router's persistence boundary.
type Repository interface {
	ListActiveRules(ctx context.Context, userID string) ([]Rule, error)
	RecordRuleApplied(ctx context.Context, ruleID string, savings decimal.Decimal) error
}

// Router is the Smart Router (C6).
type Router struct {
	repo     Repository
	registry *pricing.Registry
	logger   *zap.Logger
}

// New builds a Router.
func New(repo Repository, registry *pricing.Registry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{repo: repo, registry: registry, logger: logger}
}

// Route implements spec §4.6's Route contract: ordered rule
// evaluation with first-match-wins, falling through to a pass-through
// decision when nothing matches.
func (r *Router) Route(ctx context.Context, userID string, agentID *string, requestedModel string, messages []Message, systemPrompt string) Decision {
	rules, err := r.repo.ListActiveRules(ctx, userID)
	if err != nil {
		r.logger.Warn("smart router: list active rules failed, passing through", zap.Error(err))
		return r.passThrough(requestedModel)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	estimatedTokens := estimateTotalTokens(messages, systemPrompt)
	taskType := classifyTaskType(systemPrompt, len(messages))
	timeOfDay := nowHHMM(time.Now())

	for i := range rules {
		rule := &rules[i]
		cond, err := decodeCondition(rule.Condition)
		if err != nil {
			continue
		}
		if !cond.Matches(agentID, requestedModel, estimatedTokens, taskType, timeOfDay) {
			continue
		}

		savings := r.estimateSavings(requestedModel, rule.TargetModel, estimatedTokens)
		if err := r.repo.RecordRuleApplied(ctx, rule.ID.String(), savings); err != nil {
			r.logger.Warn("smart router: record rule application failed", zap.String("rule_id", rule.ID.String()), zap.Error(err))
		}

		return Decision{
			TargetProvider:      pricing.Provider(rule.TargetProvider),
			TargetModel:         rule.TargetModel,
			Reason:              "matched rule: " + rule.Name,
			OriginalModel:       requestedModel,
			EstimatedSavingsUSD: savings,
			RuleID:              rule.ID.String(),
		}
	}

	return r.passThrough(requestedModel)
}

func (r *Router) passThrough(requestedModel string) Decision {
	provider := pricing.Provider("unknown")
	if d, ok := r.registry.LookupByModel(requestedModel); ok {
		provider = d.Provider
	}
	return Decision{TargetProvider: provider, TargetModel: requestedModel, Reason: "no routing rules matched", OriginalModel: requestedModel}
}

// estimateSavings assumes a 50/50 input/output split over the
// estimated token count, per smart_router.py's _estimate_savings.
func (r *Router) estimateSavings(originalModel, targetModel string, estimatedTokens int64) decimal.Decimal {
	if originalModel == targetModel {
		return decimal.Zero
	}
	orig, ok := r.registry.LookupByModel(originalModel)
	if !ok {
		return decimal.Zero
	}
	target, ok := r.registry.LookupByModel(targetModel)
	if !ok {
		return decimal.Zero
	}

	half := decimal.NewFromInt(estimatedTokens / 2)
	mtok := decimal.NewFromInt(1_000_000)

	origCost := half.Div(mtok).Mul(orig.InputPerMtok).Add(half.Div(mtok).Mul(orig.OutputPerMtok))
	targetCost := half.Div(mtok).Mul(target.InputPerMtok).Add(half.Div(mtok).Mul(target.OutputPerMtok))

	diff := origCost.Sub(targetCost)
	if diff.IsNegative() {
		return decimal.Zero
	}
	return diff
}

// CapabilityFilter narrows GetCheapestModel's candidate set.
type CapabilityFilter struct {
	SupportsVision          bool
	SupportsStreaming       bool
	SupportsFunctionCalling bool
	MinContextWindow        int
	MinOutputTokens         int
	Providers               []pricing.Provider // empty means any
}

// CheapestModel is GetCheapestModel's result.
type CheapestModel struct {
	Model          string
	Provider       pricing.Provider
	InputPerMtok   decimal.Decimal
	OutputPerMtok  decimal.Decimal
	AvgPerMtok     decimal.Decimal
	CacheSupported bool
}

// GetCheapestModel finds the cheapest model meeting a capability
// filter, ranked by the arithmetic mean of input/output price, per
// spec §4.6.
func (r *Router) GetCheapestModel(filter CapabilityFilter) (CheapestModel, bool) {
	var best CheapestModel
	found := false
	bestAvg := decimal.Zero

	for model, caps := range modelCapabilities {
		desc, ok := r.registry.LookupByModel(model)
		if !ok {
			continue
		}
		if len(filter.Providers) > 0 && !containsProvider(filter.Providers, desc.Provider) {
			continue
		}
		if filter.SupportsVision && !caps.Vision {
			continue
		}
		if filter.SupportsStreaming && !caps.Streaming {
			continue
		}
		if filter.SupportsFunctionCalling && !caps.FunctionCalling {
			continue
		}
		if filter.MinContextWindow > 0 && caps.ContextWindow < filter.MinContextWindow {
			continue
		}
		if filter.MinOutputTokens > 0 && caps.MaxOutputTokens < filter.MinOutputTokens {
			continue
		}

		avg := desc.InputPerMtok.Add(desc.OutputPerMtok).Div(decimal.NewFromInt(2))
		if !found || avg.LessThan(bestAvg) {
			found = true
			bestAvg = avg
			best = CheapestModel{
				Model:          model,
				Provider:       desc.Provider,
				InputPerMtok:   desc.InputPerMtok,
				OutputPerMtok:  desc.OutputPerMtok,
				AvgPerMtok:     avg,
				CacheSupported: desc.CacheReadPerMtok.IsPositive(),
			}
		}
	}

	return best, found
}

// FallbackDecision is GetFallbackModel's result.
type FallbackDecision struct {
	Model         string
	Provider      pricing.Provider
	IsFallback    bool
	OriginalModel string
	Generic       bool
}

// GetFallbackModel walks the model's declared fallback chain, then
// the generic fallback list, skipping anything in unavailable, per
// spec §4.6.
func (r *Router) GetFallbackModel(primaryModel string, unavailable []string) FallbackDecision {
	skip := make(map[string]bool, len(unavailable)+1)
	skip[primaryModel] = true
	for _, m := range unavailable {
		skip[m] = true
	}

	for _, candidate := range GetFallbackChain(primaryModel) {
		if skip[candidate] {
			continue
		}
		if desc, ok := r.registry.LookupByModel(candidate); ok {
			return FallbackDecision{Model: candidate, Provider: desc.Provider, IsFallback: true, OriginalModel: primaryModel}
		}
	}

	for _, candidate := range genericFallbacks {
		if skip[candidate] {
			continue
		}
		if desc, ok := r.registry.LookupByModel(candidate); ok {
			return FallbackDecision{Model: candidate, Provider: desc.Provider, IsFallback: true, OriginalModel: primaryModel, Generic: true}
		}
	}

	return FallbackDecision{Model: primaryModel, OriginalModel: primaryModel, IsFallback: false}
}

func containsProvider(list []pricing.Provider, p pricing.Provider) bool {
	for _, x := range list {
		if x == p {
			return true
		}
	}
	return false
}

// estimateTotalTokens is the rough length/4 estimate of
// smart_router.py's _estimate_total_tokens, operating on the
// projected Message/system-prompt shape.
func estimateTotalTokens(messages []Message, systemPrompt string) int64 {
	var total int64
	for _, m := range messages {
		total += int64(len(m.Content) / 4)
	}
	if systemPrompt != "" {
		total += int64(len(systemPrompt) / 4)
	}
	return total
}

// classifyTaskType is the keyword heuristic of
// smart_router.py's _classify_task_type.
func classifyTaskType(systemPrompt string, messageCount int) TaskType {
	s := strings.ToLower(systemPrompt)
	switch {
	case strings.Contains(s, "code") || strings.Contains(s, "programming"):
		return TaskCode
	case strings.Contains(s, "analyze") || strings.Contains(s, "analysis"):
		return TaskAnalysis
	case strings.Contains(s, "summarize") || strings.Contains(s, "summary"):
		return TaskSummarization
	case strings.Contains(s, "translate"):
		return TaskTranslation
	case messageCount <= 2:
		return TaskSimple
	default:
		return TaskGeneral
	}
}
