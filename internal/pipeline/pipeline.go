// Package pipeline implements the Request Pipeline (C10): a single
// explicit orchestrator invoking every other component in the fixed
// order spec.md §4.10 specifies, constructed once at boot rather than
// wired as a per-request dynamic middleware chain (spec.md §9's
// redesign note — the teacher instead builds its chain implicitly via
// chi middleware in internal/router/router.go).
package pipeline

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amerfu/proxyd/internal/auth"
	"github.com/amerfu/proxyd/internal/budget"
	"github.com/amerfu/proxyd/internal/config"
	"github.com/amerfu/proxyd/internal/journal"
	"github.com/amerfu/proxyd/internal/pricing"
	"github.com/amerfu/proxyd/internal/router/smart"
	"github.com/amerfu/proxyd/internal/security"
	"github.com/amerfu/proxyd/internal/services/providers"
	"github.com/amerfu/proxyd/internal/stream"
	"github.com/amerfu/proxyd/internal/tokenmeter"
)

// defaultPreflightEstimateUSD is the fallback used when
// BudgetConfig.PreflightEstimateUSD is left at its zero value, per
// spec §4.10 step 4's "e.g. $0.10".
const defaultPreflightEstimateUSD = "0.10"

// Pipeline wires C1-C9 and C11 into the twelve-step sequence of spec
// §4.10. One instance is constructed at boot and shared across every
// inbound request.
type Pipeline struct {
	auth        *auth.Authenticator
	router      *smart.Router
	budgetEng   *budget.Engine
	security    *security.Engine
	registry    *pricing.Registry
	forwarder   *providers.Forwarder
	interceptor *stream.Interceptor
	journalW    *journal.Writer
	logger      *zap.Logger

	// preflightEstimateUSD is the fixed conservative cost CheckBudget
	// consults at step 4/5, per spec §4.10 and SPEC_FULL's Open
	// Question resolution #2 — not derived from C3's token estimate,
	// which spec §4.3 says is "never used for billing".
	preflightEstimateUSD decimal.Decimal
}

// New builds a Pipeline from its collaborators.
func New(
	authenticator *auth.Authenticator,
	router *smart.Router,
	budgetEng *budget.Engine,
	securityEng *security.Engine,
	registry *pricing.Registry,
	forwarder *providers.Forwarder,
	interceptor *stream.Interceptor,
	journalW *journal.Writer,
	budgetCfg config.BudgetConfig,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	estimate := decimal.NewFromFloat(budgetCfg.PreflightEstimateUSD)
	if estimate.IsZero() {
		estimate = decimal.RequireFromString(defaultPreflightEstimateUSD)
	}
	return &Pipeline{
		auth:                 authenticator,
		router:               router,
		budgetEng:            budgetEng,
		security:             securityEng,
		registry:             registry,
		forwarder:            forwarder,
		interceptor:          interceptor,
		journalW:             journalW,
		logger:               logger,
		preflightEstimateUSD: estimate,
	}
}

// extractUsage pulls authoritative usage from a completed unary
// response body (step 9). When the provider's usage fields are absent
// (both counts zero), it returns those zero counts marked estimated; no
// token count is estimated from the request or the response text.
func (p *Pipeline) extractUsage(provider pricing.Provider, body []byte) (pricing.Usage, tokenmeter.BillingQuality) {
	usage := tokenmeter.Extract(provider, body)
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		return usage, tokenmeter.BillingQualityEstimated
	}
	return usage, tokenmeter.BillingQualityAuthoritative
}

// Stop flushes the Journal Writer so a graceful shutdown does not lose
// an already-accepted Record.
func (p *Pipeline) Stop() {
	p.journalW.Stop()
}
