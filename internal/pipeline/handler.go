package pipeline

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amerfu/proxyd/internal/auth"
	"github.com/amerfu/proxyd/internal/budget"
	"github.com/amerfu/proxyd/internal/journal"
	"github.com/amerfu/proxyd/internal/pricing"
	"github.com/amerfu/proxyd/internal/security"
	"github.com/amerfu/proxyd/internal/services/providers"
)

const maxBodyBytes = 16 << 20 // 16MB inbound cap; pass-through bodies are small chat payloads

// ServeAnthropicMessages implements POST /v1/messages.
func (p *Pipeline) ServeAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	p.handle(w, r, ShapeAnthropic, "/v1/messages")
}

// ServeChatCompletions implements POST /v1/chat/completions.
func (p *Pipeline) ServeChatCompletions(w http.ResponseWriter, r *http.Request) {
	p.handle(w, r, ShapeOpenAI, "/v1/chat/completions")
}

// handle runs spec §4.10's twelve-step sequence for one inbound
// request.
func (p *Pipeline) handle(w http.ResponseWriter, r *http.Request, shape Shape, upstreamPath string) {
	requestID := uuid.NewString()
	startTime := time.Now()
	w.Header().Set("x-acc-request-id", requestID)

	// Step 1/2: authenticate.
	principal, err := p.auth.Authenticate(r.Context(), r.Header)
	if err != nil {
		p.rejectAuth(w, err)
		return
	}
	userID := principal.UserID.String()

	// Step 3: decode body. Raw bytes are retained for pass-through
	// forwarding (spec §6 "passed through unchanged modulo possible
	// model substitution").
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, kindProxyError, "could not read request body", nil)
		return
	}
	decoded := decodeRequest(shape, body)
	if decoded.Model == "" {
		writeError(w, http.StatusBadRequest, kindProxyError, "request body missing model", nil)
		return
	}

	desc, ok := p.registry.LookupByModel(decoded.Model)
	if !ok {
		writeError(w, http.StatusBadRequest, kindProxyError, "unknown model: "+decoded.Model, nil)
		return
	}
	originalModel := decoded.Model
	provider := desc.Provider

	// Step 4/5: fixed conservative cost estimate and budget pre-check
	// (spec §4.10 step 4 — not C3's token estimate, which is never
	// used for billing).
	decision, _ := p.budgetEng.CheckBudget(r.Context(), userID, principal.AgentID, decoded.Model, p.preflightEstimateUSD)
	switch decision.Kind {
	case budget.DecisionBlock:
		p.journalBlocked(requestID, principal, provider, originalModel, upstreamPath, http.StatusTooManyRequests, startTime)
		writeError(w, http.StatusTooManyRequests, kindBudgetExceeded, "budget exceeded: "+decision.BudgetName, map[string]any{
			"budget_name": decision.BudgetName,
			"remaining":   decision.Remaining.String(),
		})
		return
	case budget.DecisionDowngrade:
		decoded.Model = decision.TargetModel
		if d2, ok := p.registry.LookupByModel(decoded.Model); ok {
			provider = d2.Provider
			desc = d2
		}
		if nb, err := substituteModel(body, decoded.Model); err == nil {
			body = nb
		}
	case budget.DecisionWarn:
		w.Header().Set("x-acc-budget-status", "warning")
	}

	// Step 6: route (Smart Router may substitute provider/model again).
	route := p.router.Route(r.Context(), userID, principal.AgentID, decoded.Model, toSmartMessages(decoded.Messages), decoded.System)
	if route.TargetModel != decoded.Model {
		if nb, err := substituteModel(body, route.TargetModel); err == nil {
			body = nb
		}
		decoded.Model = route.TargetModel
		provider = route.TargetProvider
		if d2, ok := p.registry.LookupByModel(decoded.Model); ok {
			desc = d2
		}
	}
	effectiveModel := decoded.Model

	// Step 7: request-side security analysis.
	agentID := ""
	if principal.AgentID != nil {
		agentID = *principal.AgentID
	}
	reqSummary := p.security.AnalyzeRequest(r.Context(), agentID, security.RequestData{
		AgentID:  agentID,
		Model:    effectiveModel,
		System:   decoded.System,
		Messages: decoded.Messages,
	})
	if reqSummary.HasAction(security.ActionBlock) {
		p.journalBlocked(requestID, principal, provider, originalModel, upstreamPath, http.StatusForbidden, startTime)
		writeError(w, http.StatusForbidden, kindSecurityViolation, "request blocked by security policy", securityDetails(reqSummary))
		return
	}

	credential := extractUpstreamCredential(shape, r.Header)

	if decoded.Stream {
		p.forwardStreaming(r.Context(), w, requestID, principal, provider, originalModel, effectiveModel, upstreamPath, credential, body, desc, startTime, agentID, decoded.Messages)
		return
	}
	p.forwardUnary(r.Context(), w, requestID, principal, provider, originalModel, effectiveModel, upstreamPath, credential, body, desc, startTime, agentID)
}

func (p *Pipeline) rejectAuth(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, kindMissingAPIKey, "no credential presented", nil)
	default:
		writeError(w, http.StatusForbidden, kindInvalidAPIKey, "credential rejected", nil)
	}
}

func securityDetails(summary *security.DetectionSummary) map[string]any {
	threats := make([]string, 0, len(summary.ThreatTypes))
	for t := range summary.ThreatTypes {
		threats = append(threats, string(t))
	}
	return map[string]any{
		"threat_types":  threats,
		"max_severity":  string(summary.MaxSeverity),
	}
}

// extractUpstreamCredential pulls the caller's own upstream provider
// credential for pass-through, per spec §6: anthropic-shape requests
// carry it in x-api-key/anthropic-api-key (since Authorization/
// x-acc-api-key already carry the proxy's own acc_ key), openai-shape
// requests carry it in Authorization directly.
func extractUpstreamCredential(shape Shape, h http.Header) string {
	if shape == ShapeAnthropic {
		if k := h.Get("x-api-key"); k != "" {
			return k
		}
		return h.Get("anthropic-api-key")
	}
	auth := h.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

func (p *Pipeline) journalBlocked(requestID string, principal *auth.Principal, provider pricing.Provider, model, endpoint string, status int, start time.Time) {
	rec := &journal.Record{
		RequestID:      requestID,
		UserID:         principal.UserID,
		Provider:       string(provider),
		ModelOriginal:  model,
		ModelEffective: model,
		Endpoint:       endpoint,
		StatusCode:     status,
		LatencyMS:      time.Since(start).Milliseconds(),
		StartTime:      start,
	}
	if principal.AgentID != nil {
		rec.AgentID = *principal.AgentID
	}
	p.journalW.Record(rec)
}

// classifyForwardErr maps a providers.ForwardError to the client
// status spec §7 assigns upstream transport failures.
func classifyForwardErr(err error) (int, errorKind) {
	if errors.Is(err, providers.ErrCircuitOpen) {
		return http.StatusServiceUnavailable, kindCircuitOpen
	}
	var fe *providers.ForwardError
	if errors.As(err, &fe) && fe.Class == providers.FailureTimeout {
		return http.StatusGatewayTimeout, kindTimeout
	}
	return http.StatusBadGateway, kindUpstreamError
}

