package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/amerfu/proxyd/internal/auth"
	"github.com/amerfu/proxyd/internal/journal"
	"github.com/amerfu/proxyd/internal/pricing"
	"github.com/amerfu/proxyd/internal/security"
)

// forwardUnary implements steps 8-12 of spec §4.10 for a non-streaming
// request: forward, extract authoritative usage, compute cost, debit,
// journal, attach response headers.
func (p *Pipeline) forwardUnary(
	ctx context.Context,
	w http.ResponseWriter,
	requestID string,
	principal *auth.Principal,
	provider pricing.Provider,
	originalModel, effectiveModel, upstreamPath, credential string,
	body []byte,
	desc pricing.ModelDescriptor,
	startTime time.Time,
	agentID string,
) {
	resp, err := p.forwarder.Forward(ctx, string(provider), http.MethodPost, upstreamPath, credential, bytes.NewReader(body), false)
	if err != nil {
		status, kind := classifyForwardErr(err)
		p.journalForwardFailure(requestID, principal, provider, originalModel, effectiveModel, upstreamPath, status, startTime, agentID)
		writeError(w, status, kind, "upstream call failed", nil)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logger.Warn("pipeline: reading upstream response failed", zap.String("request_id", requestID), zap.Error(err))
		writeError(w, http.StatusBadGateway, kindUpstreamError, "could not read upstream response", nil)
		return
	}

	// Non-2xx upstream responses are passed through as-is, not treated
	// as a Go error (spec §4.9), but still cost/journal-accounted since
	// tokens may have been consumed before the provider errored.
	usage, quality := p.extractUsage(provider, respBody)
	cost := pricing.Cost(usage, desc)
	p.budgetEng.Debit(ctx, principal.UserID.String(), principal.AgentID, effectiveModel, cost)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.security.AnalyzeResponse(ctx, agentID, security.ResponseData{
			AgentID:      agentID,
			Content:      string(respBody),
			SizeBytes:    len(respBody),
			OutputTokens: int(usage.OutputTokens),
		})
	}

	latency := time.Since(startTime)
	p.journalW.Record(&journal.Record{
		RequestID:      requestID,
		UserID:         principal.UserID,
		AgentID:        agentID,
		Provider:       string(provider),
		ModelOriginal:  originalModel,
		ModelEffective: effectiveModel,
		Endpoint:       upstreamPath,
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		CacheTokens:    usage.CacheCreateTokens + usage.CacheReadTokens,
		CostUSD:        cost,
		LatencyMS:      latency.Milliseconds(),
		StatusCode:     resp.StatusCode,
		Streaming:      false,
		BillingQuality: string(quality),
		StartTime:      startTime,
	})

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("x-acc-cost", cost.String())
	w.Header().Set("x-acc-tokens-input", strconv.FormatInt(usage.InputTokens, 10))
	w.Header().Set("x-acc-tokens-output", strconv.FormatInt(usage.OutputTokens, 10))
	w.Header().Set("x-acc-model-used", effectiveModel)
	w.Header().Set("x-acc-latency-ms", strconv.FormatInt(latency.Milliseconds(), 10))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

func (p *Pipeline) journalForwardFailure(requestID string, principal *auth.Principal, provider pricing.Provider, originalModel, effectiveModel, endpoint string, status int, start time.Time, agentID string) {
	p.journalW.Record(&journal.Record{
		RequestID:      requestID,
		UserID:         principal.UserID,
		AgentID:        agentID,
		Provider:       string(provider),
		ModelOriginal:  originalModel,
		ModelEffective: effectiveModel,
		Endpoint:       endpoint,
		StatusCode:     status,
		LatencyMS:      time.Since(start).Milliseconds(),
		StartTime:      start,
	})
}
