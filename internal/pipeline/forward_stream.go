package pipeline

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/amerfu/proxyd/internal/auth"
	"github.com/amerfu/proxyd/internal/journal"
	"github.com/amerfu/proxyd/internal/pricing"
	"github.com/amerfu/proxyd/internal/security"
	"github.com/amerfu/proxyd/internal/services/providers"
	"github.com/amerfu/proxyd/internal/tokenmeter"
)

// forwardStreaming implements steps 8-12 of spec §4.10 for a streaming
// request: forward, wrap the decoded SSE chunks in the Stream
// Interceptor (C8) for mid-stream re-analysis, forward each chunk to
// the client as it arrives, then account/journal once the stream ends.
//
// Final cost/token headers cannot be known until the stream completes,
// so they are emitted as HTTP trailers (spec §4.10 step 12 adapted for
// the streaming case — a unary response attaches them as ordinary
// headers in forwardUnary).
func (p *Pipeline) forwardStreaming(
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
	messages []security.MessagePart,
) {
	resp, err := p.forwarder.Forward(ctx, string(provider), http.MethodPost, upstreamPath, credential, bytes.NewReader(body), true)
	if err != nil {
		status, kind := classifyForwardErr(err)
		p.journalForwardFailure(requestID, principal, provider, originalModel, effectiveModel, upstreamPath, status, startTime, agentID)
		writeError(w, status, kind, "upstream call failed", nil)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
		w.WriteHeader(resp.StatusCode)
		buf := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				_, _ = w.Write(buf[:n])
			}
			if rerr != nil {
				break
			}
		}
		p.journalForwardFailure(requestID, principal, provider, originalModel, effectiveModel, upstreamPath, resp.StatusCode, startTime, agentID)
		return
	}

	session := p.interceptor.Start(requestID, agentID, effectiveModel, string(provider), messages)
	defer p.interceptor.End(requestID)

	upstream := providers.DecodeSSE(ctx, resp.Body)
	wrapped := p.interceptor.Intercept(ctx, session, upstream)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(http.TrailerPrefix+"x-acc-cost", "")
	w.Header().Set(http.TrailerPrefix+"x-acc-tokens-input", "")
	w.Header().Set(http.TrailerPrefix+"x-acc-tokens-output", "")
	w.Header().Set(http.TrailerPrefix+"x-acc-model-used", "")
	w.Header().Set(http.TrailerPrefix+"x-acc-latency-ms", "")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	acc := tokenmeter.NewStreamAccumulator(provider)
	for c := range wrapped {
		acc.Ingest(c.DeltaText, c.Payload)
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(c.Raw)
		_, _ = w.Write([]byte("\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}

	usage, quality := acc.Finish()
	cost := pricing.Cost(usage, desc)
	p.budgetEng.Debit(context.Background(), principal.UserID.String(), principal.AgentID, effectiveModel, cost)

	if text := session.AccumulatedText(); text != "" {
		p.security.AnalyzeResponse(context.Background(), agentID, security.ResponseData{
			AgentID:      agentID,
			Content:      text,
			OutputTokens: int(usage.OutputTokens),
		})
	}

	latency := time.Since(startTime)
	// The client already received a 200 and a partial body; a
	// mid-stream kill is recorded via Streaming/state, not a different
	// status code (none could be sent after headers went out).
	statusCode := http.StatusOK

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
		StatusCode:     statusCode,
		Streaming:      true,
		BillingQuality: string(quality),
		StartTime:      startTime,
	})

	w.Header().Set("x-acc-cost", cost.String())
	w.Header().Set("x-acc-tokens-input", strconv.FormatInt(usage.InputTokens, 10))
	w.Header().Set("x-acc-tokens-output", strconv.FormatInt(usage.OutputTokens, 10))
	w.Header().Set("x-acc-model-used", effectiveModel)
	w.Header().Set("x-acc-latency-ms", strconv.FormatInt(latency.Milliseconds(), 10))
	for _, k := range []string{"x-acc-cost", "x-acc-tokens-input", "x-acc-tokens-output", "x-acc-model-used", "x-acc-latency-ms"} {
		w.Header().Set(http.TrailerPrefix+k, w.Header().Get(k))
	}
	p.logger.Debug("pipeline: stream completed", zap.String("request_id", requestID), zap.String("state", string(session.State())))
}
