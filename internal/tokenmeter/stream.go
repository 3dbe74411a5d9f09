package tokenmeter

import (
	"github.com/tidwall/gjson"

	"github.com/amerfu/proxyd/internal/pricing"
)

// StreamAccumulator tracks usage across SSE chunks for a single
// stream session. Anthropic carries authoritative input tokens on the
// message_start event and authoritative output tokens on the final
// message_delta event; OpenAI carries a cumulative usage object only
// on a trailing chunk when the client set stream_options.include_usage,
// otherwise output tokens are estimated from accumulated characters
// (spec §4.3 "Streaming extraction").
type StreamAccumulator struct {
	provider         pricing.Provider
	usage            pricing.Usage
	quality          BillingQuality
	accumulatedChars int
}

// NewStreamAccumulator starts a fresh accumulator for the given
// provider.
func NewStreamAccumulator(provider pricing.Provider) *StreamAccumulator {
	return &StreamAccumulator{provider: provider, quality: BillingQualityEstimated}
}

// Ingest feeds one decoded SSE "data:" payload (the JSON after the
// "data: " prefix, with the [DONE] terminator already filtered by the
// caller) into the accumulator.
func (a *StreamAccumulator) Ingest(chunkText string, payload []byte) {
	a.accumulatedChars += len(chunkText)

	switch a.provider {
	case pricing.ProviderAnthropic:
		switch gjson.GetBytes(payload, "type").String() {
		case "message_start":
			a.usage.InputTokens = gjson.GetBytes(payload, "message.usage.input_tokens").Int()
			a.usage.CacheCreateTokens = gjson.GetBytes(payload, "message.usage.cache_creation_input_tokens").Int()
			a.usage.CacheReadTokens = gjson.GetBytes(payload, "message.usage.cache_read_input_tokens").Int()
		case "message_delta":
			if out := gjson.GetBytes(payload, "usage.output_tokens"); out.Exists() {
				a.usage.OutputTokens = out.Int()
				a.quality = BillingQualityAuthoritative
			}
		}
	default: // openai-shape providers
		if usage := gjson.GetBytes(payload, "usage"); usage.Exists() && usage.Get("completion_tokens").Exists() {
			a.usage.InputTokens = usage.Get("prompt_tokens").Int()
			a.usage.OutputTokens = usage.Get("completion_tokens").Int()
			a.usage.CacheReadTokens = usage.Get("prompt_tokens_details.cached_tokens").Int()
			a.quality = BillingQualityAuthoritative
		}
	}
}

// Finish returns the accumulated usage and its billing quality. When
// no authoritative output-token count was ever observed, the output
// count is estimated from accumulated characters (§4.3) and the
// quality is reported as estimated.
func (a *StreamAccumulator) Finish() (pricing.Usage, BillingQuality) {
	if a.quality == BillingQualityEstimated && a.usage.OutputTokens == 0 && a.accumulatedChars > 0 {
		a.usage.OutputTokens = int64(a.accumulatedChars / 4)
	}
	return a.usage, a.quality
}
