// Package tokenmeter estimates and extracts token counts for the
// Budget Engine's pre-flight checks and the Cost Calculator's
// authoritative billing input (spec §4.3).
package tokenmeter

import (
	"github.com/tidwall/gjson"

	"github.com/amerfu/proxyd/internal/pricing"
)

// EstimateInput returns a pre-flight estimate of input tokens from the
// raw message text, never used for billing itself (spec §4.3). The
// formula matches an OpenAI-shape cl100k_base-equivalent approximation
// for openai/deepseek/groq/mistral, and a bytes-based approximation
// for anthropic (x1.1) and google (x1.05), mirroring
// original_source's token_counter.py estimate() for each provider
// family.
func EstimateInput(provider pricing.Provider, text string) int64 {
	n := len(text)
	switch provider {
	case pricing.ProviderAnthropic:
		return int64(float64(n) / 4 * 1.1)
	case pricing.ProviderGoogle, pricing.ProviderVertex:
		return int64(float64(n) / 4 * 1.05)
	default:
		return int64(n / 4)
	}
}

// Extract pulls the authoritative usage out of a unary (non-streaming)
// upstream JSON response body, per the field-name matrix in spec
// §4.3. Missing fields are treated as zero.
func Extract(provider pricing.Provider, body []byte) pricing.Usage {
	switch provider {
	case pricing.ProviderAnthropic:
		return pricing.Usage{
			InputTokens:       gjson.GetBytes(body, "usage.input_tokens").Int(),
			OutputTokens:      gjson.GetBytes(body, "usage.output_tokens").Int(),
			CacheCreateTokens: gjson.GetBytes(body, "usage.cache_creation_input_tokens").Int(),
			CacheReadTokens:   gjson.GetBytes(body, "usage.cache_read_input_tokens").Int(),
		}
	case pricing.ProviderGoogle, pricing.ProviderVertex:
		return pricing.Usage{
			InputTokens:     gjson.GetBytes(body, "usageMetadata.promptTokenCount").Int(),
			OutputTokens:    gjson.GetBytes(body, "usageMetadata.candidatesTokenCount").Int(),
			CacheReadTokens: gjson.GetBytes(body, "usageMetadata.cachedContentTokenCount").Int(),
		}
	default: // openai, deepseek, groq, mistral, and OpenAI-shape providers generally
		return pricing.Usage{
			InputTokens:     gjson.GetBytes(body, "usage.prompt_tokens").Int(),
			OutputTokens:    gjson.GetBytes(body, "usage.completion_tokens").Int(),
			CacheReadTokens: gjson.GetBytes(body, "usage.prompt_tokens_details.cached_tokens").Int(),
		}
	}
}

// BillingQuality flags whether a Usage came from an authoritative
// upstream field or an estimate, threaded onto the Journal Record per
// SPEC_FULL's Open-Question resolution #3.
type BillingQuality string

const (
	BillingQualityAuthoritative BillingQuality = "authoritative"
	BillingQualityEstimated     BillingQuality = "estimated"
)
