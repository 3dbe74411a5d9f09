package tokenmeter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amerfu/proxyd/internal/pricing"
)

func TestExtractAnthropic(t *testing.T) {
	body := []byte(`{"usage":{"input_tokens":120,"output_tokens":45,"cache_creation_input_tokens":10,"cache_read_input_tokens":5}}`)
	u := Extract(pricing.ProviderAnthropic, body)
	assert.Equal(t, int64(120), u.InputTokens)
	assert.Equal(t, int64(45), u.OutputTokens)
	assert.Equal(t, int64(10), u.CacheCreateTokens)
	assert.Equal(t, int64(5), u.CacheReadTokens)
}

func TestExtractOpenAIShape(t *testing.T) {
	body := []byte(`{"usage":{"prompt_tokens":200,"completion_tokens":80,"prompt_tokens_details":{"cached_tokens":30}}}`)
	u := Extract(pricing.ProviderOpenAI, body)
	assert.Equal(t, int64(200), u.InputTokens)
	assert.Equal(t, int64(80), u.OutputTokens)
	assert.Equal(t, int64(30), u.CacheReadTokens)
}

func TestExtractGoogle(t *testing.T) {
	body := []byte(`{"usageMetadata":{"promptTokenCount":50,"candidatesTokenCount":20,"cachedContentTokenCount":0}}`)
	u := Extract(pricing.ProviderGoogle, body)
	assert.Equal(t, int64(50), u.InputTokens)
	assert.Equal(t, int64(20), u.OutputTokens)
}

func TestStreamAccumulatorAnthropic(t *testing.T) {
	acc := NewStreamAccumulator(pricing.ProviderAnthropic)
	acc.Ingest("", []byte(`{"type":"message_start","message":{"usage":{"input_tokens":100}}}`))
	acc.Ingest("hello", []byte(`{"type":"content_block_delta"}`))
	acc.Ingest("", []byte(`{"type":"message_delta","usage":{"output_tokens":42}}`))

	usage, quality := acc.Finish()
	assert.Equal(t, int64(100), usage.InputTokens)
	assert.Equal(t, int64(42), usage.OutputTokens)
	assert.Equal(t, BillingQualityAuthoritative, quality)
}

func TestStreamAccumulatorOpenAIFallsBackToEstimate(t *testing.T) {
	acc := NewStreamAccumulator(pricing.ProviderOpenAI)
	acc.Ingest("abcd", []byte(`{"choices":[{"delta":{"content":"abcd"}}]}`))
	acc.Ingest("efgh", []byte(`{"choices":[{"delta":{"content":"efgh"}}]}`))

	usage, quality := acc.Finish()
	assert.Equal(t, BillingQualityEstimated, quality)
	assert.Equal(t, int64(2), usage.OutputTokens) // 8 chars / 4
}
