package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostBasic(t *testing.T) {
	desc := entry(ProviderAnthropic, "claude-opus-4-5", "15.00", "75.00", "18.75", "1.50")
	usage := Usage{InputTokens: 1_000_000, OutputTokens: 500_000}
	got := Cost(usage, desc)
	assert.Equal(t, "52.500000", got.StringFixed(6))
}

func TestCostZeroCacheFieldsTreatedAsZero(t *testing.T) {
	desc := entry(ProviderOpenAI, "gpt-4o", "2.50", "10.00", "0", "0")
	usage := Usage{InputTokens: 1000, OutputTokens: 1000, CacheCreateTokens: 1000, CacheReadTokens: 1000}
	got := Cost(usage, desc)
	// cache fields priced at 0 contribute nothing
	assert.Equal(t, "0.012500", got.StringFixed(6))
}

func TestCostIsAssociativeAcrossSplits(t *testing.T) {
	desc := entry(ProviderAnthropic, "claude-sonnet-4-5", "3.00", "15.00", "3.75", "0.30")
	whole := Cost(Usage{InputTokens: 10_000, OutputTokens: 4_000}, desc)

	split1 := Cost(Usage{InputTokens: 6_000, OutputTokens: 2_500}, desc)
	split2 := Cost(Usage{InputTokens: 4_000, OutputTokens: 1_500}, desc)

	assert.True(t, whole.Equal(split1.Add(split2)))
}

func TestCostBatchDiscount(t *testing.T) {
	desc := entry(ProviderOpenAI, "gpt-4o", "2.50", "10.00", "0", "0")
	usage := Usage{InputTokens: 1_000_000, OutputTokens: 0, Batch: true}
	got := Cost(usage, desc)
	assert.Equal(t, "1.250000", got.StringFixed(6)) // 50% batch discount
}
