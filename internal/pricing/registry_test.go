package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amerfu/proxyd/internal/config"
)

func testRegistry() *Registry {
	return NewRegistry(nil, config.PricingConfig{
		DefaultInputPerMtok:  1.0,
		DefaultOutputPerMtok: 2.0,
	}, nil)
}

func TestLookupExactMatch(t *testing.T) {
	r := testRegistry()
	d, err := r.Lookup(context.Background(), ProviderAnthropic, "claude-opus-4-5", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "15", d.InputPerMtok.String())
	assert.Equal(t, "75", d.OutputPerMtok.String())
}

func TestLookupThreeSegmentPrefixFallback(t *testing.T) {
	r := testRegistry()
	// claude-sonnet-4-5-20250915 isn't in the table verbatim, but its
	// first three segments (claude-sonnet-4) match claude-sonnet-4-5's
	// prefix rule per spec §4.1.
	d, err := r.Lookup(context.Background(), ProviderAnthropic, "claude-sonnet-4-5-20250915", time.Now())
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, d.Provider)
	assert.Equal(t, "3", d.InputPerMtok.String())
}

func TestLookupSyntheticDefault(t *testing.T) {
	r := testRegistry()
	d, err := r.Lookup(context.Background(), ProviderQwen, "some-unknown-model-xyz", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "1", d.InputPerMtok.String())
	assert.Equal(t, "2", d.OutputPerMtok.String())
}

func TestProviderBaseURLKnown(t *testing.T) {
	url, ok := ProviderBaseURL(ProviderAnthropic)
	require.True(t, ok)
	assert.Equal(t, "https://api.anthropic.com", url)
}
