package smart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthTrackerOpensCircuitOnRepeatedFailure(t *testing.T) {
	h := NewHealthTracker()
	for i := 0; i < 11; i++ {
		h.RecordFailure("gpt-4o")
	}
	assert.False(t, h.IsAvailable("gpt-4o"))
}

func TestHealthTrackerHalfOpenAfterRetryWindow(t *testing.T) {
	h := NewHealthTracker()
	for i := 0; i < 11; i++ {
		h.RecordFailure("gpt-4o")
	}
	mh := h.healthFor("gpt-4o")
	mh.mu.Lock()
	mh.lastFailureTime = time.Now().Add(-circuitRetryWindow - time.Second)
	mh.mu.Unlock()

	assert.True(t, h.IsAvailable("gpt-4o"))
}

func TestGetFallbackModelHealthySkipsUnhealthy(t *testing.T) {
	router := New(&fakeRuleRepo{}, testRegistry(), nil)
	health := NewHealthTracker()
	for i := 0; i < 11; i++ {
		health.RecordFailure("gpt-4o-2024-11-20")
		health.RecordFailure("gpt-4o-mini")
	}

	d := router.GetFallbackModelHealthy("gpt-4o", nil, health)
	assert.True(t, d.IsFallback)
	assert.Equal(t, "claude-sonnet-4-5", d.Model)
}
