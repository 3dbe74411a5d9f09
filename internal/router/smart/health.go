package smart

import (
	"math"
	"sort"
	"sync"
	"time"
)

// modelHealth tracks a model's rolling latency/error performance,
// adapted from the teacher's internal/services/loadbalancer/
// adaptive_balancer.go ModelHealth for use as the availability signal
// behind fallback-chain walking (spec §4.6).
type modelHealth struct {
	mu sync.RWMutex

	responseTimes []time.Duration
	avgLatency    time.Duration

	activeRequests  int32
	totalRequests   int64
	failedRequests  int64

	healthScore float64 // 0-100

	isCircuitOpen   bool
	lastFailureTime time.Time
}

const (
	circuitRetryWindow = 30 * time.Second
	healthWindowSize   = 100
)

// HealthTracker is the Smart Router's availability signal: per-model
// health scores and circuit-breaker state, consulted before a model
// is offered as a fallback candidate.
type HealthTracker struct {
	mu     sync.RWMutex
	models map[string]*modelHealth
}

// NewHealthTracker builds an empty HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{models: make(map[string]*modelHealth)}
}

func (t *HealthTracker) healthFor(model string) *modelHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.models[model]
	if !ok {
		h = &modelHealth{healthScore: 100.0}
		t.models[model] = h
	}
	return h
}

// RecordSuccess registers a completed call's latency.
func (t *HealthTracker) RecordSuccess(model string, latency time.Duration) {
	h := t.healthFor(model)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	if len(h.responseTimes) >= healthWindowSize {
		h.responseTimes = h.responseTimes[1:]
	}
	h.responseTimes = append(h.responseTimes, latency)
	h.avgLatency = average(h.responseTimes)
	h.healthScore = math.Min(100, h.healthScore*1.01)
}

// RecordFailure registers a failed call and may open the circuit.
func (t *HealthTracker) RecordFailure(model string) {
	h := t.healthFor(model)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	h.failedRequests++
	h.lastFailureTime = time.Now()
	h.healthScore *= 0.9
	if h.healthScore < 0 {
		h.healthScore = 0
	}

	if h.totalRequests > 10 && float64(h.failedRequests)/float64(h.totalRequests) > 0.5 {
		h.isCircuitOpen = true
	}
}

// IsAvailable reports whether a model can be offered as a fallback
// candidate. While its circuit is open it is unavailable until the
// retry window (same 30s half-open rule as adaptive_balancer.go) has
// passed; the first check after that closes the circuit and allows a
// retry. Otherwise it is available while its health score is at least
// 50.
func (t *HealthTracker) IsAvailable(model string) bool {
	h := t.healthFor(model)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isCircuitOpen {
		if time.Since(h.lastFailureTime) < circuitRetryWindow {
			return false
		}
		h.isCircuitOpen = false // half-open: allow a retry
		return true
	}
	return h.healthScore >= 50
}

func average(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}

// GetFallbackModelHealthy is GetFallbackModel filtered through a
// HealthTracker: unavailable models (open circuit, collapsed health)
// are treated the same as explicitly unavailable ones.
func (r *Router) GetFallbackModelHealthy(primaryModel string, unavailable []string, health *HealthTracker) FallbackDecision {
	if health == nil {
		return r.GetFallbackModel(primaryModel, unavailable)
	}

	excluded := append([]string(nil), unavailable...)
	for _, candidate := range append([]string{primaryModel}, GetFallbackChain(primaryModel)...) {
		if !health.IsAvailable(candidate) {
			excluded = append(excluded, candidate)
		}
	}
	sort.Strings(excluded) // deterministic for tests; GetFallbackModel only needs set membership

	return r.GetFallbackModel(primaryModel, excluded)
}
