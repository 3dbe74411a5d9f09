package detectors

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amerfu/proxyd/internal/security"
)

const (
	anomalyWindow          = 5 * time.Minute
	anomalyMinSamples      = 10
	anomalyCriticalZ       = 4.0
	anomalyHighZ           = 3.0
	maxTokenIncreaseFactor = 5.0
	maxRequestSizeFactor   = 10.0
)

// metricWindow is a time-bounded sliding window used for z-score
// anomaly checks, grounded on anomaly.py's MetricWindow.
type metricWindow struct {
	values     []float64
	timestamps []time.Time
}

func (w *metricWindow) add(now time.Time, value float64) {
	w.values = append(w.values, value)
	w.timestamps = append(w.timestamps, now)
	cutoff := now.Add(-anomalyWindow)
	i := 0
	for i < len(w.timestamps) && w.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.values = w.values[i:]
		w.timestamps = w.timestamps[i:]
	}
}

func (w *metricWindow) stats() (mean, stddev float64, count int) {
	count = len(w.values)
	if count == 0 {
		return 0, 0, 0
	}
	sum := 0.0
	for _, v := range w.values {
		sum += v
	}
	mean = sum / float64(count)
	if count < 2 {
		return mean, 0, count
	}
	variance := 0.0
	for _, v := range w.values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(count - 1)
	return mean, math.Sqrt(variance), count
}

type agentMetrics struct {
	mu sync.Mutex

	inputTokens   metricWindow
	outputTokens  metricWindow
	requestSizes  metricWindow
	responseSizes metricWindow

	modelsUsed   map[string]int
	requestCount int
	errorCount   int
}

// Anomaly is a sync detector running z-score based behavioral
// analysis over per-agent sliding windows, per spec §4.7 #6,
// grounded on
// original_source/proxy/app/security/detectors/anomaly.py.
type Anomaly struct {
	enabled bool
	mu      sync.Mutex
	agents  map[string]*agentMetrics
	now     func() time.Time
}

// NewAnomaly builds an enabled Anomaly detector.
func NewAnomaly() *Anomaly {
	return &Anomaly{enabled: true, agents: map[string]*agentMetrics{}, now: time.Now}
}

func (d *Anomaly) Name() string  { return "anomaly_detector" }
func (d *Anomaly) Enabled() bool { return d.enabled }

func (d *Anomaly) metricsFor(key string) *agentMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.agents[key]
	if !ok {
		m = &agentMetrics{modelsUsed: map[string]int{}}
		d.agents[key] = m
	}
	return m
}

// ResetAgent clears tracking for an agent.
func (d *Anomaly) ResetAgent(agentKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.agents, agentKey)
}

func (d *Anomaly) DetectRequest(data security.RequestData) []security.DetectionResult {
	if data.AgentID == "" {
		return nil
	}
	m := d.metricsFor(data.AgentID)
	now := d.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestCount++
	model := data.Model
	if model == "" {
		model = "unknown"
	}
	m.modelsUsed[model]++

	requestSize := len(data.System)
	for _, msg := range data.Messages {
		requestSize += len(msg.Content)
	}

	var results []security.DetectionResult
	if r := checkRequestSize(&m.requestSizes, requestSize); r != nil {
		results = append(results, *r)
	}
	m.requestSizes.add(now, float64(requestSize))

	inputTokens := estimateTokensFromText(data.System, data.Messages)
	if r := checkInputTokens(&m.inputTokens, inputTokens); r != nil {
		results = append(results, *r)
	}
	m.inputTokens.add(now, float64(inputTokens))

	if r := checkModelSwitching(m.modelsUsed, m.requestCount); r != nil {
		results = append(results, *r)
	}

	return results
}

func (d *Anomaly) DetectResponse(data security.ResponseData) []security.DetectionResult {
	if data.AgentID == "" {
		return nil
	}
	m := d.metricsFor(data.AgentID)
	now := d.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var results []security.DetectionResult
	if r := checkResponseSize(&m.responseSizes, data.SizeBytes); r != nil {
		results = append(results, *r)
	}
	m.responseSizes.add(now, float64(data.SizeBytes))

	if data.OutputTokens > 0 {
		if r := checkOutputTokens(&m.outputTokens, data.OutputTokens); r != nil {
			results = append(results, *r)
		}
		m.outputTokens.add(now, float64(data.OutputTokens))
	}

	if data.Error {
		m.errorCount++
		errorRate := float64(m.errorCount) / float64(maxInt(m.requestCount, 1))
		if errorRate > 0.5 && m.requestCount > 10 {
			results = append(results, security.DetectionResult{
				Detected:    true,
				ThreatType:  security.ThreatBehavioralAnomaly,
				Severity:    security.SeverityMedium,
				Confidence:  decimal.NewFromFloat(0.7),
				Source:      security.SourceHeuristic,
				Description: "high error rate detected",
				Evidence:    map[string]any{"error_rate": errorRate, "error_count": m.errorCount, "request_count": m.requestCount},
				RuleID:      "anomaly_error_rate_v1",
			})
		}
	}

	return results
}

func estimateTokensFromText(system string, messages []security.MessagePart) int {
	total := len(system) / 4
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}

func checkRequestSize(w *metricWindow, size int) *security.DetectionResult {
	mean, stddev, count := w.stats()
	if count < anomalyMinSamples || stddev == 0 {
		return nil
	}
	z := math.Abs((float64(size) - mean) / stddev)
	if z > anomalyCriticalZ {
		return &security.DetectionResult{
			Detected: true, ThreatType: security.ThreatBehavioralAnomaly, Severity: security.SeverityHigh,
			Confidence: decimal.NewFromFloat(0.8), Source: security.SourceHeuristic,
			Description: "extremely large request detected",
			Evidence:    map[string]any{"request_size": size, "mean_size": mean, "z_score": z},
			RuleID:      "anomaly_request_size_v1",
		}
	}
	if z > anomalyHighZ && mean > 0 && float64(size) > mean*maxRequestSizeFactor {
		return &security.DetectionResult{
			Detected: true, ThreatType: security.ThreatBehavioralAnomaly, Severity: security.SeverityMedium,
			Confidence: decimal.NewFromFloat(0.7), Source: security.SourceHeuristic,
			Description: "unusually large request detected",
			Evidence:    map[string]any{"request_size": size, "mean_size": mean, "increase_factor": float64(size) / mean},
			RuleID:      "anomaly_request_size_v1",
		}
	}
	return nil
}

func checkResponseSize(w *metricWindow, size int) *security.DetectionResult {
	mean, stddev, count := w.stats()
	if count < anomalyMinSamples || stddev == 0 {
		return nil
	}
	z := math.Abs((float64(size) - mean) / stddev)
	if z > anomalyCriticalZ {
		return &security.DetectionResult{
			Detected: true, ThreatType: security.ThreatBehavioralAnomaly, Severity: security.SeverityMedium,
			Confidence: decimal.NewFromFloat(0.6), Source: security.SourceHeuristic,
			Description: "unusually large response detected",
			Evidence:    map[string]any{"response_size": size, "mean_size": mean, "z_score": z},
			RuleID:      "anomaly_response_size_v1",
		}
	}
	return nil
}

func checkInputTokens(w *metricWindow, tokens int) *security.DetectionResult {
	mean, stddev, count := w.stats()
	if count < anomalyMinSamples || stddev == 0 || mean == 0 {
		return nil
	}
	factor := float64(tokens) / mean
	if factor > maxTokenIncreaseFactor {
		return &security.DetectionResult{
			Detected: true, ThreatType: security.ThreatBehavioralAnomaly, Severity: security.SeverityHigh,
			Confidence: decimal.NewFromFloat(0.75), Source: security.SourceHeuristic,
			Description: "sudden increase in input tokens",
			Evidence:    map[string]any{"input_tokens": tokens, "mean_tokens": mean, "increase_factor": factor},
			RuleID:      "anomaly_input_tokens_v1",
		}
	}
	return nil
}

func checkOutputTokens(w *metricWindow, tokens int) *security.DetectionResult {
	mean, stddev, count := w.stats()
	if count < anomalyMinSamples || stddev == 0 || mean == 0 {
		return nil
	}
	factor := float64(tokens) / mean
	if factor > maxTokenIncreaseFactor {
		return &security.DetectionResult{
			Detected: true, ThreatType: security.ThreatBehavioralAnomaly, Severity: security.SeverityMedium,
			Confidence: decimal.NewFromFloat(0.65), Source: security.SourceHeuristic,
			Description: "sudden increase in output tokens",
			Evidence:    map[string]any{"output_tokens": tokens, "mean_tokens": mean, "increase_factor": factor},
			RuleID:      "anomaly_output_tokens_v1",
		}
	}
	return nil
}

func checkModelSwitching(modelsUsed map[string]int, totalRequests int) *security.DetectionResult {
	if totalRequests < 20 {
		return nil
	}
	entropy := 0.0
	for _, count := range modelsUsed {
		prob := float64(count) / float64(totalRequests)
		if prob > 0 {
			entropy -= prob * math.Log2(prob)
		}
	}
	if entropy > 2.0 && len(modelsUsed) > 5 {
		used := make(map[string]int, len(modelsUsed))
		for k, v := range modelsUsed {
			used[k] = v
		}
		return &security.DetectionResult{
			Detected: true, ThreatType: security.ThreatBehavioralAnomaly, Severity: security.SeverityLow,
			Confidence: decimal.NewFromFloat(0.5), Source: security.SourceHeuristic,
			Description: "unusual model switching pattern detected",
			Evidence:    map[string]any{"model_count": len(modelsUsed), "models_used": used, "entropy": entropy},
			RuleID:      "anomaly_model_switch_v1",
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
