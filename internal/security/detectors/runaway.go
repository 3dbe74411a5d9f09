package detectors

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amerfu/proxyd/internal/security"
)

const (
	maxCallsPerMinute    = 60
	maxCallsPer5Minutes  = 200
	similarRequestThresh = 5
	runawayWindow        = 5 * time.Minute
)

type agentActivity struct {
	mu           sync.Mutex
	requestTimes []time.Time
	requestHashes []string
}

// Runaway is a sync detector tracking per-agent call-rate and
// request-similarity, per spec §4.7 #5, grounded on
// original_source/proxy/app/security/detectors/runaway.py.
type Runaway struct {
	enabled bool
	mu      sync.Mutex
	agents  map[string]*agentActivity

	now func() time.Time
}

// NewRunaway builds an enabled Runaway detector.
func NewRunaway() *Runaway {
	return &Runaway{enabled: true, agents: map[string]*agentActivity{}, now: time.Now}
}

func (d *Runaway) Name() string  { return "runaway_detector" }
func (d *Runaway) Enabled() bool { return d.enabled }

func (d *Runaway) activityFor(key string) *agentActivity {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[key]
	if !ok {
		a = &agentActivity{}
		d.agents[key] = a
	}
	return a
}

// ResetAgent clears tracking for an agent, mirroring the Python
// detector's reset_agent (used after a confirmed kill/quarantine
// action so a fresh session starts clean).
func (d *Runaway) ResetAgent(agentKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.agents, agentKey)
}

func (d *Runaway) DetectRequest(data security.RequestData) []security.DetectionResult {
	if data.AgentID == "" {
		return nil
	}
	activity := d.activityFor(data.AgentID)
	now := d.now()

	activity.mu.Lock()
	defer activity.mu.Unlock()

	kept := activity.requestTimes[:0]
	for _, t := range activity.requestTimes {
		if now.Sub(t) < runawayWindow {
			kept = append(kept, t)
		}
	}
	activity.requestTimes = kept
	if len(activity.requestHashes) > 100 {
		activity.requestHashes = activity.requestHashes[len(activity.requestHashes)-100:]
	}

	activity.requestTimes = append(activity.requestTimes, now)
	activity.requestHashes = append(activity.requestHashes, hashRequest(data))

	var results []security.DetectionResult
	results = append(results, checkRate(activity.requestTimes, now)...)
	if r := checkSimilarity(activity.requestHashes); r != nil {
		results = append(results, *r)
	}
	return results
}

func (d *Runaway) DetectResponse(data security.ResponseData) []security.DetectionResult {
	return nil // activity is recorded on the request path; nothing new to check here
}

func hashRequest(data security.RequestData) string {
	var parts []string
	if data.Model != "" {
		parts = append(parts, "model:"+data.Model)
	}
	msgs := data.Messages
	if len(msgs) > 3 {
		msgs = msgs[len(msgs)-3:]
	}
	for _, m := range msgs {
		normalized := strings.Join(strings.Fields(m.Content), " ")
		if len(normalized) > 200 {
			normalized = normalized[:200]
		}
		parts = append(parts, normalized)
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func checkRate(times []time.Time, now time.Time) []security.DetectionResult {
	var results []security.DetectionResult

	oneMinuteAgo := now.Add(-time.Minute)
	perMinute := 0
	for _, t := range times {
		if t.After(oneMinuteAgo) {
			perMinute++
		}
	}
	if perMinute > maxCallsPerMinute {
		results = append(results, security.DetectionResult{
			Detected:    true,
			ThreatType:  security.ThreatRunawayLoop,
			Severity:    security.SeverityHigh,
			Confidence:  decimal.NewFromFloat(0.9),
			Source:      security.SourceHeuristic,
			Description: "high request rate detected",
			Evidence:    map[string]any{"requests_per_minute": perMinute, "threshold": maxCallsPerMinute},
			RuleID:      "runaway_rate_v1",
		})
	}

	fiveMinAgo := now.Add(-runawayWindow)
	per5Min := 0
	for _, t := range times {
		if t.After(fiveMinAgo) {
			per5Min++
		}
	}
	if per5Min > maxCallsPer5Minutes {
		results = append(results, security.DetectionResult{
			Detected:    true,
			ThreatType:  security.ThreatRunawayLoop,
			Severity:    security.SeverityCritical,
			Confidence:  decimal.NewFromFloat(0.95),
			Source:      security.SourceHeuristic,
			Description: "runaway loop detected",
			Evidence:    map[string]any{"requests_5_minutes": per5Min, "threshold": maxCallsPer5Minutes},
			RuleID:      "runaway_loop_v1",
		})
	}

	return results
}

func checkSimilarity(hashes []string) *security.DetectionResult {
	if len(hashes) < similarRequestThresh {
		return nil
	}
	recent := hashes
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	counts := map[string]int{}
	for _, h := range recent {
		counts[h]++
	}
	for h, count := range counts {
		if count >= similarRequestThresh {
			return &security.DetectionResult{
				Detected:    true,
				ThreatType:  security.ThreatRunawayLoop,
				Severity:    security.SeverityMedium,
				Confidence:  decimal.NewFromFloat(0.8),
				Source:      security.SourceHeuristic,
				Description: "repeated similar requests detected",
				Evidence:    map[string]any{"repeat_count": count, "threshold": similarRequestThresh, "request_hash": h[:8]},
				RuleID:      "runaway_repeat_v1",
			}
		}
	}
	return nil
}
