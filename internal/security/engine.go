package security

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/amerfu/proxyd/internal/config"
)

// Engine is the Security Engine (C7), grounded on the teacher's
// internal/services/guardrails.Executor registration/execution shape,
// fused with original_source/proxy/app/security/engine.py's
// sync/async detector split and severity/confidence decision table.
type Engine struct {
	logger *zap.Logger

	mu     sync.RWMutex
	sync   []SyncDetector
	async  []AsyncDetector

	workers        int
	asyncTimeout   time.Duration
	detectionLevel string // default policy when a request carries none

	policies map[string]Policy // keyed by agent ID
}

// New builds an Engine from config.SecurityConfig.
func New(cfg config.SecurityConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	timeout := cfg.DetectorTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	level := cfg.DetectionLevel
	if level == "" {
		level = "enforce"
	}
	return &Engine{
		logger:         logger,
		workers:        workers,
		asyncTimeout:   timeout,
		detectionLevel: level,
		policies:       map[string]Policy{},
	}
}

// RegisterSync adds a synchronous detector to the bounded pool.
func (e *Engine) RegisterSync(d SyncDetector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sync = append(e.sync, d)
}

// RegisterAsync adds an asynchronous detector.
func (e *Engine) RegisterAsync(d AsyncDetector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.async = append(e.async, d)
}

// SetPolicy installs a per-agent override, consulted by the decision
// function.
func (e *Engine) SetPolicy(agentID string, p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[agentID] = p
}

func (e *Engine) policyFor(agentID string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[agentID]
	return p, ok
}

// AnalyzeRequest runs every enabled sync detector on a bounded
// worker-pool (errgroup with a concurrency-limiting semaphore) and
// every enabled async detector concurrently with its own timeout,
// per spec §4.7's "~100ms combined" sync budget / "~30s" async
// budget split.
func (e *Engine) AnalyzeRequest(ctx context.Context, agentID string, data RequestData) *DetectionSummary {
	if data.AgentID == "" {
		data.AgentID = agentID
	}
	summary := newSummary()

	e.mu.RLock()
	syncDetectors := append([]SyncDetector(nil), e.sync...)
	asyncDetectors := append([]AsyncDetector(nil), e.async...)
	e.mu.RUnlock()

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, d := range syncDetectors {
		d := d
		if !d.Enabled() {
			continue
		}
		g.Go(func() error {
			results := d.DetectRequest(data)
			mu.Lock()
			for _, r := range results {
				r.DetectorName = d.Name()
				summary.add(r)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("security: sync detector group error", zap.Error(err))
	}

	var wg sync.WaitGroup
	for _, d := range asyncDetectors {
		d := d
		if !d.Enabled() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			actx, cancel := context.WithTimeout(context.Background(), e.asyncTimeout)
			defer cancel()
			results := d.DetectRequest(actx, data)
			mu.Lock()
			for _, r := range results {
				r.DetectorName = d.Name()
				summary.add(r)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if summary.Detected {
		e.determineActions(summary, agentID)
	}
	return summary
}

// AnalyzeResponse mirrors AnalyzeRequest for response-side scanning
// (data exfiltration, credential leakage in model output).
func (e *Engine) AnalyzeResponse(ctx context.Context, agentID string, data ResponseData) *DetectionSummary {
	if data.AgentID == "" {
		data.AgentID = agentID
	}
	summary := newSummary()

	e.mu.RLock()
	syncDetectors := append([]SyncDetector(nil), e.sync...)
	asyncDetectors := append([]AsyncDetector(nil), e.async...)
	e.mu.RUnlock()

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, d := range syncDetectors {
		d := d
		if !d.Enabled() {
			continue
		}
		g.Go(func() error {
			results := d.DetectResponse(data)
			mu.Lock()
			for _, r := range results {
				r.DetectorName = d.Name()
				summary.add(r)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var wg sync.WaitGroup
	for _, d := range asyncDetectors {
		d := d
		if !d.Enabled() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			actx, cancel := context.WithTimeout(context.Background(), e.asyncTimeout)
			defer cancel()
			results := d.DetectResponse(actx, data)
			mu.Lock()
			for _, r := range results {
				r.DetectorName = d.Name()
				summary.add(r)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if summary.Detected {
		e.determineActions(summary, agentID)
	}
	return summary
}

// determineActions implements spec §4.7's severity/confidence
// decision table, with per-threat-type overrides and policy-level
// monitor/warn/enforce adjustment, grounded on
// original_source/proxy/app/security/engine.py's _determine_actions.
func (e *Engine) determineActions(summary *DetectionSummary, agentID string) {
	policy, hasPolicy := e.policyFor(agentID)

	summary.Actions[ActionLog] = true

	point8 := decimal.NewFromFloat(0.8)
	point85 := decimal.NewFromFloat(0.85)
	point7 := decimal.NewFromFloat(0.7)
	point9 := decimal.NewFromFloat(0.9)

	switch summary.MaxSeverity {
	case SeverityCritical:
		if summary.MaxConfidence.GreaterThanOrEqual(point8) {
			summary.Actions[ActionBlock] = true
			if hasPolicy && policy.AutoKillEnabled {
				confidencePct := summary.MaxConfidence.Mul(decimal.NewFromInt(100))
				if confidencePct.GreaterThanOrEqual(decimal.NewFromInt(int64(policy.AutoKillThreshold))) {
					summary.Actions[ActionKill] = true
				}
			}
		}
		summary.Actions[ActionAlert] = true
		summary.Actions[ActionQuarantine] = true

	case SeverityHigh:
		if summary.MaxConfidence.GreaterThanOrEqual(point85) {
			summary.Actions[ActionBlock] = true
		} else if summary.MaxConfidence.GreaterThanOrEqual(point7) {
			summary.Actions[ActionWarn] = true
		}
		summary.Actions[ActionAlert] = true

	case SeverityMedium:
		if summary.MaxConfidence.GreaterThanOrEqual(point9) {
			summary.Actions[ActionWarn] = true
		}
		summary.Actions[ActionThrottle] = true
	}

	if summary.ThreatTypes[ThreatCredentialExposure] {
		summary.Actions[ActionRedact] = true
	}
	if summary.ThreatTypes[ThreatDataExfiltration] &&
		(summary.MaxSeverity == SeverityHigh || summary.MaxSeverity == SeverityCritical) {
		summary.Actions[ActionBlock] = true
	}

	level := e.detectionLevel
	if hasPolicy {
		level = policy.DetectionLevel
	}
	switch level {
	case "enforce":
		if hasPolicy && (summary.MaxSeverity == SeverityHigh || summary.MaxSeverity == SeverityCritical) {
			summary.Actions[ActionBlock] = true
		}
	case "warn":
		delete(summary.Actions, ActionBlock)
		summary.Actions[ActionWarn] = true
	case "monitor":
		delete(summary.Actions, ActionBlock)
		delete(summary.Actions, ActionKill)
		delete(summary.Actions, ActionQuarantine)
	}
}
