package security

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/amerfu/proxyd/internal/config"
)

type stubSync struct {
	name    string
	request []DetectionResult
}

func (s *stubSync) Name() string  { return s.name }
func (s *stubSync) Enabled() bool { return true }
func (s *stubSync) DetectRequest(data RequestData) []DetectionResult  { return s.request }
func (s *stubSync) DetectResponse(data ResponseData) []DetectionResult { return nil }

func testEngine() *Engine {
	return New(config.SecurityConfig{}, nil)
}

func TestAnalyzeRequestNoDetectionsReturnsEmptySummary(t *testing.T) {
	e := testEngine()
	e.RegisterSync(&stubSync{name: "noop"})

	summary := e.AnalyzeRequest(context.Background(), "agent-1", RequestData{})
	assert.False(t, summary.Detected)
	assert.Empty(t, summary.Actions)
}

func TestCriticalHighConfidenceBlocksAndQuarantines(t *testing.T) {
	e := testEngine()
	e.RegisterSync(&stubSync{name: "critical", request: []DetectionResult{{
		Detected: true, ThreatType: ThreatPromptInjection, Severity: SeverityCritical,
		Confidence: decimal.NewFromFloat(0.9),
	}}})

	summary := e.AnalyzeRequest(context.Background(), "agent-1", RequestData{})
	assert.True(t, summary.Detected)
	assert.True(t, summary.HasAction(ActionBlock))
	assert.True(t, summary.HasAction(ActionAlert))
	assert.True(t, summary.HasAction(ActionQuarantine))
	assert.True(t, summary.HasAction(ActionLog))
}

func TestCriticalLowConfidenceDoesNotBlock(t *testing.T) {
	e := testEngine()
	e.RegisterSync(&stubSync{name: "critical-lowconf", request: []DetectionResult{{
		Detected: true, ThreatType: ThreatPromptInjection, Severity: SeverityCritical,
		Confidence: decimal.NewFromFloat(0.5),
	}}})

	summary := e.AnalyzeRequest(context.Background(), "agent-1", RequestData{})
	assert.False(t, summary.HasAction(ActionBlock))
	assert.True(t, summary.HasAction(ActionAlert))
	assert.True(t, summary.HasAction(ActionQuarantine))
}

func TestAutoKillFiresAboveThresholdWithPolicy(t *testing.T) {
	e := testEngine()
	e.SetPolicy("agent-1", Policy{DetectionLevel: "enforce", AutoKillEnabled: true, AutoKillThreshold: 85})
	e.RegisterSync(&stubSync{name: "critical", request: []DetectionResult{{
		Detected: true, ThreatType: ThreatPromptInjection, Severity: SeverityCritical,
		Confidence: decimal.NewFromFloat(0.9),
	}}})

	summary := e.AnalyzeRequest(context.Background(), "agent-1", RequestData{})
	assert.True(t, summary.HasAction(ActionKill))
}

func TestAutoKillDoesNotFireBelowThreshold(t *testing.T) {
	e := testEngine()
	e.SetPolicy("agent-1", Policy{DetectionLevel: "enforce", AutoKillEnabled: true, AutoKillThreshold: 95})
	e.RegisterSync(&stubSync{name: "critical", request: []DetectionResult{{
		Detected: true, ThreatType: ThreatPromptInjection, Severity: SeverityCritical,
		Confidence: decimal.NewFromFloat(0.9),
	}}})

	summary := e.AnalyzeRequest(context.Background(), "agent-1", RequestData{})
	assert.False(t, summary.HasAction(ActionKill))
}

func TestCredentialExposureAlwaysRedacts(t *testing.T) {
	e := testEngine()
	e.RegisterSync(&stubSync{name: "cred", request: []DetectionResult{{
		Detected: true, ThreatType: ThreatCredentialExposure, Severity: SeverityMedium,
		Confidence: decimal.NewFromFloat(0.6),
	}}})

	summary := e.AnalyzeRequest(context.Background(), "agent-1", RequestData{})
	assert.True(t, summary.HasAction(ActionRedact))
}

func TestDataExfiltrationHighSeverityBlocks(t *testing.T) {
	e := testEngine()
	e.RegisterSync(&stubSync{name: "exfil", request: []DetectionResult{{
		Detected: true, ThreatType: ThreatDataExfiltration, Severity: SeverityHigh,
		Confidence: decimal.NewFromFloat(0.7),
	}}})

	summary := e.AnalyzeRequest(context.Background(), "agent-1", RequestData{})
	assert.True(t, summary.HasAction(ActionBlock))
}

func TestMonitorLevelStripsBlockKillQuarantine(t *testing.T) {
	e := testEngine()
	e.SetPolicy("agent-1", Policy{DetectionLevel: "monitor"})
	e.RegisterSync(&stubSync{name: "critical", request: []DetectionResult{{
		Detected: true, ThreatType: ThreatPromptInjection, Severity: SeverityCritical,
		Confidence: decimal.NewFromFloat(0.95),
	}}})

	summary := e.AnalyzeRequest(context.Background(), "agent-1", RequestData{})
	assert.False(t, summary.HasAction(ActionBlock))
	assert.False(t, summary.HasAction(ActionKill))
	assert.False(t, summary.HasAction(ActionQuarantine))
}

func TestWarnLevelReplacesBlockWithWarn(t *testing.T) {
	e := testEngine()
	e.SetPolicy("agent-1", Policy{DetectionLevel: "warn"})
	e.RegisterSync(&stubSync{name: "high", request: []DetectionResult{{
		Detected: true, ThreatType: ThreatToolAbuse, Severity: SeverityHigh,
		Confidence: decimal.NewFromFloat(0.9),
	}}})

	summary := e.AnalyzeRequest(context.Background(), "agent-1", RequestData{})
	assert.False(t, summary.HasAction(ActionBlock))
	assert.True(t, summary.HasAction(ActionWarn))
}

func TestEnforceLevelForcesBlockOnHighSeverity(t *testing.T) {
	e := testEngine()
	e.RegisterSync(&stubSync{name: "high-lowconf", request: []DetectionResult{{
		Detected: true, ThreatType: ThreatToolAbuse, Severity: SeverityHigh,
		Confidence: decimal.NewFromFloat(0.3),
	}}})

	summary := e.AnalyzeRequest(context.Background(), "agent-1", RequestData{})
	assert.True(t, summary.HasAction(ActionBlock))
}

func TestMaxSeverityAndConfidenceAggregateAcrossDetectors(t *testing.T) {
	e := testEngine()
	e.RegisterSync(&stubSync{name: "low", request: []DetectionResult{{
		Detected: true, ThreatType: ThreatBehavioralAnomaly, Severity: SeverityLow,
		Confidence: decimal.NewFromFloat(0.4),
	}}})
	e.RegisterSync(&stubSync{name: "high", request: []DetectionResult{{
		Detected: true, ThreatType: ThreatToolAbuse, Severity: SeverityHigh,
		Confidence: decimal.NewFromFloat(0.95),
	}}})

	summary := e.AnalyzeRequest(context.Background(), "agent-1", RequestData{})
	assert.Equal(t, SeverityHigh, summary.MaxSeverity)
	assert.True(t, summary.MaxConfidence.Equal(decimal.NewFromFloat(0.95)))
	assert.True(t, summary.ThreatTypes[ThreatBehavioralAnomaly])
	assert.True(t, summary.ThreatTypes[ThreatToolAbuse])
}
