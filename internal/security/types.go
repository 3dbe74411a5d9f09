// Package security implements the Security Engine (C7): a bounded
// pool of synchronous detectors plus fire-and-collect asynchronous
// detectors, aggregated into a severity/confidence decision, per
// spec §4.7.
package security

import (
	"context"

	"github.com/shopspring/decimal"
)

// ThreatType classifies what a detector found.
type ThreatType string

const (
	ThreatPromptInjection   ThreatType = "prompt_injection"
	ThreatCredentialExposure ThreatType = "credential_exposure"
	ThreatDataExfiltration  ThreatType = "data_exfiltration"
	ThreatToolAbuse         ThreatType = "tool_abuse"
	ThreatRunawayLoop       ThreatType = "runaway_loop"
	ThreatBehavioralAnomaly ThreatType = "behavioral_anomaly"
	ThreatCustomRule        ThreatType = "custom_rule"
	ThreatIntelMatch        ThreatType = "threat_intel_match"
	ThreatSemanticSimilarity ThreatType = "semantic_similarity"
)

// Severity is a detection's severity level, ordered low < medium <
// high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3}

func (s Severity) higherThan(other Severity) bool { return severityRank[s] > severityRank[other] }

// DetectionSource is how a detection was produced.
type DetectionSource string

const (
	SourceSignature DetectionSource = "signature"
	SourceHeuristic DetectionSource = "heuristic"
	SourceExternal  DetectionSource = "external"
)

// ResponseAction is an action the engine's decision function can
// require.
type ResponseAction string

const (
	ActionLog        ResponseAction = "log"
	ActionBlock      ResponseAction = "block"
	ActionWarn       ResponseAction = "warn"
	ActionAlert      ResponseAction = "alert"
	ActionQuarantine ResponseAction = "quarantine"
	ActionKill       ResponseAction = "kill"
	ActionThrottle   ResponseAction = "throttle"
	ActionRedact     ResponseAction = "redact"
)

// DetectionResult is a single detector's verdict.
type DetectionResult struct {
	Detected    bool
	ThreatType  ThreatType
	Severity    Severity
	Confidence  decimal.Decimal
	Source      DetectionSource
	Description string
	Evidence    map[string]any
	RuleID      string
	DetectorName string
}

// DetectionSummary aggregates every detector's results for one
// request or response.
type DetectionSummary struct {
	Detected      bool
	Results       []DetectionResult
	MaxSeverity   Severity
	MaxConfidence decimal.Decimal
	ThreatTypes   map[ThreatType]bool
	Actions       map[ResponseAction]bool
}

func newSummary() *DetectionSummary {
	return &DetectionSummary{
		MaxSeverity: SeverityLow,
		MaxConfidence: decimal.Zero,
		ThreatTypes: map[ThreatType]bool{},
		Actions:     map[ResponseAction]bool{},
	}
}

func (s *DetectionSummary) add(r DetectionResult) {
	s.Results = append(s.Results, r)
	if !r.Detected {
		return
	}
	s.Detected = true
	s.ThreatTypes[r.ThreatType] = true
	if r.Severity.higherThan(s.MaxSeverity) {
		s.MaxSeverity = r.Severity
	}
	if r.Confidence.GreaterThan(s.MaxConfidence) {
		s.MaxConfidence = r.Confidence
	}
}

// HasAction reports whether a given action was required.
func (s *DetectionSummary) HasAction(a ResponseAction) bool { return s.Actions[a] }

// RequestData is the minimal request shape detectors scan, projected
// from the pipeline's provider-agnostic chat request.
type RequestData struct {
	AgentID  string
	Model    string
	System   string
	Messages []MessagePart
	ToolDefs []string // tool/function names+descriptions, flattened
}

// MessagePart is one role/content pair, content already flattened to
// text (image/binary parts are not scanned).
type MessagePart struct {
	Role    string
	Content string
}

// ResponseData is the minimal response shape detectors scan.
type ResponseData struct {
	AgentID      string
	Content      string
	SizeBytes    int
	OutputTokens int
	Error        bool
}

// Policy carries the per-agent overrides the decision function
// consults, per spec §4.7's "policy-level monitor/warn/enforce
// overrides".
type Policy struct {
	DetectionLevel     string // "monitor" | "warn" | "enforce"
	AutoKillEnabled    bool
	AutoKillThreshold  int // percent, compared against confidence*100
}

// SyncDetector runs inline on the bounded worker pool; it must be
// fast (spec §4.7's ~100ms combined budget).
type SyncDetector interface {
	Name() string
	Enabled() bool
	DetectRequest(data RequestData) []DetectionResult
	DetectResponse(data ResponseData) []DetectionResult
}

// AsyncDetector runs alongside the other async detectors, each under
// the engine's async timeout. AnalyzeRequest and AnalyzeResponse wait
// for every async detector to return before deciding, so its results
// are part of the summary they return; none arrive after it.
type AsyncDetector interface {
	Name() string
	Enabled() bool
	DetectRequest(ctx context.Context, data RequestData) []DetectionResult
	DetectResponse(ctx context.Context, data ResponseData) []DetectionResult
}
