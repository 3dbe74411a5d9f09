package detectors

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/amerfu/proxyd/internal/security"
)

// suspiciousPhrase is an entry in the heuristic phrase database,
// grounded on semantic.py's FallbackSemanticDetector
// (_build_phrase_database) — the embedding-model path
// (sentence-transformers) has no idiomatic Go equivalent in the
// corpus, so this detector implements the Python's own documented
// fallback-heuristic mode rather than a hand-rolled embedding stack.
type suspiciousPhrase struct {
	phrase     string
	severity   security.Severity
	confidence float64
}

var suspiciousPhrases = []suspiciousPhrase{
	{"ignore previous", security.SeverityHigh, 0.7},
	{"forget instructions", security.SeverityHigh, 0.7},
	{"disregard training", security.SeverityHigh, 0.7},
	{"override system", security.SeverityCritical, 0.8},
	{"bypass restrictions", security.SeverityCritical, 0.8},
	{"you are now", security.SeverityMedium, 0.5},
	{"pretend to be", security.SeverityMedium, 0.5},
	{"act as if", security.SeverityMedium, 0.5},
	{"roleplay as", security.SeverityMedium, 0.5},
	{"reveal your instructions", security.SeverityHigh, 0.75},
	{"show your prompt", security.SeverityHigh, 0.75},
	{"what are your rules", security.SeverityHigh, 0.7},
	{"repeat your instructions", security.SeverityHigh, 0.75},
	{"this is just a test", security.SeverityMedium, 0.6},
	{"for educational purposes", security.SeverityMedium, 0.5},
	{"hypothetically speaking", security.SeverityLow, 0.4},
}

var (
	urgencyMarkers    = []string{"immediately", "urgent", "right now", "quickly"}
	legitimateMarkers = []string{"in the story", "character says", "fictional example"}
)

// SemanticSimilarity is a sync detector matching request text against
// a known-bad phrase database with context-aware confidence
// adjustment, per spec §4.7 #9.
type SemanticSimilarity struct{ enabled bool }

// NewSemanticSimilarity builds an enabled SemanticSimilarity detector.
func NewSemanticSimilarity() *SemanticSimilarity { return &SemanticSimilarity{enabled: true} }

func (d *SemanticSimilarity) Name() string  { return "semantic_similarity_detector" }
func (d *SemanticSimilarity) Enabled() bool { return d.enabled }

func (d *SemanticSimilarity) DetectRequest(data security.RequestData) []security.DetectionResult {
	var parts []string
	for _, m := range data.Messages {
		parts = append(parts, m.Content)
	}
	if data.System != "" {
		parts = append(parts, data.System)
	}
	text := strings.Join(parts, " ")
	if text == "" {
		return nil
	}
	textLower := strings.ToLower(text)

	var matches []security.DetectionResult
	for _, sp := range suspiciousPhrases {
		if !strings.Contains(textLower, sp.phrase) {
			continue
		}
		confidence := adjustConfidence(textLower, sp.confidence)
		matches = append(matches, security.DetectionResult{
			Detected:    true,
			ThreatType:  security.ThreatSemanticSimilarity,
			Severity:    sp.severity,
			Confidence:  decimal.NewFromFloat(confidence),
			Source:      security.SourceHeuristic,
			Description: "suspicious phrase detected: '" + sp.phrase + "'",
			Evidence:    map[string]any{"matched_phrase": sp.phrase, "context": phraseContext(text, sp.phrase)},
			RuleID:      "semantic_heuristic_v1",
		})
	}
	return dedupeBySeverity(matches)
}

func (d *SemanticSimilarity) DetectResponse(data security.ResponseData) []security.DetectionResult {
	return nil
}

func adjustConfidence(textLower string, base float64) float64 {
	adjustment := 0.0

	count := 0
	for _, sp := range suspiciousPhrases {
		if strings.Contains(textLower, sp.phrase) {
			count++
		}
	}
	if count > 2 {
		adjustment += 0.15
	}

	for _, marker := range urgencyMarkers {
		if strings.Contains(textLower, marker) {
			adjustment += 0.1
			break
		}
	}
	for _, marker := range legitimateMarkers {
		if strings.Contains(textLower, marker) {
			adjustment -= 0.15
			break
		}
	}

	result := base + adjustment
	if result > 0.95 {
		return 0.95
	}
	if result < 0.3 {
		return 0.3
	}
	return result
}

func phraseContext(text, phrase string) string {
	const window = 50
	textLower := strings.ToLower(text)
	idx := strings.Index(textLower, phrase)
	if idx == -1 {
		return phrase
	}
	start := idx - window
	if start < 0 {
		start = 0
	}
	end := idx + len(phrase) + window
	if end > len(text) {
		end = len(text)
	}
	context := text[start:end]
	if start > 0 {
		context = "..." + context
	}
	if end < len(text) {
		context += "..."
	}
	return context
}

var severityOrder = []security.Severity{security.SeverityCritical, security.SeverityHigh, security.SeverityMedium, security.SeverityLow}

func severityRank(s security.Severity) int {
	for i, sev := range severityOrder {
		if sev == s {
			return i
		}
	}
	return len(severityOrder)
}

func dedupeBySeverity(results []security.DetectionResult) []security.DetectionResult {
	if len(results) == 0 {
		return nil
	}
	best := results[0]
	for _, r := range results[1:] {
		if severityRank(r.Severity) < severityRank(best.Severity) {
			best = r
		}
	}
	return []security.DetectionResult{best}
}
