package detectors

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/amerfu/proxyd/internal/security"
)

type piiPattern struct {
	re       *regexp.Regexp
	piiType  string
	severity security.Severity
}

func compilePIIPatterns() []piiPattern {
	raw := []struct {
		pattern  string
		piiType  string
		severity security.Severity
	}{
		{`\b\d{3}-\d{2}-\d{4}\b`, "us_ssn", security.SeverityCritical},
		{`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`, "credit_card", security.SeverityCritical},
		{`\b(?:3[47]\d{13}|3(?:0[0-5]|[68]\d)\d{11})\b`, "amex", security.SeverityCritical},
		{`\b(?:6(?:011|5\d{2})\d{12})\b`, "discover", security.SeverityCritical},
		{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, "email", security.SeverityLow},
		{`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`, "us_phone", security.SeverityMedium},
		{`(?i)\b\d+\s+[A-Za-z]+\s+(?:Street|St|Avenue|Ave|Road|Rd|Lane|Ln|Drive|Dr|Boulevard|Blvd)\b`, "address", security.SeverityMedium},
		{`\b[A-Z]{1,2}\d{6,9}\b`, "passport", security.SeverityHigh},
	}
	out := make([]piiPattern, 0, len(raw))
	for _, p := range raw {
		out = append(out, piiPattern{re: regexp.MustCompile(p.pattern), piiType: p.piiType, severity: p.severity})
	}
	return out
}

var piiPatterns = compilePIIPatterns()

var (
	exfilBase64Pattern = regexp.MustCompile(`[A-Za-z0-9+/]{100,}={0,2}`)
	exfilHexPattern     = regexp.MustCompile(`(?:0x)?[0-9A-Fa-f]{64,}`)
)

const (
	maxResponseKB = 100.0
)

// DataExfiltration is a sync detector for PII leakage, oversized
// responses, and base64/hex-encoded data smuggling, per spec §4.7 #3.
// Note: SSN/address/passport patterns are intentionally narrower than
// the Python PII_PATTERNS list, which also matched bare 9-digit and
// 8-17 digit numbers as "potential" SSN/passport/bank-account —
// those generic digit-run patterns fired on far too many false
// positives (order IDs, timestamps) to carry forward unchanged.
type DataExfiltration struct{ enabled bool }

// NewDataExfiltration builds an enabled DataExfiltration detector.
func NewDataExfiltration() *DataExfiltration { return &DataExfiltration{enabled: true} }

func (d *DataExfiltration) Name() string  { return "data_exfiltration_detector" }
func (d *DataExfiltration) Enabled() bool { return d.enabled }

func (d *DataExfiltration) DetectRequest(data security.RequestData) []security.DetectionResult {
	var parts []string
	if data.System != "" {
		parts = append(parts, data.System)
	}
	for _, m := range data.Messages {
		parts = append(parts, m.Content)
	}
	text := strings.Join(parts, " ")

	var results []security.DetectionResult
	if r := detectPII(text, "request"); r != nil {
		results = append(results, *r)
	}
	return results
}

func (d *DataExfiltration) DetectResponse(data security.ResponseData) []security.DetectionResult {
	var results []security.DetectionResult
	if r := detectPII(data.Content, "response"); r != nil {
		results = append(results, *r)
	}
	if r := checkDataVolume(data.Content); r != nil {
		results = append(results, *r)
	}
	results = append(results, checkEncodedData(data.Content)...)
	return results
}

func detectPII(text, location string) *security.DetectionResult {
	type found struct {
		piiType  string
		severity security.Severity
		count    int
	}
	var hits []found
	for _, p := range piiPatterns {
		matches := p.re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		hits = append(hits, found{piiType: p.piiType, severity: p.severity, count: len(matches)})
	}
	if len(hits) == 0 {
		return nil
	}

	overall := security.SeverityLow
	totalCount := 0
	types := map[string]bool{}
	for _, h := range hits {
		types[h.piiType] = true
		totalCount += h.count
		if severityRank(h.severity) < severityRank(overall) {
			overall = h.severity
		}
	}

	confidence := decimal.NewFromFloat(0.5).Add(decimal.NewFromFloat(0.1).Mul(decimal.NewFromInt(int64(len(hits)))))
	if confidence.GreaterThan(decimal.NewFromFloat(0.9)) {
		confidence = decimal.NewFromFloat(0.9)
	}

	typeList := make([]string, 0, len(types))
	for t := range types {
		typeList = append(typeList, t)
	}

	return &security.DetectionResult{
		Detected:    true,
		ThreatType:  security.ThreatDataExfiltration,
		Severity:    overall,
		Confidence:  confidence,
		Source:      security.SourceSignature,
		Description: fmt.Sprintf("PII detected in %s", location),
		Evidence:    map[string]any{"location": location, "pii_types": typeList, "total_count": totalCount},
		RuleID:      "exfil_pii_v1",
	}
}

func checkDataVolume(text string) *security.DetectionResult {
	sizeKB := float64(len([]byte(text))) / 1024
	if sizeKB <= maxResponseKB {
		return nil
	}
	return &security.DetectionResult{
		Detected:    true,
		ThreatType:  security.ThreatDataExfiltration,
		Severity:    security.SeverityMedium,
		Confidence:  decimal.NewFromFloat(0.7),
		Source:      security.SourceHeuristic,
		Description: fmt.Sprintf("large response size detected (%.1fKB)", sizeKB),
		Evidence:    map[string]any{"size_kb": sizeKB, "threshold_kb": maxResponseKB},
		RuleID:      "exfil_volume_v1",
	}
}

func checkEncodedData(text string) []security.DetectionResult {
	var results []security.DetectionResult

	base64Matches := exfilBase64Pattern.FindAllString(text, -1)
	totalEncoded := 0
	for _, m := range base64Matches {
		totalEncoded += len(m)
	}
	if totalEncoded > 1000 {
		results = append(results, security.DetectionResult{
			Detected:    true,
			ThreatType:  security.ThreatDataExfiltration,
			Severity:    security.SeverityMedium,
			Confidence:  decimal.NewFromFloat(0.6),
			Source:      security.SourceHeuristic,
			Description: "large base64-encoded data detected",
			Evidence:    map[string]any{"blob_count": len(base64Matches), "total_size_bytes": totalEncoded},
			RuleID:      "exfil_encoded_v1",
		})
	}

	hexMatches := exfilHexPattern.FindAllString(text, -1)
	if len(hexMatches) > 2 {
		results = append(results, security.DetectionResult{
			Detected:    true,
			ThreatType:  security.ThreatDataExfiltration,
			Severity:    security.SeverityLow,
			Confidence:  decimal.NewFromFloat(0.4),
			Source:      security.SourceHeuristic,
			Description: "multiple hex-encoded strings detected",
			Evidence:    map[string]any{"count": len(hexMatches)},
			RuleID:      "exfil_hex_v1",
		})
	}

	return results
}
