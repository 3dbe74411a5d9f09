package detectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/amerfu/proxyd/internal/security"
	"github.com/amerfu/proxyd/internal/threatintel"
)

var (
	iocIPPattern     = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`)
	iocDomainPattern = regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.){1,}[a-zA-Z]{2,}\b`)
	iocURLPattern    = regexp.MustCompile(`https?://(?:[-\w.]|(?:%[\da-fA-F]{2}))+[/\w .\-]*/?`)
	iocSHA256Pattern = regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)
)

var safeDomains = []string{
	"google.com", "microsoft.com", "amazon.com", "apple.com",
	"github.com", "stackoverflow.com", "wikipedia.org",
	"anthropic.com", "openai.com",
}

var safeURLPrefixes = []string{
	"https://github.com/", "https://docs.google.com/",
	"https://stackoverflow.com/", "https://developer.mozilla.org/",
}

// ThreatIntel is an async detector extracting IOCs (IPs, domains,
// URLs, SHA256 hashes) from request and response text and checking
// them against a threatintel.Lookup collaborator, per spec §4.7 #8.
type ThreatIntel struct {
	enabled bool
	lookup  threatintel.Lookup
}

// NewThreatIntel builds a ThreatIntel detector. It is enabled only
// when a lookup collaborator is provided; without one it is a no-op,
// matching the Python's own "if not self._intel_manager: return []"
// guard.
func NewThreatIntel(lookup threatintel.Lookup) *ThreatIntel {
	return &ThreatIntel{enabled: lookup != nil, lookup: lookup}
}

func (d *ThreatIntel) Name() string  { return "threat_intel_detector" }
func (d *ThreatIntel) Enabled() bool { return d.enabled }

func (d *ThreatIntel) DetectRequest(ctx context.Context, data security.RequestData) []security.DetectionResult {
	if d.lookup == nil {
		return nil
	}
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

	var results []security.DetectionResult
	seen := map[string]bool{}
	for _, ioc := range extractIOCs(text) {
		if seen[ioc.value] {
			continue
		}
		seen[ioc.value] = true

		matches, err := d.lookup.Lookup(ctx, ioc.iocType, ioc.value)
		if err != nil {
			continue
		}
		for _, m := range matches {
			switch m.Severity {
			case threatintel.Malicious:
				results = append(results, security.DetectionResult{
					Detected: true, ThreatType: security.ThreatIntelMatch, Severity: security.SeverityHigh,
					Confidence: m.Confidence, Source: security.SourceExternal,
					Description: "malicious " + string(ioc.iocType) + " detected: " + redactIOC(ioc.value),
					Evidence:    map[string]any{"ioc_type": ioc.iocType, "ioc_value_hash": hashIOC(ioc.value), "sources": m.Sources, "threat_types": m.ThreatTypes},
					RuleID:      "threat_intel_malicious_v1",
				})
			case threatintel.Suspicious:
				results = append(results, security.DetectionResult{
					Detected: true, ThreatType: security.ThreatIntelMatch, Severity: security.SeverityMedium,
					Confidence: m.Confidence, Source: security.SourceExternal,
					Description: "suspicious " + string(ioc.iocType) + " detected",
					Evidence:    map[string]any{"ioc_type": ioc.iocType, "ioc_value_hash": hashIOC(ioc.value), "sources": m.Sources},
					RuleID:      "threat_intel_suspicious_v1",
				})
			}
		}
	}
	return results
}

func (d *ThreatIntel) DetectResponse(ctx context.Context, data security.ResponseData) []security.DetectionResult {
	if d.lookup == nil || data.Content == "" {
		return nil
	}

	var results []security.DetectionResult
	seen := map[string]bool{}
	for _, ioc := range extractIOCs(data.Content) {
		if seen[ioc.value] {
			continue
		}
		seen[ioc.value] = true

		matches, err := d.lookup.Lookup(ctx, ioc.iocType, ioc.value)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if m.Severity != threatintel.Malicious {
				continue
			}
			results = append(results, security.DetectionResult{
				Detected: true, ThreatType: security.ThreatIntelMatch, Severity: security.SeverityCritical,
				Confidence: m.Confidence, Source: security.SourceExternal,
				Description: "C2/malicious infrastructure in response",
				Evidence:    map[string]any{"ioc_type": ioc.iocType, "ioc_value_hash": hashIOC(ioc.value), "sources": m.Sources},
				RuleID:      "threat_intel_c2_v1",
			})
		}
	}
	return results
}

type extractedIOC struct {
	iocType threatintel.IOCType
	value   string
}

func extractIOCs(text string) []extractedIOC {
	var iocs []extractedIOC

	for _, ip := range iocIPPattern.FindAllString(text, -1) {
		if !isPrivateIP(ip) {
			iocs = append(iocs, extractedIOC{threatintel.IOCIP, ip})
		}
	}
	for _, domain := range iocDomainPattern.FindAllString(text, -1) {
		lower := strings.ToLower(domain)
		if !isSafeDomain(lower) {
			iocs = append(iocs, extractedIOC{threatintel.IOCDomain, lower})
		}
	}
	for _, url := range iocURLPattern.FindAllString(text, -1) {
		if !isSafeURL(url) {
			iocs = append(iocs, extractedIOC{threatintel.IOCURL, url})
		}
	}
	for _, hash := range iocSHA256Pattern.FindAllString(text, -1) {
		iocs = append(iocs, extractedIOC{threatintel.IOCHashSHA256, strings.ToLower(hash)})
	}

	return iocs
}

func isPrivateIP(ip string) bool {
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return false
	}
	parts := make([]int, 4)
	for i, o := range octets {
		n, err := strconv.Atoi(o)
		if err != nil {
			return false
		}
		parts[i] = n
	}
	if parts[0] == 10 || parts[0] == 127 {
		return true
	}
	if parts[0] == 172 && parts[1] >= 16 && parts[1] <= 31 {
		return true
	}
	return parts[0] == 192 && parts[1] == 168
}

func isSafeDomain(domain string) bool {
	for _, safe := range safeDomains {
		if domain == safe || strings.HasSuffix(domain, "."+safe) {
			return true
		}
	}
	return false
}

func isSafeURL(url string) bool {
	lower := strings.ToLower(url)
	for _, prefix := range safeURLPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func redactIOC(value string) string {
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

func hashIOC(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
