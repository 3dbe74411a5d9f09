// Package detectors implements the Security Engine's built-in
// detector set (spec §4.7).
package detectors

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/amerfu/proxyd/internal/security"
)

// injectionPattern is a signature regex with its technique label,
// grounded on
// original_source/proxy/app/security/detectors/prompt_injection.py's
// INJECTION_PATTERNS.
type injectionPattern struct {
	re        *regexp.Regexp
	technique string
}

func compileInjectionPatterns() []injectionPattern {
	raw := []struct{ pattern, technique string }{
		{`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`, "system_override"},
		{`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`, "system_override"},
		{`(?i)forget\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`, "system_override"},
		{`(?i)you\s+are\s+now\s+(a|an|the)\s+`, "role_manipulation"},
		{`(?i)your\s+new\s+(role|instructions?|task)\s+is`, "role_manipulation"},
		{`(?i)override\s+(your\s+)?(previous|default|system)\s+(instructions?|prompts?)`, "system_override"},
		{`(?i)you\s+are\s+(now\s+)?(DAN|DAN\s*\d*|do\s+anything\s+now)`, "jailbreak_dan"},
		{`(?i)act\s+as\s+(if\s+you\s+are|a|an)\s+`, "role_manipulation"},
		{`(?i)pretend\s+(to\s+be|you\s+are)\s+`, "role_manipulation"},
		{`(?i)roleplay\s+as\s+`, "role_manipulation"},
		{`(?i)(what|show|tell|print|repeat|display)\s+(me\s+)?(your|the)\s+(system|initial|original)\s+(prompt|instructions?)`, "extraction"},
		{`(?i)reveal\s+(your|the)\s+(system|initial|original)\s+(prompt|instructions?)`, "extraction"},
		{"(?i)```\\s*system\\s*```", "delimiter_injection"},
		{`(?i)\[SYSTEM\]`, "delimiter_injection"},
		{`(?i)<\s*system\s*>`, "delimiter_injection"},
		{`(?i)bypass\s+(all\s+)?(restrictions?|constraints?|filters?|safety)`, "constraint_bypass"},
		{`(?i)ignore\s+(all\s+)?(restrictions?|constraints?|filters?|safety|ethical)`, "constraint_bypass"},
		{`(?i)disable\s+(all\s+)?(restrictions?|constraints?|filters?|safety)`, "constraint_bypass"},
	}
	out := make([]injectionPattern, 0, len(raw))
	for _, p := range raw {
		out = append(out, injectionPattern{re: regexp.MustCompile(p.pattern), technique: p.technique})
	}
	return out
}

var injectionPatterns = compileInjectionPatterns()

var base64Pattern = regexp.MustCompile(`[A-Za-z0-9+/]{80,}={0,2}`)

// PromptInjection is a sync detector combining signature regexes with
// a structural check for zero-width characters and large base64 blobs,
// per spec §4.7 #1. It applies no urgency/authority heuristic.
type PromptInjection struct{ enabled bool }

// NewPromptInjection builds an enabled PromptInjection detector.
func NewPromptInjection() *PromptInjection { return &PromptInjection{enabled: true} }

func (d *PromptInjection) Name() string  { return "prompt_injection_detector" }
func (d *PromptInjection) Enabled() bool { return d.enabled }

func (d *PromptInjection) DetectRequest(data security.RequestData) []security.DetectionResult {
	var texts []string
	if data.System != "" {
		texts = append(texts, data.System)
	}
	for _, m := range data.Messages {
		texts = append(texts, m.Content)
	}
	return d.scan(strings.Join(texts, "\n"))
}

func (d *PromptInjection) DetectResponse(data security.ResponseData) []security.DetectionResult {
	return nil // injection is a request-side concern; the model's own output is not re-scanned for it
}

func (d *PromptInjection) scan(text string) []security.DetectionResult {
	var matched []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			matched = append(matched, p.technique)
		}
	}

	hasZeroWidth := containsZeroWidth(text)
	hasLargeBase64 := base64Pattern.MatchString(text)

	if len(matched) == 0 && !hasZeroWidth && !hasLargeBase64 {
		return nil
	}

	confidence := decimal.NewFromFloat(0.5)
	if len(matched) >= 2 {
		confidence = decimal.NewFromFloat(0.75)
	}
	if hasZeroWidth || hasLargeBase64 {
		confidence = confidence.Add(decimal.NewFromFloat(0.15))
	}
	if confidence.GreaterThan(decimal.NewFromFloat(0.95)) {
		confidence = decimal.NewFromFloat(0.95)
	}

	severity := security.SeverityMedium
	if len(matched) >= 2 {
		severity = security.SeverityHigh
	}

	evidence := map[string]any{"techniques": matched, "zero_width": hasZeroWidth, "large_base64": hasLargeBase64}

	return []security.DetectionResult{{
		Detected:    true,
		ThreatType:  security.ThreatPromptInjection,
		Severity:    severity,
		Confidence:  confidence,
		Source:      security.SourceSignature,
		Description: "prompt injection signature matched",
		Evidence:    evidence,
		RuleID:      "prompt_injection_v1",
	}}
}

func containsZeroWidth(s string) bool {
	for _, r := range s {
		switch r {
		case '​', '‌', '‍', '﻿':
			return true
		}
		if unicode.Is(unicode.Cf, r) {
			return true
		}
	}
	return false
}
