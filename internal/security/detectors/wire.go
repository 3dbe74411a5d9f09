package detectors

import (
	"github.com/amerfu/proxyd/internal/security"
	"github.com/amerfu/proxyd/internal/security/rules"
	"github.com/amerfu/proxyd/internal/threatintel"
)

// RegisterDefaults wires the full built-in detector set into an
// Engine: the eight stateless/stateful sync detectors run inline on
// the bounded worker pool, and ThreatIntel is the sole async detector
// (it is the only one with genuine external-call latency); the engine
// waits for it, under its own timeout, before returning a summary.
// Returns the rules.Engine so the caller can load
// tenant-specific rules via its repository once wired.
func RegisterDefaults(e *security.Engine, lookup threatintel.Lookup) *rules.Engine {
	customRules := rules.New()

	e.RegisterSync(NewPromptInjection())
	e.RegisterSync(NewCredential())
	e.RegisterSync(NewDataExfiltration())
	e.RegisterSync(NewToolAbuse())
	e.RegisterSync(NewRunaway())
	e.RegisterSync(NewAnomaly())
	e.RegisterSync(customRules)
	e.RegisterSync(NewSemanticSimilarity())

	e.RegisterAsync(NewThreatIntel(lookup))

	return customRules
}
