// Package threatintel defines the collaborator interface the
// Security Engine's threat-intel detector consults for IOC lookups,
// grounded on
// _examples/original_source/proxy/app/threat_intel/__init__.py's
// ThreatIntelManager.
package threatintel

import (
	"context"

	"github.com/shopspring/decimal"
)

// IOCType classifies an indicator of compromise.
type IOCType string

const (
	IOCIP         IOCType = "ip"
	IOCDomain     IOCType = "domain"
	IOCURL        IOCType = "url"
	IOCHashSHA256 IOCType = "hash_sha256"
)

// Severity is a threat-intel source's verdict for one IOC.
type Severity string

const (
	Benign     Severity = "benign"
	Suspicious Severity = "suspicious"
	Malicious  Severity = "malicious"
)

// Match is one feed's verdict for an IOC lookup, carrying a
// confidence the engine folds directly into its DetectionResult.
type Match struct {
	Severity    Severity
	Confidence  decimal.Decimal
	Sources     []string
	ThreatTypes []string
}

// Lookup is the collaborator interface the threat-intel detector
// depends on. The security package ships no concrete implementation;
// a feed cache, vendor API client, or local blocklist is wired in by
// whatever constructs the Security Engine.
type Lookup interface {
	Lookup(ctx context.Context, iocType IOCType, value string) ([]Match, error)
}
