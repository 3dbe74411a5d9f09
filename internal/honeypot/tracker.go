package honeypot

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// toolSignatures maps a scanning tool's name to the substrings its
// default User-Agent carries, grounded on honeypot.py's
// AttackerTracker._tool_signatures.
var toolSignatures = map[string][]string{
	"sqlmap":    {"sqlmap"},
	"nmap":      {"nmap"},
	"nikto":     {"nikto"},
	"burp":      {"burp"},
	"masscan":   {"masscan"},
	"gobuster":  {"gobuster"},
	"dirbuster": {"dirbuster"},
	"wfuzz":     {"wfuzz"},
}

// Profile is one attacker's accumulated behavior, fingerprinted by
// IP+UA rather than by session, since honeypot probers rarely carry
// an authenticated identity.
type Profile struct {
	AttackerID    string
	IPAddress     string
	UserAgent     string
	HoneypotHits  int
	Endpoints     []string
	TrapKeywords  []string
	ToolSignatures []string
	ThreatLevel   string // unknown | low | medium | high | critical
	IsBot         bool
	FirstSeen     time.Time
	LastSeen      time.Time
}

// IsRepeatedOffender reports whether this attacker has hit three or
// more honeypots, the teacher's escalation threshold.
func (p *Profile) IsRepeatedOffender() bool { return p.HoneypotHits >= 3 }

const maxProfiles = 10000

// Tracker fingerprints and scores honeypot probers, grounded on
// honeypot.py's AttackerTracker.
type Tracker struct {
	mu       sync.Mutex
	profiles map[string]*Profile
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{profiles: map[string]*Profile{}}
}

func fingerprint(ip, ua string) string {
	sum := sha256.Sum256([]byte(ip + ":" + ua))
	return hex.EncodeToString(sum[:])[:16]
}

// GetOrCreate returns the existing profile for ip+ua or creates one,
// evicting the oldest-seen profile first if at capacity.
func (t *Tracker) GetOrCreate(ip, ua string) *Profile {
	id := fingerprint(ip, ua)

	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.profiles[id]; ok {
		return p
	}
	if len(t.profiles) >= maxProfiles {
		t.evictOldestLocked()
	}
	now := time.Now()
	p := &Profile{
		AttackerID:  id,
		IPAddress:   ip,
		UserAgent:   ua,
		ThreatLevel: "unknown",
		FirstSeen:   now,
		LastSeen:    now,
	}
	t.profiles[id] = p
	return p
}

func (t *Tracker) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, p := range t.profiles {
		if oldestID == "" || p.LastSeen.Before(oldest) {
			oldestID, oldest = id, p.LastSeen
		}
	}
	delete(t.profiles, oldestID)
}

// RecordHit updates a profile after a honeypot access and recomputes
// its threat level.
func (t *Tracker) RecordHit(p *Profile, path string, trapKeywords []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p.HoneypotHits++
	p.Endpoints = append(p.Endpoints, path)
	if len(p.Endpoints) > 50 {
		p.Endpoints = p.Endpoints[len(p.Endpoints)-50:]
	}
	for _, kw := range trapKeywords {
		if !contains(p.TrapKeywords, kw) {
			p.TrapKeywords = append(p.TrapKeywords, kw)
		}
	}
	p.LastSeen = time.Now()
	t.updateThreatLevelLocked(p)
}

func (t *Tracker) updateThreatLevelLocked(p *Profile) {
	tools := detectToolSignatures(p.UserAgent)
	p.ToolSignatures = tools

	score := 0
	switch {
	case p.HoneypotHits >= 5:
		score += 3
	case p.HoneypotHits >= 3:
		score += 2
	case p.HoneypotHits >= 1:
		score += 1
	}
	if len(tools) > 0 {
		score += 2
		p.IsBot = true
	}
	if len(p.Endpoints) >= 5 {
		score++
	}

	switch {
	case score >= 5:
		p.ThreatLevel = "critical"
	case score >= 4:
		p.ThreatLevel = "high"
	case score >= 2:
		p.ThreatLevel = "medium"
	case score >= 1:
		p.ThreatLevel = "low"
	default:
		p.ThreatLevel = "unknown"
	}
}

func detectToolSignatures(userAgent string) []string {
	ua := strings.ToLower(userAgent)
	var detected []string
	for tool, sigs := range toolSignatures {
		for _, sig := range sigs {
			if strings.Contains(ua, sig) {
				detected = append(detected, tool)
				break
			}
		}
	}
	return detected
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// Stats summarizes tracked attackers, for an operator dashboard or
// health endpoint.
type Stats struct {
	TotalProfiles    int
	ThreatLevels     map[string]int
	TotalHoneypotHits int
}

// Stats computes current tracking statistics.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{ThreatLevels: map[string]int{}}
	for _, p := range t.profiles {
		s.TotalProfiles++
		s.ThreatLevels[p.ThreatLevel]++
		s.TotalHoneypotHits += p.HoneypotHits
	}
	return s
}
