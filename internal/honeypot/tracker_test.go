package honeypot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetOrCreateReturnsSameProfileForSameFingerprint(t *testing.T) {
	tr := NewTracker()
	p1 := tr.GetOrCreate("1.2.3.4", "curl/8.0")
	p2 := tr.GetOrCreate("1.2.3.4", "curl/8.0")
	assert.Same(t, p1, p2)
}

func TestGetOrCreateDistinguishesByIPAndUserAgent(t *testing.T) {
	tr := NewTracker()
	p1 := tr.GetOrCreate("1.2.3.4", "curl/8.0")
	p2 := tr.GetOrCreate("5.6.7.8", "curl/8.0")
	assert.NotEqual(t, p1.AttackerID, p2.AttackerID)
}

func TestRecordHitEscalatesThreatLevel(t *testing.T) {
	tr := NewTracker()
	p := tr.GetOrCreate("1.2.3.4", "curl/8.0")

	tr.RecordHit(p, "/admin", []string{"admin"})
	assert.Equal(t, "low", p.ThreatLevel)

	tr.RecordHit(p, "/.env", []string{"env"})
	tr.RecordHit(p, "/debug", []string{"debug"})
	assert.True(t, p.IsRepeatedOffender())
	assert.Equal(t, "medium", p.ThreatLevel)
}

func TestRecordHitDetectsToolSignature(t *testing.T) {
	tr := NewTracker()
	p := tr.GetOrCreate("1.2.3.4", "sqlmap/1.7")

	tr.RecordHit(p, "/admin", []string{"admin"})
	assert.True(t, p.IsBot)
	assert.Contains(t, p.ToolSignatures, "sqlmap")
}

func TestRecordHitDedupesTrapKeywords(t *testing.T) {
	tr := NewTracker()
	p := tr.GetOrCreate("1.2.3.4", "curl/8.0")

	tr.RecordHit(p, "/admin", []string{"admin"})
	tr.RecordHit(p, "/admin", []string{"admin"})
	assert.Equal(t, []string{"admin"}, p.TrapKeywords)
}
