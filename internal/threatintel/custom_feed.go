package threatintel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// IOCRecord is a single known indicator, as loaded from a static feed
// definition (JSON config, STIX export, etc.), grounded on
// threat_intel/__init__.py's IOC/CustomFeed.
type IOCRecord struct {
	Type        IOCType
	Value       string
	Severity    Severity
	Confidence  decimal.Decimal
	ThreatTypes []string
	Tags        []string
}

func iocKey(iocType IOCType, value string) string {
	sum := sha256.Sum256([]byte(value))
	return string(iocType) + ":" + hex.EncodeToString(sum[:])[:16]
}

// CustomFeed is a static, in-process IOC blocklist, the Go analogue
// of CustomFeed in threat_intel/__init__.py (a JSON/STIX-loaded feed
// with no outbound network calls). It implements Lookup directly;
// wrap it in a TTLCache when fronting a feed with real network
// latency.
type CustomFeed struct {
	name string
	iocs map[string]IOCRecord
}

// NewCustomFeed builds a CustomFeed from a static record list.
func NewCustomFeed(name string, records []IOCRecord) *CustomFeed {
	iocs := make(map[string]IOCRecord, len(records))
	for _, r := range records {
		iocs[iocKey(r.Type, r.Value)] = r
	}
	return &CustomFeed{name: name, iocs: iocs}
}

func (f *CustomFeed) Lookup(ctx context.Context, iocType IOCType, value string) ([]Match, error) {
	rec, ok := f.iocs[iocKey(iocType, value)]
	if !ok {
		return nil, nil
	}
	return []Match{{
		Severity:    rec.Severity,
		Confidence:  rec.Confidence,
		Sources:     []string{f.name},
		ThreatTypes: rec.ThreatTypes,
	}}, nil
}

type cacheEntry struct {
	matches []Match
	expires time.Time
}

// TTLCache wraps a Lookup with a time-bounded result cache, grounded
// on threat_intel/__init__.py's ThreatIntelCache.
type TTLCache struct {
	mu      sync.Mutex
	upstream Lookup
	ttl     time.Duration
	entries map[string]cacheEntry
	maxSize int
}

// NewTTLCache wraps upstream with a cache holding at most maxSize
// entries, each valid for ttl.
func NewTTLCache(upstream Lookup, maxSize int, ttl time.Duration) *TTLCache {
	return &TTLCache{upstream: upstream, ttl: ttl, maxSize: maxSize, entries: map[string]cacheEntry{}}
}

func (c *TTLCache) Lookup(ctx context.Context, iocType IOCType, value string) ([]Match, error) {
	key := iocKey(iocType, value)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.matches, nil
	}
	c.mu.Unlock()

	matches, err := c.upstream.Lookup(ctx, iocType, value)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxSize {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = cacheEntry{matches: matches, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return matches, nil
}
