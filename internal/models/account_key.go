package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccountKeyPrefix is the required prefix for proxy API keys (spec §4.4).
const AccountKeyPrefix = "acc_"

// Tier determines rate and quota defaults for a Principal (spec §3).
type Tier string

const (
	TierFree       Tier = "free"
	TierStandard   Tier = "standard"
	TierEnterprise Tier = "enterprise"
)

// AccountKey is the persisted record behind an acc_-prefixed API key.
// Only KeyHash is ever stored; the plaintext key is returned once, at
// creation time, and never again.
type AccountKey struct {
	BaseModel
	KeyHash    string     `gorm:"uniqueIndex;not null" json:"-"`
	KeyPrefix  string     `gorm:"index;not null" json:"key_prefix"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null" json:"user_id"`
	AgentID    *string    `gorm:"index" json:"agent_id,omitempty"`
	Tier       Tier       `gorm:"default:standard" json:"tier"`
	IsActive   bool       `gorm:"default:true" json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

// GenerateAccountKey creates a new random acc_-prefixed key and its
// SHA-256 hex digest, mirroring the teacher's GenerateAPIKey convention
// (internal/models/api_key.go) but with spec §4.4's required prefix.
func GenerateAccountKey() (plaintext string, hash string, err error) {
	b := make([]byte, 32)
	if _, err = rand.Read(b); err != nil {
		return "", "", fmt.Errorf("models: generate account key: %w", err)
	}
	plaintext = AccountKeyPrefix + hex.EncodeToString(b)
	hash = HashAccountKey(plaintext)
	return plaintext, hash, nil
}

// HashAccountKey returns the SHA-256 hex digest of a plaintext key.
// Comparison against stored hashes is a single digest compare: since
// the input key space is a 256-bit random token, there is no
// meaningful partial-match timing channel to defend against beyond
// what a fixed-size hash compare already gives.
func HashAccountKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
