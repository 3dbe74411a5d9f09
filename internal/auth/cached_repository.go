package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amerfu/proxyd/internal/models"
)

// CachedRepository wraps a Repository with a Redis-backed read cache,
// grounded on the teacher's internal/auth/cache.go CachedAuthService
// layering pattern. A cache miss or Redis error falls through to the
// underlying Repository — Redis is a fast path, never a dependency for
// correctness, matching spec §5's overall "auth is fail-closed, but
// failure means deny, not unavailable" stance: a down cache must never
// turn into a down authenticator.
type CachedRepository struct {
	inner  Repository
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedRepository builds a CachedRepository over inner.
func NewCachedRepository(inner Repository, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &CachedRepository{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKeyFor(hash string) string {
	return "auth:key:" + hash
}

// GetAccountKeyByHash serves from Redis when present; otherwise reads
// through to inner and populates the cache.
func (c *CachedRepository) GetAccountKeyByHash(ctx context.Context, hash string) (*models.AccountKey, error) {
	if c.rdb != nil {
		if raw, err := c.rdb.Get(ctx, cacheKeyFor(hash)).Bytes(); err == nil {
			var key models.AccountKey
			if jsonErr := json.Unmarshal(raw, &key); jsonErr == nil {
				return &key, nil
			}
		}
	}

	key, err := c.inner.GetAccountKeyByHash(ctx, hash)
	if err != nil || key == nil {
		return key, err
	}

	if c.rdb != nil {
		if raw, err := json.Marshal(key); err == nil {
			if err := c.rdb.Set(ctx, cacheKeyFor(hash), raw, c.ttl).Err(); err != nil {
				c.logger.Debug("auth: cache populate failed", zap.Error(err))
			}
		}
	}

	return key, nil
}

// TouchLastUsed always delegates straight to inner — last_used_at is
// a write, never served from the read cache.
func (c *CachedRepository) TouchLastUsed(ctx context.Context, keyID string, at time.Time) {
	c.inner.TouchLastUsed(ctx, keyID, at)
}
