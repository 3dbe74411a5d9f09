package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amerfu/proxyd/internal/models"
)

// Repository looks up an AccountKey by its SHA-256 hash and records
// fire-and-forget usage, per spec §4.4.
type Repository interface {
	GetAccountKeyByHash(ctx context.Context, hash string) (*models.AccountKey, error)
	TouchLastUsed(ctx context.Context, keyID string, at time.Time)
}

// Authenticator resolves inbound request headers to a Principal.
// Fail-closed: any lookup error or inactive record is treated the same
// as "forbidden" (spec §5 marks Authentication fail-closed, unlike the
// Budget Engine's fail-open policy).
type Authenticator struct {
	repo      Repository
	logger    *zap.Logger
	jwtSecret []byte // optional alternate principal path; empty disables it
}

// New builds an Authenticator. jwtSecret may be empty to disable the
// JWT principal path entirely (API-key only).
func New(repo Repository, jwtSecret []byte, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{repo: repo, logger: logger, jwtSecret: jwtSecret}
}

// Authenticate extracts a credential from the inbound headers and
// resolves it to a Principal. Accepts `Authorization: Bearer <key>` or
// `x-acc-api-key: <key>` per spec §4.4; the key must carry the `acc_`
// prefix. When both headers are present, `x-acc-api-key` is used.
// Returns ErrUnauthenticated when no credential is present at
// all, ErrForbidden when one is present but invalid/revoked.
func (a *Authenticator) Authenticate(ctx context.Context, h http.Header) (*Principal, error) {
	cred, ok := extractCredential(h)
	if !ok {
		return nil, ErrUnauthenticated
	}

	if strings.HasPrefix(cred, models.AccountKeyPrefix) {
		return a.authenticateKey(ctx, cred)
	}
	if len(a.jwtSecret) > 0 {
		return a.authenticateJWT(cred)
	}
	return nil, ErrForbidden
}

func (a *Authenticator) authenticateKey(ctx context.Context, key string) (*Principal, error) {
	hash := models.HashAccountKey(key)

	record, err := a.repo.GetAccountKeyByHash(ctx, hash)
	if err != nil {
		// A failed lookup (not-found) and a revoked lookup must be
		// indistinguishable in timing and response shape per spec §4.4.
		a.logger.Debug("auth: key lookup failed", zap.Error(err))
		return nil, ErrForbidden
	}
	if record == nil || !record.IsActive {
		return nil, ErrForbidden
	}

	// Fire-and-forget, non-blocking, no retry (spec §4.4).
	go a.repo.TouchLastUsed(context.Background(), record.ID.String(), time.Now())

	return &Principal{
		UserID:  record.UserID,
		AgentID: record.AgentID,
		Tier:    record.Tier,
		KeyHash: hash,
	}, nil
}

func (a *Authenticator) authenticateJWT(token string) (*Principal, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrForbidden
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, ErrForbidden
	}
	tier := models.TierStandard
	if t, ok := claims["tier"].(string); ok && t != "" {
		tier = models.Tier(t)
	}

	return &Principal{
		UserID: userID,
		Tier:   tier,
	}, nil
}

func extractCredential(h http.Header) (string, bool) {
	if key := h.Get("x-acc-api-key"); key != "" {
		return key, true
	}
	if auth := h.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer "), true
		}
	}
	return "", false
}
