// Package auth implements the Authenticator (C4): resolving inbound
// request credentials to a Principal, per spec §4.4.
package auth

import (
	"errors"

	"github.com/google/uuid"

	"github.com/amerfu/proxyd/internal/models"
)

// Principal is the authenticated subject of a request (spec §3): a
// user, optionally scoped to an agent, at a billing tier.
type Principal struct {
	UserID  uuid.UUID
	AgentID *string
	Tier    models.Tier
	KeyHash string
}

// ErrUnauthenticated means no usable credential was presented at all
// (missing key) — callers should respond 401 with WWW-Authenticate.
var ErrUnauthenticated = errors.New("auth: no credential presented")

// ErrForbidden means a credential was presented but is revoked/inactive
// or otherwise invalid — callers should respond 403.
var ErrForbidden = errors.New("auth: credential rejected")
