// Package tenancy defines the collaborator interface the Budget
// Engine consults when resolving a per_agent scope budget against an
// organization's resource quota, grounded on
// _examples/original_source/proxy/app/security/multitenant.py's
// TenantConfig.max_agents and related quota fields.
package tenancy

import "context"

// Quota is one organization's resource limits, the fields the Budget
// Engine's per_agent scope resolution needs. It deliberately omits
// multitenant.py's rate-limit and feature-flag fields, which belong to
// request-admission middleware, not budget scope resolution.
type Quota struct {
	OrgID     string
	MaxAgents int
}

// TenantQuota is the collaborator interface for looking up an
// organization's quota. The Budget Engine ships no concrete
// implementation; one is wired in by whatever constructs it, backed
// by the organization repository.
type TenantQuota interface {
	QuotaFor(ctx context.Context, orgID string) (Quota, error)
}
