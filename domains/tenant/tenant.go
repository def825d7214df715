package tenant

import "context"

// Tenant is an isolated customer account. Rows are created lazily by the
// provisioning pipeline and are immutable afterwards as far as ingestion is
// concerned.
type Tenant struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type ITenantRepository interface {
	GetByID(ctx context.Context, id string) (Tenant, error)
	// GetByIdentifiers returns the first tenant whose id OR slug matches any
	// of the provided values, honoring the input order.
	GetByIdentifiers(ctx context.Context, ids []string, slugs []string) (Tenant, error)
	Create(ctx context.Context, t Tenant) (Tenant, error)
}

type ITenantUsecase interface {
	// Ensure is the idempotent get-or-create primitive used by the queue
	// provisioner's FK-repair path. The bool reports whether a row was
	// created by this call.
	Ensure(ctx context.Context, id string) (Tenant, bool, error)
	// Match looks a tenant up by any of the candidate ids or slugs. A miss
	// is an expected-absence: (nil, nil).
	Match(ctx context.Context, ids []string, slugs []string) (*Tenant, error)
}
