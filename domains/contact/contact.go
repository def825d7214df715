package contact

import (
	"context"
	"time"
)

type Phone struct {
	ID           string     `json:"id"`
	Number       string     `json:"number"`
	IsPrimary    bool       `json:"is_primary"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
}

type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Contact is the external person behind an inbound conversation, upserted by
// phone match within tenant scope.
type Contact struct {
	ID           string  `json:"id"`
	TenantID     string  `json:"tenant_id"`
	DisplayName  string  `json:"display_name"`
	FullName     string  `json:"full_name,omitempty"`
	PrimaryPhone string  `json:"primary_phone"`
	Phones       []Phone `json:"phones,omitempty"`
	Tags         []Tag   `json:"tags,omitempty"`
}

type ResolveInput struct {
	TenantID    string
	Phone       string
	DisplayName string
	Tags        []string
}

type IContactRepository interface {
	// FindByPhone matches against live (non-superseded) phone rows.
	FindByPhone(ctx context.Context, tenantID, phone string) (Contact, error)
	Create(ctx context.Context, c Contact) (Contact, error)
	// Reconcile runs the full phone/tag reconciliation in one transaction:
	// stale phones are superseded (kept for history), tags are resolved by
	// name (created on first use) and associations no longer implied by the
	// current message are removed. Returns the hydrated contact.
	Reconcile(ctx context.Context, contactID string, input ResolveInput) (Contact, error)
	GetByID(ctx context.Context, id string) (Contact, error)
}

type IContactUsecase interface {
	// Resolve finds or creates the contact for an inbound message and
	// reconciles phone/tag state. Concurrent resolvers for the same phone
	// converge on one row.
	Resolve(ctx context.Context, input ResolveInput) (Contact, error)
}
