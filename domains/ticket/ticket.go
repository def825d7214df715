package ticket

import (
	"context"
	"time"
)

type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

type Ticket struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	ContactID string         `json:"contact_id"`
	QueueID   string         `json:"queue_id"`
	Status    Status         `json:"status"`
	Subject   string         `json:"subject,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type EnsureInput struct {
	TenantID  string
	ContactID string
	QueueID   string
	Subject   string
	Extra     map[string]any
}

type ITicketRepository interface {
	GetByID(ctx context.Context, id string) (Ticket, error)
	// FindOpenByContact returns the contact's current open conversation, if
	// any, so redelivered messages reuse it.
	FindOpenByContact(ctx context.Context, tenantID, contactID string) (Ticket, error)
	Create(ctx context.Context, t Ticket) (Ticket, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

type ITicketUsecase interface {
	// EnsureForContact creates or reuses the conversation ticket. A stale
	// queue reference is repaired once (cache invalidation + fresh queue
	// resolve); the second failure propagates.
	EnsureForContact(ctx context.Context, input EnsureInput) (Ticket, error)
}
