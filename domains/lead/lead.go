package lead

import (
	"context"
	"time"
)

const (
	StatusNew      = "NEW"
	SourceWhatsApp = "WHATSAPP"

	// ActivityWhatsAppReplied is the only activity type this pipeline
	// appends; one per distinct inbound message id.
	ActivityWhatsAppReplied = "WHATSAPP_REPLIED"
)

// Lead is the CRM record for a contact, one per (tenant, contact).
// LastContactAt advances monotonically on every inbound message regardless
// of activity dedup.
type Lead struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ContactID     string    `json:"contact_id"`
	Status        string    `json:"status"`
	Source        string    `json:"source"`
	LastContactAt time.Time `json:"last_contact_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Activity is a timestamped event attached to a lead. Metadata carries
// messageId (the dedup probe), ticketId, instanceId, providerMessageId,
// contactId and a bounded preview of the message content.
type Activity struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	LeadID     string         `json:"lead_id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

type UpsertInput struct {
	TenantID          string
	ContactID         string
	TicketID          string
	InstanceID        string
	ProviderMessageID string
	MessageID         string
	MessageText       string
	MessageCreatedAt  time.Time
}

// UpsertResult reports what actually happened so the caller can reason
// about redeliveries: Deduplicated true means no activity and no realtime
// emission occurred, while the lead's LastContactAt still advanced.
type UpsertResult struct {
	Lead         Lead      `json:"lead"`
	Activity     *Activity `json:"activity,omitempty"`
	LeadCreated  bool      `json:"lead_created"`
	Deduplicated bool      `json:"deduplicated"`
}

type ILeadRepository interface {
	GetByTenantAndContact(ctx context.Context, tenantID, contactID string) (Lead, error)
	Create(ctx context.Context, l Lead) (Lead, error)
	// AdvanceLastContact only moves the timestamp forward; an older value
	// is a no-op.
	AdvanceLastContact(ctx context.Context, leadID string, at time.Time) (Lead, error)
	FindActivityByMessageID(ctx context.Context, tenantID, messageID string) (Activity, error)
	CreateActivity(ctx context.Context, a Activity) (Activity, error)
}

type ILeadUsecase interface {
	UpsertFromInbound(ctx context.Context, input UpsertInput) (UpsertResult, error)
}
