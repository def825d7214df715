package instance

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending      Status = "PENDING"
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED"
)

// MetadataAutoProvisionKey is the namespaced sub-object inside Instance
// metadata that records auto-provisioning provenance. It is merged on every
// touch, never overwritten wholesale.
const MetadataAutoProvisionKey = "autoProvision"

// Instance is one connected messaging-session endpoint owned by a tenant.
// (TenantID, BrokerID) is the natural dedup key against broker-side session
// identity; ID may be broker-supplied or system-generated.
type Instance struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	BrokerID   string         `json:"broker_id"`
	Name       string         `json:"name"`
	Status     Status         `json:"status"`
	Connected  bool           `json:"connected"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	LastSeenAt *time.Time     `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// IsActive reports whether the instance currently carries a usable session.
func (i Instance) IsActive() bool {
	return i.Connected || i.Status == StatusConnected
}

type IInstanceRepository interface {
	GetByID(ctx context.Context, id string) (Instance, error)
	GetByTenantAndBroker(ctx context.Context, tenantID, brokerID string) (Instance, error)
	// GetByBrokerID returns the most recently updated match when the broker
	// id is not tenant-unique.
	GetByBrokerID(ctx context.Context, brokerID string) (Instance, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Instance, error)
	Create(ctx context.Context, inst Instance) (Instance, error)
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
	UpdateConnection(ctx context.Context, id string, status Status, connected bool, lastSeenAt *time.Time) error
}

// AutoProvisionInput is the broker-supplied material for instance
// provisioning. Metadata is attacker-influenced; nothing in it is trusted
// beyond identifier extraction.
type AutoProvisionInput struct {
	InstanceID string
	Metadata   map[string]any
	RequestID  string
}

type Outcome string

const (
	// OutcomeCreated: this call created the instance row.
	OutcomeCreated Outcome = "CREATED"
	// OutcomeReused: an existing row matched (possibly after losing a
	// creation race) and was metadata-merged.
	OutcomeReused Outcome = "REUSED"
	// OutcomeNotApplicable: no tenant identifiers, or no matching tenant.
	// Expected for many legitimate broker pings.
	OutcomeNotApplicable Outcome = "NOT_APPLICABLE"
	// OutcomeFailed: the store misbehaved in a way provisioning cannot
	// repair. The pipeline degrades instead of crashing.
	OutcomeFailed Outcome = "FAILED"
)

// AutoProvisionResult is the explicit soft-fail result: callers switch on
// Outcome instead of testing nil.
type AutoProvisionResult struct {
	Outcome    Outcome   `json:"outcome"`
	Instance   *Instance `json:"instance,omitempty"`
	WasCreated bool      `json:"was_created"`
	BrokerID   string    `json:"broker_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

type IInstanceUsecase interface {
	// AttemptAutoProvision never returns a Go error: every failure mode is
	// represented in the result so the per-message pipeline can decide how
	// degraded to run.
	AttemptAutoProvision(ctx context.Context, input AutoProvisionInput) AutoProvisionResult
	// SelectActive deterministically picks the instance an inbound event
	// without an explicit instance id should bind to.
	SelectActive(ctx context.Context, tenantID string) (Instance, error)
	List(ctx context.Context, tenantID string) ([]Instance, error)
	GetByID(ctx context.Context, id string) (Instance, error)
	MarkConnection(ctx context.Context, id string, connected bool) error
}
