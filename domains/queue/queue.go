package queue

import (
	"context"
	"time"

	pkgError "github.com/atendezap/zapdesk/pkg/error"
)

// DefaultQueueName is the fixed sentinel name for system-provisioned intake
// queues. Combined with the tenant id it forms the stable upsert key that
// makes provisioning idempotent under concurrent callers.
const DefaultQueueName = "Atendimento Geral"

type Queue struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type IQueueRepository interface {
	GetByID(ctx context.Context, id string) (Queue, error)
	// OldestByTenant returns the tenant's default queue: the row with the
	// lowest creation order.
	OldestByTenant(ctx context.Context, tenantID string) (Queue, error)
	// UpsertByTenantAndName inserts or returns the existing row for the
	// (tenantID, name) key.
	UpsertByTenantAndName(ctx context.Context, q Queue) (Queue, error)
}

// EnsureInput identifies the inbound message on whose behalf a queue is
// being ensured; RequestID threads through logs and notifications.
type EnsureInput struct {
	TenantID   string
	RequestID  string
	InstanceID string
}

// EnsureResult is returned instead of an error: the inbound pipeline decides
// per message whether to proceed degraded or drop.
type EnsureResult struct {
	QueueID        *string                     `json:"queue_id"`
	WasProvisioned bool                        `json:"was_provisioned"`
	Failure        *pkgError.ProvisioningError `json:"failure,omitempty"`
}

type IQueueUsecase interface {
	// GetDefaultQueueID resolves the tenant's default queue id. A live
	// cache entry is trusted without re-validation. With provisionIfMissing
	// false a missing queue is ("", false, nil), never an error.
	GetDefaultQueueID(ctx context.Context, tenantID string, provisionIfMissing bool) (string, bool, error)
	// ProvisionDefaultQueue upserts the sentinel queue, repairing a missing
	// tenant once. Terminal failures are *pkgError.ProvisioningError.
	ProvisionDefaultQueue(ctx context.Context, tenantID string) (string, error)
	// EnsureInboundQueue never returns an error; failures come back as data
	// and are notified to the tenant room.
	EnsureInboundQueue(ctx context.Context, input EnsureInput) EnsureResult
	// RefreshDefaultQueueID drops the cache entry and re-resolves from the
	// store, provisioning if needed. Used by the ticket ensurer's
	// stale-queue repair.
	RefreshDefaultQueueID(ctx context.Context, tenantID string) (string, error)
	InvalidateCache(tenantID string)
}
