package campaign

import (
	"context"
	"time"
)

// AgreementUnknown is the sentinel agreement id: allocations carrying it are
// emitted to the tenant room only, never to an agreement room.
const AgreementUnknown = "unknown"

type Campaign struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	InstanceID  string    `json:"instance_id"`
	Name        string    `json:"name"`
	AgreementID string    `json:"agreement_id,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Allocation is one delivered campaign-lead pairing. CampaignKey denormalizes
// campaignId-or-instanceId so the unique index matches the dedupe key shape.
type Allocation struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	LeadID      string         `json:"lead_id,omitempty"`
	CampaignID  string         `json:"campaign_id,omitempty"`
	InstanceID  string         `json:"instance_id"`
	AgreementID string         `json:"agreement_id"`
	Document    string         `json:"document"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Target is one allocation attempt: per active campaign, or a single
// synthetic {instanceId} target when no campaigns exist.
type Target struct {
	CampaignID string `json:"campaign_id,omitempty"`
	InstanceID string `json:"instance_id"`
}

// Key returns campaignId-or-instanceId, the middle segment of the dedupe
// key.
func (t Target) Key() string {
	if t.CampaignID != "" {
		return t.CampaignID
	}
	return t.InstanceID
}

type ProcessInput struct {
	TenantID   string
	InstanceID string
	LeadID     string
	Document   string
	Payload    map[string]any
	RequestID  string
}

// BaseKey returns document-or-lead-base-identifier, the last segment of the
// dedupe key.
func (in ProcessInput) BaseKey() string {
	if in.Document != "" {
		return in.Document
	}
	return in.LeadID
}

type TargetStatus string

const (
	TargetAllocated TargetStatus = "ALLOCATED"
	TargetSkipped   TargetStatus = "SKIPPED"    // dedupe window hit
	TargetDuplicate TargetStatus = "DUPLICATE"  // store unique violation
	TargetFailed    TargetStatus = "FAILED"
)

type TargetReport struct {
	Target Target       `json:"target"`
	Status TargetStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// BatchReport aggregates one processing pass. Targets are independent: a
// failure never aborts the rest of the batch.
type BatchReport struct {
	Reports   []TargetReport `json:"reports"`
	Allocated int            `json:"allocated"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
}

type ICampaignRepository interface {
	ListActiveByInstance(ctx context.Context, tenantID, instanceID string) ([]Campaign, error)
	GetByID(ctx context.Context, id string) (Campaign, error)
	CreateAllocation(ctx context.Context, a Allocation) (Allocation, error)
}

type ICampaignUsecase interface {
	BuildAllocationTargets(campaigns []Campaign, instanceID string) []Target
	ProcessAllocationTargets(ctx context.Context, input ProcessInput, targets []Target) BatchReport
	// DeliverForInstance lists the instance's active campaigns, builds
	// targets and processes them; the REST allocation intake calls this.
	DeliverForInstance(ctx context.Context, input ProcessInput) (BatchReport, error)
}
