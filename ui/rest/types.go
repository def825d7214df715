package rest

import (
	domainCampaign "github.com/atendezap/zapdesk/domains/campaign"
)

// AllocationRequest is the body of POST /webhooks/broker/allocations. The
// caller names the instance explicitly; the campaigns fan out from there.
type AllocationRequest struct {
	TenantID   string         `json:"tenantId"`
	InstanceID string         `json:"instanceId"`
	LeadID     string         `json:"leadId,omitempty"`
	Document   string         `json:"document,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
}

func (r AllocationRequest) toProcessInput() domainCampaign.ProcessInput {
	return domainCampaign.ProcessInput{
		TenantID:   r.TenantID,
		InstanceID: r.InstanceID,
		LeadID:     r.LeadID,
		Document:   r.Document,
		Payload:    r.Payload,
		RequestID:  r.RequestID,
	}
}
