package store

import (
	"context"
	"time"

	domainLead "github.com/atendezap/zapdesk/domains/lead"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type LeadRepository struct {
	db *gorm.DB
}

func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

func (r *LeadRepository) GetByTenantAndContact(ctx context.Context, tenantID, contactID string) (domainLead.Lead, error) {
	var m leadModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ?", tenantID, contactID).
		First(&m).Error
	if err != nil {
		return domainLead.Lead{}, translate(err)
	}
	return fromLeadModel(m), nil
}

func (r *LeadRepository) Create(ctx context.Context, l domainLead.Lead) (domainLead.Lead, error) {
	m := toLeadModel(l)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domainLead.Lead{}, translate(err)
	}
	return fromLeadModel(m), nil
}

// AdvanceLastContact moves last_contact_at forward only. The guard lives in
// the WHERE clause so concurrent out-of-order deliveries cannot rewind it.
func (r *LeadRepository) AdvanceLastContact(ctx context.Context, leadID string, at time.Time) (domainLead.Lead, error) {
	res := r.db.WithContext(ctx).Model(&leadModel{}).
		Where("id = ? AND last_contact_at < ?", leadID, at).
		Update("last_contact_at", at)
	if res.Error != nil {
		return domainLead.Lead{}, translate(res.Error)
	}

	var m leadModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", leadID).Error; err != nil {
		return domainLead.Lead{}, translate(err)
	}
	return fromLeadModel(m), nil
}

func (r *LeadRepository) FindActivityByMessageID(ctx context.Context, tenantID, messageID string) (domainLead.Activity, error) {
	var m leadActivityModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND message_id = ?", tenantID, messageID).
		First(&m).Error
	if err != nil {
		return domainLead.Activity{}, translate(err)
	}
	return fromLeadActivityModel(m), nil
}

func (r *LeadRepository) CreateActivity(ctx context.Context, a domainLead.Activity) (domainLead.Activity, error) {
	m := toLeadActivityModel(a)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domainLead.Activity{}, translate(err)
	}
	return fromLeadActivityModel(m), nil
}

// --- Mappers ---

func toLeadModel(l domainLead.Lead) leadModel {
	return leadModel{
		ID:            l.ID,
		TenantID:      l.TenantID,
		ContactID:     l.ContactID,
		Status:        l.Status,
		Source:        l.Source,
		LastContactAt: l.LastContactAt,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}

func fromLeadModel(m leadModel) domainLead.Lead {
	return domainLead.Lead{
		ID:            m.ID,
		TenantID:      m.TenantID,
		ContactID:     m.ContactID,
		Status:        m.Status,
		Source:        m.Source,
		LastContactAt: m.LastContactAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toLeadActivityModel(a domainLead.Activity) leadActivityModel {
	m := leadActivityModel{
		ID:         a.ID,
		TenantID:   a.TenantID,
		LeadID:     a.LeadID,
		Type:       a.Type,
		OccurredAt: a.OccurredAt,
		Metadata:   datatypes.JSONMap(a.Metadata),
		CreatedAt:  a.CreatedAt,
	}
	// message_id is denormalized out of metadata so the dedup probe hits an
	// index instead of parsing JSON.
	if a.Metadata != nil {
		if v, ok := a.Metadata["messageId"].(string); ok && v != "" {
			m.MessageID = &v
		}
	}
	return m
}

func fromLeadActivityModel(m leadActivityModel) domainLead.Activity {
	return domainLead.Activity{
		ID:         m.ID,
		TenantID:   m.TenantID,
		LeadID:     m.LeadID,
		Type:       m.Type,
		OccurredAt: m.OccurredAt,
		Metadata:   map[string]any(m.Metadata),
		CreatedAt:  m.CreatedAt,
	}
}
