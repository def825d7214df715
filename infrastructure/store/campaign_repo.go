package store

import (
	"context"

	domainCampaign "github.com/atendezap/zapdesk/domains/campaign"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CampaignRepository struct {
	db *gorm.DB
}

func NewCampaignRepository(db *gorm.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

func (r *CampaignRepository) ListActiveByInstance(ctx context.Context, tenantID, instanceID string) ([]domainCampaign.Campaign, error) {
	var models []campaignModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND instance_id = ? AND is_active = ?", tenantID, instanceID, true).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, translate(err)
	}
	res := make([]domainCampaign.Campaign, len(models))
	for i, m := range models {
		res[i] = fromCampaignModel(m)
	}
	return res, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (domainCampaign.Campaign, error) {
	var m campaignModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return domainCampaign.Campaign{}, translate(err)
	}
	return fromCampaignModel(m), nil
}

// CreateAllocation relies on the (tenant_id, campaign_key, base_key) unique
// index: a second delivery for the same key comes back as a unique
// ConstraintError, never as a second row.
func (r *CampaignRepository) CreateAllocation(ctx context.Context, a domainCampaign.Allocation) (domainCampaign.Allocation, error) {
	m := toAllocationModel(a)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domainCampaign.Allocation{}, translate(err)
	}
	return fromAllocationModel(m), nil
}

// --- Mappers ---

func fromCampaignModel(m campaignModel) domainCampaign.Campaign {
	return domainCampaign.Campaign{
		ID:          m.ID,
		TenantID:    m.TenantID,
		InstanceID:  m.InstanceID,
		Name:        m.Name,
		AgreementID: m.AgreementID,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
	}
}

func toAllocationModel(a domainCampaign.Allocation) allocationModel {
	campaignKey := a.CampaignID
	if campaignKey == "" {
		campaignKey = a.InstanceID
	}
	baseKey := a.Document
	if baseKey == "" {
		baseKey = a.LeadID
	}
	return allocationModel{
		ID:          a.ID,
		TenantID:    a.TenantID,
		CampaignKey: campaignKey,
		BaseKey:     baseKey,
		CampaignID:  nullString(a.CampaignID),
		InstanceID:  a.InstanceID,
		LeadID:      nullString(a.LeadID),
		AgreementID: a.AgreementID,
		Document:    nullString(a.Document),
		Payload:     datatypes.JSONMap(a.Payload),
		CreatedAt:   a.CreatedAt,
	}
}

func fromAllocationModel(m allocationModel) domainCampaign.Allocation {
	return domainCampaign.Allocation{
		ID:          m.ID,
		TenantID:    m.TenantID,
		LeadID:      nullStringValue(m.LeadID),
		CampaignID:  nullStringValue(m.CampaignID),
		InstanceID:  m.InstanceID,
		AgreementID: m.AgreementID,
		Document:    nullStringValue(m.Document),
		Payload:     map[string]any(m.Payload),
		CreatedAt:   m.CreatedAt,
	}
}
