package store

import (
	"context"
	"time"

	domainInstance "github.com/atendezap/zapdesk/domains/instance"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type InstanceRepository struct {
	db *gorm.DB
}

func NewInstanceRepository(db *gorm.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (domainInstance.Instance, error) {
	var m instanceModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return domainInstance.Instance{}, translate(err)
	}
	return fromInstanceModel(m), nil
}

func (r *InstanceRepository) GetByTenantAndBroker(ctx context.Context, tenantID, brokerID string) (domainInstance.Instance, error) {
	var m instanceModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND broker_id = ?", tenantID, brokerID).
		First(&m).Error
	if err != nil {
		return domainInstance.Instance{}, translate(err)
	}
	return fromInstanceModel(m), nil
}

func (r *InstanceRepository) GetByBrokerID(ctx context.Context, brokerID string) (domainInstance.Instance, error) {
	var m instanceModel
	err := r.db.WithContext(ctx).
		Where("broker_id = ?", brokerID).
		Order("updated_at DESC").
		First(&m).Error
	if err != nil {
		return domainInstance.Instance{}, translate(err)
	}
	return fromInstanceModel(m), nil
}

func (r *InstanceRepository) ListByTenant(ctx context.Context, tenantID string) ([]domainInstance.Instance, error) {
	var models []instanceModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("updated_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, translate(err)
	}
	res := make([]domainInstance.Instance, len(models))
	for i, m := range models {
		res[i] = fromInstanceModel(m)
	}
	return res, nil
}

func (r *InstanceRepository) Create(ctx context.Context, inst domainInstance.Instance) (domainInstance.Instance, error) {
	m := toInstanceModel(inst)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domainInstance.Instance{}, translate(err)
	}
	return fromInstanceModel(m), nil
}

func (r *InstanceRepository) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	res := r.db.WithContext(ctx).Model(&instanceModel{}).
		Where("id = ?", id).
		Update("metadata", datatypes.JSONMap(metadata))
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *InstanceRepository) UpdateConnection(ctx context.Context, id string, status domainInstance.Status, connected bool, lastSeenAt *time.Time) error {
	updates := map[string]interface{}{
		"status":    string(status),
		"connected": connected,
	}
	if lastSeenAt != nil {
		updates["last_seen_at"] = *lastSeenAt
	}
	res := r.db.WithContext(ctx).Model(&instanceModel{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Mappers ---

func toInstanceModel(i domainInstance.Instance) instanceModel {
	return instanceModel{
		ID:         i.ID,
		TenantID:   i.TenantID,
		BrokerID:   i.BrokerID,
		Name:       i.Name,
		Status:     string(i.Status),
		Connected:  i.Connected,
		Metadata:   datatypes.JSONMap(i.Metadata),
		LastSeenAt: i.LastSeenAt,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
}

func fromInstanceModel(m instanceModel) domainInstance.Instance {
	return domainInstance.Instance{
		ID:         m.ID,
		TenantID:   m.TenantID,
		BrokerID:   m.BrokerID,
		Name:       m.Name,
		Status:     domainInstance.Status(m.Status),
		Connected:  m.Connected,
		Metadata:   map[string]any(m.Metadata),
		LastSeenAt: m.LastSeenAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
