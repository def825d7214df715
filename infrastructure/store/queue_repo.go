package store

import (
	"context"

	domainQueue "github.com/atendezap/zapdesk/domains/queue"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueueRepository struct {
	db *gorm.DB
}

func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) GetByID(ctx context.Context, id string) (domainQueue.Queue, error) {
	var m queueModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return domainQueue.Queue{}, translate(err)
	}
	return fromQueueModel(m), nil
}

func (r *QueueRepository) OldestByTenant(ctx context.Context, tenantID string) (domainQueue.Queue, error) {
	var m queueModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC, id ASC").
		First(&m).Error
	if err != nil {
		return domainQueue.Queue{}, translate(err)
	}
	return fromQueueModel(m), nil
}

// UpsertByTenantAndName inserts on conflict-do-nothing against the
// (tenant_id, name) key, then reads back the surviving row. A missing tenant
// is NOT swallowed by the conflict clause; it still surfaces as a foreign
// key ConstraintError, which is what drives the provisioner's repair path.
func (r *QueueRepository) UpsertByTenantAndName(ctx context.Context, q domainQueue.Queue) (domainQueue.Queue, error) {
	m := toQueueModel(q)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "name"}},
		DoNothing: true,
	}).Create(&m)
	if res.Error != nil {
		return domainQueue.Queue{}, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		var existing queueModel
		err := r.db.WithContext(ctx).
			Where("tenant_id = ? AND name = ?", q.TenantID, q.Name).
			First(&existing).Error
		if err != nil {
			return domainQueue.Queue{}, translate(err)
		}
		return fromQueueModel(existing), nil
	}
	return fromQueueModel(m), nil
}

// --- Mappers ---

func toQueueModel(q domainQueue.Queue) queueModel {
	return queueModel{
		ID:          q.ID,
		TenantID:    q.TenantID,
		Name:        q.Name,
		Description: nullString(q.Description),
		IsActive:    q.IsActive,
		CreatedAt:   q.CreatedAt,
	}
}

func fromQueueModel(m queueModel) domainQueue.Queue {
	return domainQueue.Queue{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Name:        m.Name,
		Description: nullStringValue(m.Description),
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
	}
}
