package store

import (
	"context"

	domainTenant "github.com/atendezap/zapdesk/domains/tenant"
	"gorm.io/gorm"
)

type TenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (domainTenant.Tenant, error) {
	var m tenantModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return domainTenant.Tenant{}, translate(err)
	}
	return fromTenantModel(m), nil
}

// GetByIdentifiers resolves in two queries and then walks the candidate
// lists in their original order, so an earlier id always beats a later slug.
func (r *TenantRepository) GetByIdentifiers(ctx context.Context, ids []string, slugs []string) (domainTenant.Tenant, error) {
	byID := make(map[string]tenantModel)
	if len(ids) > 0 {
		var models []tenantModel
		if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
			return domainTenant.Tenant{}, translate(err)
		}
		for _, m := range models {
			byID[m.ID] = m
		}
	}
	bySlug := make(map[string]tenantModel)
	if len(slugs) > 0 {
		var models []tenantModel
		if err := r.db.WithContext(ctx).Where("slug IN ?", slugs).Find(&models).Error; err != nil {
			return domainTenant.Tenant{}, translate(err)
		}
		for _, m := range models {
			bySlug[m.Slug] = m
		}
	}

	for _, id := range ids {
		if m, ok := byID[id]; ok {
			return fromTenantModel(m), nil
		}
	}
	for _, slug := range slugs {
		if m, ok := bySlug[slug]; ok {
			return fromTenantModel(m), nil
		}
	}
	return domainTenant.Tenant{}, ErrNotFound
}

func (r *TenantRepository) Create(ctx context.Context, t domainTenant.Tenant) (domainTenant.Tenant, error) {
	m := toTenantModel(t)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domainTenant.Tenant{}, translate(err)
	}
	return fromTenantModel(m), nil
}

// --- Mappers ---

func toTenantModel(t domainTenant.Tenant) tenantModel {
	return tenantModel{
		ID:   t.ID,
		Slug: t.Slug,
		Name: t.Name,
	}
}

func fromTenantModel(m tenantModel) domainTenant.Tenant {
	return domainTenant.Tenant{
		ID:   m.ID,
		Slug: m.Slug,
		Name: m.Name,
	}
}
