package store

import (
	"context"
	"time"

	domainTicket "github.com/atendezap/zapdesk/domains/ticket"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TicketRepository struct {
	db *gorm.DB
}

func NewTicketRepository(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) GetByID(ctx context.Context, id string) (domainTicket.Ticket, error) {
	var m ticketModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return domainTicket.Ticket{}, translate(err)
	}
	return fromTicketModel(m), nil
}

func (r *TicketRepository) FindOpenByContact(ctx context.Context, tenantID, contactID string) (domainTicket.Ticket, error) {
	var m ticketModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ? AND status = ?", tenantID, contactID, string(domainTicket.StatusOpen)).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		return domainTicket.Ticket{}, translate(err)
	}
	return fromTicketModel(m), nil
}

// Create surfaces a dangling queue_id as a foreign key ConstraintError; the
// ticket ensurer uses that as the stale-cache signal.
func (r *TicketRepository) Create(ctx context.Context, t domainTicket.Ticket) (domainTicket.Ticket, error) {
	m := toTicketModel(t)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domainTicket.Ticket{}, translate(err)
	}
	return fromTicketModel(m), nil
}

func (r *TicketRepository) Touch(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&ticketModel{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Mappers ---

func toTicketModel(t domainTicket.Ticket) ticketModel {
	return ticketModel{
		ID:        t.ID,
		TenantID:  t.TenantID,
		ContactID: t.ContactID,
		QueueID:   t.QueueID,
		Status:    string(t.Status),
		Subject:   nullString(t.Subject),
		Metadata:  datatypes.JSONMap(t.Metadata),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func fromTicketModel(m ticketModel) domainTicket.Ticket {
	return domainTicket.Ticket{
		ID:        m.ID,
		TenantID:  m.TenantID,
		ContactID: m.ContactID,
		QueueID:   m.QueueID,
		Status:    domainTicket.Status(m.Status),
		Subject:   nullStringValue(m.Subject),
		Metadata:  map[string]any(m.Metadata),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
