package store

import (
	"context"
	"strings"
	"time"

	domainContact "github.com/atendezap/zapdesk/domains/contact"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) GetByID(ctx context.Context, id string) (domainContact.Contact, error) {
	return r.load(r.db.WithContext(ctx), id)
}

// FindByPhone matches only live phone rows: a superseded number no longer
// routes new conversations to its old contact.
func (r *ContactRepository) FindByPhone(ctx context.Context, tenantID, phone string) (domainContact.Contact, error) {
	var m contactModel
	err := r.db.WithContext(ctx).
		Joins("JOIN contact_phones ON contact_phones.contact_id = contacts.id").
		Where("contacts.tenant_id = ? AND contact_phones.number = ? AND contact_phones.superseded_at IS NULL", tenantID, phone).
		Order("contact_phones.is_primary DESC, contacts.created_at ASC").
		First(&m).Error
	if err != nil {
		return domainContact.Contact{}, translate(err)
	}
	return r.load(r.db.WithContext(ctx), m.ID)
}

// Create inserts the contact with its primary phone and initial tags in one
// transaction. The live-phone unique index turns a lost creation race into a
// ConstraintError the resolver retries as a lookup.
func (r *ContactRepository) Create(ctx context.Context, c domainContact.Contact) (domainContact.Contact, error) {
	var out domainContact.Contact
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := contactModel{
			ID:          c.ID,
			TenantID:    c.TenantID,
			DisplayName: c.DisplayName,
			FullName:    nullString(c.FullName),
		}
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		if c.PrimaryPhone != "" {
			phone := contactPhoneModel{
				ID:        uuid.New().String(),
				ContactID: m.ID,
				TenantID:  c.TenantID,
				Number:    c.PrimaryPhone,
				IsPrimary: true,
			}
			if err := tx.Create(&phone).Error; err != nil {
				return err
			}
		}
		names := make([]string, 0, len(c.Tags))
		for _, t := range c.Tags {
			names = append(names, t.Name)
		}
		if err := r.attachTags(tx, c.TenantID, m.ID, names); err != nil {
			return err
		}
		hydrated, err := r.load(tx, m.ID)
		if err != nil {
			return err
		}
		out = hydrated
		return nil
	})
	if err != nil {
		return domainContact.Contact{}, translate(err)
	}
	return out, nil
}

// Reconcile brings the contact's name, phone set and tag set in line with
// the latest inbound message, all inside one transaction. Stale live phones
// are superseded rather than deleted.
func (r *ContactRepository) Reconcile(ctx context.Context, contactID string, input domainContact.ResolveInput) (domainContact.Contact, error) {
	var out domainContact.Contact
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m contactModel
		if err := tx.First(&m, "id = ?", contactID).Error; err != nil {
			return err
		}

		name := strings.TrimSpace(input.DisplayName)
		if name != "" && name != m.DisplayName {
			if err := tx.Model(&m).Update("display_name", name).Error; err != nil {
				return err
			}
		}

		if input.Phone != "" {
			if err := r.reconcilePhones(tx, &m, input.Phone); err != nil {
				return err
			}
		}

		if err := r.reconcileTags(tx, &m, input.Tags); err != nil {
			return err
		}

		hydrated, err := r.load(tx, contactID)
		if err != nil {
			return err
		}
		out = hydrated
		return nil
	})
	if err != nil {
		return domainContact.Contact{}, translate(err)
	}
	return out, nil
}

func (r *ContactRepository) reconcilePhones(tx *gorm.DB, m *contactModel, phone string) error {
	var live []contactPhoneModel
	err := tx.Where("contact_id = ? AND superseded_at IS NULL", m.ID).Find(&live).Error
	if err != nil {
		return err
	}

	matched := false
	now := time.Now().UTC()
	for _, p := range live {
		if p.Number == phone {
			matched = true
			if !p.IsPrimary {
				if err := tx.Model(&p).Update("is_primary", true).Error; err != nil {
					return err
				}
			}
			continue
		}
		// Another number: keep the row for history but take it out of the
		// live set so the partial unique index frees the slot.
		updates := map[string]interface{}{"is_primary": false, "superseded_at": now}
		if err := tx.Model(&p).Updates(updates).Error; err != nil {
			return err
		}
	}
	if matched {
		return nil
	}

	fresh := contactPhoneModel{
		ID:        uuid.New().String(),
		ContactID: m.ID,
		TenantID:  m.TenantID,
		Number:    phone,
		IsPrimary: true,
	}
	return tx.Create(&fresh).Error
}

func (r *ContactRepository) reconcileTags(tx *gorm.DB, m *contactModel, names []string) error {
	desired := make(map[string]bool, len(names))
	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || desired[n] {
			continue
		}
		desired[n] = true
		cleaned = append(cleaned, n)
	}

	if err := r.attachTags(tx, m.TenantID, m.ID, cleaned); err != nil {
		return err
	}

	// Drop associations the current message no longer implies. Tag rows
	// themselves stay; other contacts may reference them.
	var current []tagModel
	err := tx.Model(&tagModel{}).
		Joins("JOIN contact_tags ON contact_tags.tag_id = tags.id").
		Where("contact_tags.contact_id = ?", m.ID).
		Find(&current).Error
	if err != nil {
		return err
	}
	for _, t := range current {
		if !desired[t.Name] {
			err := tx.Where("contact_id = ? AND tag_id = ?", m.ID, t.ID).
				Delete(&contactTagModel{}).Error
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// attachTags resolves each name to a tag row (created on first use) and
// makes sure the join row exists. Both inserts are conflict-tolerant so
// concurrent resolvers never fail here.
func (r *ContactRepository) attachTags(tx *gorm.DB, tenantID, contactID string, names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tag := tagModel{ID: uuid.New().String(), TenantID: tenantID, Name: name}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "name"}},
			DoNothing: true,
		}).Create(&tag)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Read into a fresh value: First on the populated struct would
			// add its generated primary key to the WHERE clause and miss the
			// surviving row.
			var existing tagModel
			if err := tx.Where("tenant_id = ? AND name = ?", tenantID, name).First(&existing).Error; err != nil {
				return err
			}
			tag = existing
		}
		join := contactTagModel{ContactID: contactID, TagID: tag.ID}
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&join).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *ContactRepository) load(tx *gorm.DB, id string) (domainContact.Contact, error) {
	var m contactModel
	if err := tx.First(&m, "id = ?", id).Error; err != nil {
		return domainContact.Contact{}, translate(err)
	}

	var phones []contactPhoneModel
	err := tx.Where("contact_id = ?", id).
		Order("is_primary DESC, created_at ASC").
		Find(&phones).Error
	if err != nil {
		return domainContact.Contact{}, translate(err)
	}

	var tags []tagModel
	err = tx.Model(&tagModel{}).
		Joins("JOIN contact_tags ON contact_tags.tag_id = tags.id").
		Where("contact_tags.contact_id = ?", id).
		Order("tags.name ASC").
		Find(&tags).Error
	if err != nil {
		return domainContact.Contact{}, translate(err)
	}

	return fromContactModel(m, phones, tags), nil
}

// --- Mappers ---

func fromContactModel(m contactModel, phones []contactPhoneModel, tags []tagModel) domainContact.Contact {
	c := domainContact.Contact{
		ID:          m.ID,
		TenantID:    m.TenantID,
		DisplayName: m.DisplayName,
		FullName:    nullStringValue(m.FullName),
	}
	for _, p := range phones {
		c.Phones = append(c.Phones, domainContact.Phone{
			ID:           p.ID,
			Number:       p.Number,
			IsPrimary:    p.IsPrimary,
			SupersededAt: p.SupersededAt,
		})
		if p.IsPrimary && p.SupersededAt == nil {
			c.PrimaryPhone = p.Number
		}
	}
	for _, t := range tags {
		c.Tags = append(c.Tags, domainContact.Tag{ID: t.ID, Name: t.Name})
	}
	return c
}
