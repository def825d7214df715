package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// --- Persistence Models ---

type tenantModel struct {
	ID        string    `gorm:"primaryKey;column:id"`
	Slug      string    `gorm:"column:slug;uniqueIndex"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (tenantModel) TableName() string { return "tenants" }

type instanceModel struct {
	ID         string            `gorm:"primaryKey;column:id"`
	TenantID   string            `gorm:"column:tenant_id;not null;uniqueIndex:idx_instance_tenant_broker"`
	Tenant     tenantModel       `gorm:"foreignKey:TenantID;references:ID"`
	BrokerID   string            `gorm:"column:broker_id;not null;index;uniqueIndex:idx_instance_tenant_broker"`
	Name       string            `gorm:"column:name;not null"`
	Status     string            `gorm:"column:status;default:'PENDING'"`
	Connected  bool              `gorm:"column:connected;default:false"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata"`
	LastSeenAt *time.Time        `gorm:"column:last_seen_at"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;not null"`
}

func (instanceModel) TableName() string { return "instances" }

type queueModel struct {
	ID          string         `gorm:"primaryKey;column:id"`
	TenantID    string         `gorm:"column:tenant_id;not null;uniqueIndex:idx_queue_tenant_name"`
	Tenant      tenantModel    `gorm:"foreignKey:TenantID;references:ID"`
	Name        string         `gorm:"column:name;not null;uniqueIndex:idx_queue_tenant_name"`
	Description sql.NullString `gorm:"column:description"`
	IsActive    bool           `gorm:"column:is_active;default:true"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null"`
}

func (queueModel) TableName() string { return "queues" }

type contactModel struct {
	ID          string         `gorm:"primaryKey;column:id"`
	TenantID    string         `gorm:"column:tenant_id;not null;index"`
	Tenant      tenantModel    `gorm:"foreignKey:TenantID;references:ID"`
	DisplayName string         `gorm:"column:display_name"`
	FullName    sql.NullString `gorm:"column:full_name"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null"`
}

func (contactModel) TableName() string { return "contacts" }

// contactPhoneModel keeps superseded numbers for history; the live-phone
// partial unique index is what makes concurrent contact creation for the
// same number collapse onto one row.
type contactPhoneModel struct {
	ID           string       `gorm:"primaryKey;column:id"`
	ContactID    string       `gorm:"column:contact_id;not null;index"`
	Contact      contactModel `gorm:"foreignKey:ContactID;references:ID"`
	TenantID     string       `gorm:"column:tenant_id;not null;uniqueIndex:idx_live_phone,where:superseded_at IS NULL"`
	Number       string       `gorm:"column:number;not null;uniqueIndex:idx_live_phone,where:superseded_at IS NULL"`
	IsPrimary    bool         `gorm:"column:is_primary;default:false"`
	SupersededAt *time.Time   `gorm:"column:superseded_at"`
	CreatedAt    time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time    `gorm:"column:updated_at;not null"`
}

func (contactPhoneModel) TableName() string { return "contact_phones" }

type tagModel struct {
	ID        string    `gorm:"primaryKey;column:id"`
	TenantID  string    `gorm:"column:tenant_id;not null;uniqueIndex:idx_tag_tenant_name"`
	Name      string    `gorm:"column:name;not null;uniqueIndex:idx_tag_tenant_name"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (tagModel) TableName() string { return "tags" }

type contactTagModel struct {
	ContactID string    `gorm:"primaryKey;column:contact_id"`
	TagID     string    `gorm:"primaryKey;column:tag_id"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (contactTagModel) TableName() string { return "contact_tags" }

type leadModel struct {
	ID            string       `gorm:"primaryKey;column:id"`
	TenantID      string       `gorm:"column:tenant_id;not null;uniqueIndex:idx_lead_tenant_contact"`
	Tenant        tenantModel  `gorm:"foreignKey:TenantID;references:ID"`
	ContactID     string       `gorm:"column:contact_id;not null;uniqueIndex:idx_lead_tenant_contact"`
	Contact       contactModel `gorm:"foreignKey:ContactID;references:ID"`
	Status        string       `gorm:"column:status;default:'NEW'"`
	Source        string       `gorm:"column:source;default:'WHATSAPP'"`
	LastContactAt time.Time    `gorm:"column:last_contact_at;not null"`
	CreatedAt     time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time    `gorm:"column:updated_at;not null"`
}

func (leadModel) TableName() string { return "leads" }

// leadActivityModel denormalizes metadata.messageId into its own column so
// the idempotency probe is indexed, and so the unique index closes the
// probe-then-insert race.
type leadActivityModel struct {
	ID         string            `gorm:"primaryKey;column:id"`
	TenantID   string            `gorm:"column:tenant_id;not null;uniqueIndex:idx_activity_message"`
	LeadID     string            `gorm:"column:lead_id;not null;index"`
	Lead       leadModel         `gorm:"foreignKey:LeadID;references:ID"`
	Type       string            `gorm:"column:type;not null"`
	MessageID  *string           `gorm:"column:message_id;uniqueIndex:idx_activity_message"`
	OccurredAt time.Time         `gorm:"column:occurred_at;not null"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null"`
}

func (leadActivityModel) TableName() string { return "lead_activities" }

type ticketModel struct {
	ID        string            `gorm:"primaryKey;column:id"`
	TenantID  string            `gorm:"column:tenant_id;not null;index:idx_ticket_contact"`
	Tenant    tenantModel       `gorm:"foreignKey:TenantID;references:ID"`
	ContactID string            `gorm:"column:contact_id;not null;index:idx_ticket_contact"`
	Contact   contactModel      `gorm:"foreignKey:ContactID;references:ID"`
	QueueID   string            `gorm:"column:queue_id;not null"`
	Queue     queueModel        `gorm:"foreignKey:QueueID;references:ID"`
	Status    string            `gorm:"column:status;default:'OPEN';index:idx_ticket_contact"`
	Subject   sql.NullString    `gorm:"column:subject"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt time.Time         `gorm:"column:created_at;not null"`
	UpdatedAt time.Time         `gorm:"column:updated_at;not null"`
}

func (ticketModel) TableName() string { return "tickets" }

type campaignModel struct {
	ID          string      `gorm:"primaryKey;column:id"`
	TenantID    string      `gorm:"column:tenant_id;not null;index:idx_campaign_delivery"`
	Tenant      tenantModel `gorm:"foreignKey:TenantID;references:ID"`
	InstanceID  string      `gorm:"column:instance_id;not null;index:idx_campaign_delivery"`
	Name        string      `gorm:"column:name;not null"`
	AgreementID string      `gorm:"column:agreement_id;default:'unknown'"`
	IsActive    bool        `gorm:"column:is_active;default:true;index:idx_campaign_delivery"`
	CreatedAt   time.Time   `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time   `gorm:"column:updated_at;not null"`
}

func (campaignModel) TableName() string { return "campaigns" }

// allocationModel denormalizes the dedupe key segments (campaign_key,
// base_key) so the unique index has exactly the shape of the delivery
// guarantee.
type allocationModel struct {
	ID          string            `gorm:"primaryKey;column:id"`
	TenantID    string            `gorm:"column:tenant_id;not null;uniqueIndex:idx_allocation_dedupe"`
	CampaignKey string            `gorm:"column:campaign_key;not null;uniqueIndex:idx_allocation_dedupe"`
	BaseKey     string            `gorm:"column:base_key;not null;uniqueIndex:idx_allocation_dedupe"`
	CampaignID  sql.NullString    `gorm:"column:campaign_id"`
	InstanceID  string            `gorm:"column:instance_id;not null"`
	LeadID      sql.NullString    `gorm:"column:lead_id"`
	AgreementID string            `gorm:"column:agreement_id;default:'unknown'"`
	Document    sql.NullString    `gorm:"column:document"`
	Payload     datatypes.JSONMap `gorm:"column:payload"`
	CreatedAt   time.Time         `gorm:"column:created_at;not null"`
}

func (allocationModel) TableName() string { return "allocations" }

// --- ID generation ---
//
// The pipeline creates rows without caller-assigned ids (the instance
// provisioner is the one exception, it needs the id before the insert).
// BeforeCreate fills the key so conflict-tolerant creates never persist an
// empty primary key.

func generateID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

func (m *queueModel) BeforeCreate(*gorm.DB) error {
	m.ID = generateID(m.ID)
	return nil
}

func (m *contactModel) BeforeCreate(*gorm.DB) error {
	m.ID = generateID(m.ID)
	return nil
}

func (m *leadModel) BeforeCreate(*gorm.DB) error {
	m.ID = generateID(m.ID)
	return nil
}

func (m *leadActivityModel) BeforeCreate(*gorm.DB) error {
	m.ID = generateID(m.ID)
	return nil
}

func (m *ticketModel) BeforeCreate(*gorm.DB) error {
	m.ID = generateID(m.ID)
	return nil
}

func (m *allocationModel) BeforeCreate(*gorm.DB) error {
	m.ID = generateID(m.ID)
	return nil
}
