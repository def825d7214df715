package store

import (
	"database/sql"
	"strings"

	"gorm.io/gorm"
)

// AutoMigrate creates or upgrades the schema for every pipeline entity.
// Parents migrate before children so foreign keys exist by the time the
// referencing table is created; provisioning depends on those constraints
// firing.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&tenantModel{},
		&instanceModel{},
		&queueModel{},
		&contactModel{},
		&contactPhoneModel{},
		&tagModel{},
		&contactTagModel{},
		&leadModel{},
		&leadActivityModel{},
		&ticketModel{},
		&campaignModel{},
		&allocationModel{},
	)
}

// nullStringValue returns a trimmed string or empty if null to prevent legacy data panics.
func nullStringValue(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return strings.TrimSpace(ns.String)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
