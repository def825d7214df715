package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/atendezap/zapdesk/core/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes a database connection based on the provided
// configuration. TranslateError is enabled so unique and foreign-key
// violations surface as gorm.ErrDuplicatedKey / gorm.ErrForeignKeyViolated
// regardless of driver; the store adapter depends on that.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch {
	case cfg.Database.URI != "" && strings.HasPrefix(cfg.Database.URI, "postgres"):
		dialector = postgres.Open(cfg.Database.URI)
	case cfg.Database.URI != "":
		dialector = sqlite.Open(cfg.Database.URI)
	case cfg.Database.Driver == "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Name,
			cfg.Database.Port,
		)
		dialector = postgres.Open(dsn)
	case cfg.Database.Driver == "sqlite", cfg.Database.Driver == "":
		dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", cfg.Database.Name)
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	logMode := logger.Warn
	if cfg.App.Debug {
		logMode = logger.Info
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logMode),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}

	if isPostgres(cfg) {
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// SQLite serializes writers anyway; one connection avoids
		// SQLITE_BUSY churn under the WAL journal.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return db, nil
}

func isPostgres(cfg *config.Config) bool {
	if cfg.Database.URI != "" {
		return strings.HasPrefix(cfg.Database.URI, "postgres")
	}
	return cfg.Database.Driver == "postgres"
}
