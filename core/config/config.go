package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App        AppConfig
	Paths      PathsConfig
	Database   DatabaseConfig
	Broker     BrokerConfig
	Webhook    WebhookConfig
	Realtime   RealtimeConfig
	Media      MediaConfig
	Pipeline   PipelineConfig
	WorkerPool WorkerPoolConfig
	AMQP       AMQPConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasePath           string
	BaseUrl            string
	TrustedProxies     []string
	CorsAllowedOrigins []string
	ServerID           string
}

type PathsConfig struct {
	BaseDir  string
	Statics  string
	Storages string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB Name for Postgres
	URI             string
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

type BrokerConfig struct {
	// Enabled turns on in-process broker sessions; when off, events only
	// arrive through the webhook intake.
	Enabled         bool
	StoreURI        string // whatsmeow sqlstore DSN (sqlite3/postgres)
	StoreDriver     string
	LogLevel        string
	MaxDownloadSize int64
}

type WebhookConfig struct {
	Secret string // HMAC key for X-Hub-Signature-256; empty disables checks
}

type RealtimeConfig struct {
	JWTSecret string
}

type MediaConfig struct {
	Path          string
	URLTTL        time.Duration
	SigningKey    string
	RetryAttempts int
	RetryBackoff  time.Duration
	Thumbnails    bool
	ThumbnailSize int
}

type PipelineConfig struct {
	QueueCacheTTL      time.Duration
	AllocDedupeTTL     time.Duration
	ActivityDedupeTTL  time.Duration
	PreviewMaxRunes    int
	TenantAllowlist    []string
	AutoProvisionMatch bool // gate for tenant matching during instance auto-provision
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

type AMQPConfig struct {
	// URI empty means the in-process queue backs media retries.
	URI        string
	Exchange   string
	RoutingKey string
	Queue      string
}

// Global provides access to the loaded configuration globally (wiring helper)
var Global *Config

// LoadConfig loads configuration from Environment Variables or defaults.
func LoadConfig() (*Config, error) {
	baseDir := getEnv("APP_BASE_DIR", "storages")

	debug := false
	if v := os.Getenv("APP_DEBUG"); v == "true" || v == "1" || v == "on" {
		debug = true
	} else if v := os.Getenv("DEBUG"); v == "true" || v == "1" {
		debug = true
	}

	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if v := os.Getenv("APP_CORS_ALLOWED_ORIGINS"); v != "" {
		corsOrigins = strings.Split(v, ",")
	}

	appCfg := AppConfig{
		Version:            "v1.4.0",
		Port:               getEnv("APP_PORT", "3000"),
		Debug:              debug,
		Environment:        getEnv("APP_ENV", "development"),
		BasePath:           getEnv("APP_BASE_PATH", ""),
		BaseUrl:            getEnv("APP_BASE_URL", "http://localhost:3000"),
		CorsAllowedOrigins: corsOrigins,
		ServerID:           getEnv("SERVER_ID", ""),
	}
	if v := os.Getenv("APP_TRUSTED_PROXIES"); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}

	pathsCfg := PathsConfig{
		BaseDir:  baseDir,
		Statics:  getEnv("PATH_STATICS", "statics"),
		Storages: baseDir,
	}

	dbCfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "sqlite"),
		Name:            getEnv("DB_NAME", filepath.Join(pathsCfg.Storages, "zapdesk.db")),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		URI:             getEnv("DB_URI", ""),
		ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", false),
		ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:        getEnvInt("VALKEY_DB", 0),
		ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "zapdesk:"),
	}

	brokerCfg := BrokerConfig{
		Enabled:         getEnvBool("BROKER_ENABLED", false),
		StoreURI:        getEnv("BROKER_STORE_URI", fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(pathsCfg.Storages, "broker.db"))),
		StoreDriver:     getEnv("BROKER_STORE_DRIVER", "sqlite3"),
		LogLevel:        getEnv("BROKER_LOG_LEVEL", "ERROR"),
		MaxDownloadSize: getEnvInt64("BROKER_MAX_DOWNLOAD_SIZE", 50000000),
	}

	mediaCfg := MediaConfig{
		Path:          getEnv("MEDIA_PATH", filepath.Join(pathsCfg.Statics, "media")),
		URLTTL:        time.Duration(getEnvInt("MEDIA_URL_TTL_SECONDS", 86400)) * time.Second,
		SigningKey:    getEnv("MEDIA_SIGNING_KEY", ""),
		RetryAttempts: getEnvInt("MEDIA_RETRY_ATTEMPTS", 3),
		RetryBackoff:  time.Duration(getEnvInt("MEDIA_RETRY_BACKOFF_SECONDS", 30)) * time.Second,
		Thumbnails:    getEnvBool("MEDIA_THUMBNAILS", true),
		ThumbnailSize: getEnvInt("MEDIA_THUMBNAIL_SIZE", 320),
	}

	pipelineCfg := PipelineConfig{
		QueueCacheTTL:      time.Duration(getEnvInt("QUEUE_CACHE_TTL_MINUTES", 5)) * time.Minute,
		AllocDedupeTTL:     time.Duration(getEnvInt("ALLOC_DEDUPE_TTL_MINUTES", 10)) * time.Minute,
		ActivityDedupeTTL:  time.Duration(getEnvInt("ACTIVITY_DEDUPE_TTL_MINUTES", 10)) * time.Minute,
		PreviewMaxRunes:    getEnvInt("ACTIVITY_PREVIEW_MAX_RUNES", 160),
		AutoProvisionMatch: getEnvBool("AUTO_PROVISION_TENANT_MATCH", true),
	}
	if v := os.Getenv("TENANT_ALLOWLIST"); v != "" {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				pipelineCfg.TenantAllowlist = append(pipelineCfg.TenantAllowlist, item)
			}
		}
	}

	cfg := &Config{
		App:      appCfg,
		Paths:    pathsCfg,
		Database: dbCfg,
		Broker:   brokerCfg,
		Webhook:  WebhookConfig{Secret: getEnv("WEBHOOK_SECRET", "")},
		Realtime: RealtimeConfig{JWTSecret: getEnv("JWT_SECRET", "")},
		Media:    mediaCfg,
		Pipeline: pipelineCfg,
		WorkerPool: WorkerPoolConfig{
			Size:      getEnvInt("WORKER_POOL_SIZE", 20),
			QueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),
		},
		AMQP: AMQPConfig{
			URI:        getEnv("AMQP_URI", ""),
			Exchange:   getEnv("AMQP_EXCHANGE", "zapdesk.events"),
			RoutingKey: getEnv("AMQP_MEDIA_ROUTING_KEY", "media.retry"),
			Queue:      getEnv("AMQP_MEDIA_QUEUE", "zapdesk.media.retry"),
		},
	}

	Global = cfg
	return cfg, nil
}
