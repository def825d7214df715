package config

import (
	"os"
	"strconv"
	"strings"
)

// GetAllSettings returns a map of the dynamic settings currently loaded in
// memory, for the health/monitoring surface.
func GetAllSettings() map[string]any {
	if Global == nil {
		return map[string]any{}
	}
	return map[string]any{
		"app_debug":                     Global.App.Debug,
		"app_version":                   Global.App.Version,
		"broker_enabled":                Global.Broker.Enabled,
		"broker_max_download_size":      Global.Broker.MaxDownloadSize,
		"queue_cache_ttl":               Global.Pipeline.QueueCacheTTL.String(),
		"alloc_dedupe_ttl":              Global.Pipeline.AllocDedupeTTL.String(),
		"activity_preview_max_runes":    Global.Pipeline.PreviewMaxRunes,
		"auto_provision_tenant_match":   Global.Pipeline.AutoProvisionMatch,
		"tenant_allowlist_entries":      len(Global.Pipeline.TenantAllowlist),
		"media_url_ttl_seconds":         int(Global.Media.URLTTL.Seconds()),
		"media_retry_attempts":          Global.Media.RetryAttempts,
		"amqp_media_queue_enabled":      Global.AMQP.URI != "",
		"valkey_enabled":                Global.Database.ValkeyEnabled,
		"webhook_signature_enforced":    Global.Webhook.Secret != "",
		"realtime_jwt_auth_enforced":    Global.Realtime.JWTSecret != "",
		"worker_pool_size":              Global.WorkerPool.Size,
		"worker_pool_queue_size":        Global.WorkerPool.QueueSize,
	}
}

// Helpers
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		vLower := strings.ToLower(v)
		return vLower == "1" || vLower == "true" || vLower == "yes" || vLower == "on"
	}
	return fallback
}
