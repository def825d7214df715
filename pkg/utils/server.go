package utils

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// ResponseData is the envelope every REST handler returns.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded lets handlers bail out to the recovery middleware, which
// maps typed errors (pkg/error GenericError) onto the response envelope.
func PanicIfNeeded(err any, message ...string) {
	if err != nil {
		if len(message) > 0 {
			panic(message[0])
		}
		panic(err)
	}
}

// GetPersistentServerID returns a stable ID for the current server, used to
// suppress valkey pub/sub loops between replicas.
// Logic:
// 1. Return provided override if not empty.
// 2. Try to read from <storagePath>/.server_id
// 3. Try OS Hostname.
// 4. Generate and save a new one as fallback.
func GetPersistentServerID(override, storagePath string) string {
	if override != "" {
		return override
	}

	idFile := filepath.Join(storagePath, ".server_id")
	if data, err := os.ReadFile(idFile); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id
		}
	}

	hostname, err := os.Hostname()
	if err == nil && hostname != "" && hostname != "localhost" {
		cleanHost := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
				return r
			}
			return -1
		}, hostname)
		if cleanHost != "" {
			return "zapdesk-" + cleanHost
		}
	}

	randomPart := make([]byte, 4)
	rand.Read(randomPart)
	newID := "zapdesk-" + hex.EncodeToString(randomPart)

	_ = os.MkdirAll(storagePath, 0755)
	_ = os.WriteFile(idFile, []byte(newID), 0644)

	return newID
}
