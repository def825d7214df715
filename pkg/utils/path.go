package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CreateFolder creates every folder in the list, erroring on the first
// failure.
func CreateFolder(folders ...string) error {
	for _, folder := range folders {
		if err := os.MkdirAll(folder, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", folder, err)
		}
	}
	return nil
}

// SanitizeFileName strips path separators and control characters so a
// broker-supplied file name can be stored safely.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	name = filepath.Base(name)
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "file"
	}
	return cleaned
}

// MediaStoragePath returns (and creates) the media folder for a tenant.
func MediaStoragePath(basePath, tenantID string) string {
	path := filepath.Join(basePath, "media", tenantID)
	_ = os.MkdirAll(path, 0755)
	return path
}
