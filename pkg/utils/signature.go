package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// GetMessageDigestOrSignature returns the hex SHA-256 digest of message, or
// the HMAC-SHA256 signature when a key is provided. Brokers send the latter
// as `X-Hub-Signature-256: sha256=<hex>`.
func GetMessageDigestOrSignature(message, key []byte) (string, error) {
	if len(key) == 0 {
		sum := sha256.Sum256(message)
		return hex.EncodeToString(sum[:]), nil
	}

	mac := hmac.New(sha256.New, key)
	if _, err := mac.Write(message); err != nil {
		return "", err
	}
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// ValidSignature compares a received `sha256=<hex>` header against the
// expected HMAC of body in constant time.
func ValidSignature(body []byte, key []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}

	want, err := GetMessageDigestOrSignature(body, key)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(header[len(prefix):]))
}
