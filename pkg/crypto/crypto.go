package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

var signingKey []byte

// SetSigningKey sets the global key used to sign expiring media URLs.
// An empty key disables signing: URLs are served unsigned and VerifyPath
// accepts everything (WARN: only acceptable for local development).
func SetSigningKey(key string) {
	if key == "" {
		signingKey = nil
		return
	}
	signingKey = []byte(key)
}

// SigningEnabled reports whether a key is configured.
func SigningEnabled() bool {
	return len(signingKey) > 0
}

// SignPath produces the `exp` and `sig` query parameters for a media path.
// The signature covers path + expiry so a URL cannot be replayed for a
// different file or a later time.
func SignPath(path string, expiresAt time.Time) (exp string, sig string) {
	exp = strconv.FormatInt(expiresAt.Unix(), 10)
	if len(signingKey) == 0 {
		return exp, ""
	}
	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(path))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(exp))
	sig = hex.EncodeToString(mac.Sum(nil))
	return exp, sig
}

// VerifyPath checks the signature and that the expiry is still in the
// future. Comparison is constant-time.
func VerifyPath(path, exp, sig string) bool {
	if len(signingKey) == 0 {
		return true
	}
	if exp == "" || sig == "" {
		return false
	}

	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || time.Now().Unix() > unix {
		return false
	}

	_, want := SignPath(path, time.Unix(unix, 0))
	return hmac.Equal([]byte(want), []byte(sig))
}
