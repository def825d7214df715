package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyPath(t *testing.T) {
	SetSigningKey("test-key")
	defer SetSigningKey("")

	exp, sig := SignPath("/media/abc.jpg", time.Now().Add(time.Hour))
	require.NotEmpty(t, sig)

	assert.True(t, VerifyPath("/media/abc.jpg", exp, sig))
}

func TestVerifyPath_RejectsDifferentPath(t *testing.T) {
	SetSigningKey("test-key")
	defer SetSigningKey("")

	exp, sig := SignPath("/media/abc.jpg", time.Now().Add(time.Hour))

	assert.False(t, VerifyPath("/media/other.jpg", exp, sig))
}

func TestVerifyPath_RejectsExpired(t *testing.T) {
	SetSigningKey("test-key")
	defer SetSigningKey("")

	exp, sig := SignPath("/media/abc.jpg", time.Now().Add(-time.Minute))

	assert.False(t, VerifyPath("/media/abc.jpg", exp, sig))
}

func TestVerifyPath_RejectsTamperedExpiry(t *testing.T) {
	SetSigningKey("test-key")
	defer SetSigningKey("")

	_, sig := SignPath("/media/abc.jpg", time.Now().Add(time.Minute))
	forged, _ := SignPath("/media/abc.jpg", time.Now().Add(48*time.Hour))

	assert.False(t, VerifyPath("/media/abc.jpg", forged, sig))
}

func TestVerifyPath_NoKeyConfiguredAcceptsAll(t *testing.T) {
	SetSigningKey("")

	assert.False(t, SigningEnabled())
	assert.True(t, VerifyPath("/media/abc.jpg", "", ""))
}
