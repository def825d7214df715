package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidSignature_AcceptsMatchingHMAC(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)
	key := []byte("hook-secret")

	sig, err := GetMessageDigestOrSignature(body, key)
	require.NoError(t, err)

	assert.True(t, ValidSignature(body, key, fmt.Sprintf("sha256=%s", sig)))
}

func TestValidSignature_RejectsTamperedBody(t *testing.T) {
	key := []byte("hook-secret")
	sig, err := GetMessageDigestOrSignature([]byte(`{"id":"evt-1"}`), key)
	require.NoError(t, err)

	assert.False(t, ValidSignature([]byte(`{"id":"evt-2"}`), key, fmt.Sprintf("sha256=%s", sig)))
}

func TestValidSignature_RejectsMissingPrefix(t *testing.T) {
	body := []byte(`{}`)
	key := []byte("hook-secret")
	sig, _ := GetMessageDigestOrSignature(body, key)

	assert.False(t, ValidSignature(body, key, sig))
}

func TestGetMessageDigestOrSignature_PlainDigestWithoutKey(t *testing.T) {
	digest, err := GetMessageDigestOrSignature([]byte("abc"), nil)
	require.NoError(t, err)
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", digest)
}
