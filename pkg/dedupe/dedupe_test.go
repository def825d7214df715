package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemory_RegisterThenSeen(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	key := Key("t1", "camp-1", "doc-9")
	assert.False(t, reg.Seen(ctx, key))

	reg.Register(ctx, key, time.Minute)
	assert.True(t, reg.Seen(ctx, key))
}

func TestMemory_KeyExpiresAfterTTL(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	reg.Register(ctx, "t1|i1|lead-5", 15*time.Millisecond)
	assert.True(t, reg.Seen(ctx, "t1|i1|lead-5"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, reg.Seen(ctx, "t1|i1|lead-5"), "clave vencida vuelve a permitir el efecto")
}

func TestMemory_ZeroTTLIsNotRegistered(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	reg.Register(ctx, "t1|x", 0)
	assert.False(t, reg.Seen(ctx, "t1|x"))
}

func TestMemory_FlushClearsEverything(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	reg.Register(ctx, "a", time.Minute)
	reg.Register(ctx, "b", time.Minute)

	assert.Equal(t, 2, reg.Flush())
	assert.False(t, reg.Seen(ctx, "a"))
	assert.Equal(t, 0, reg.Len())
}

func TestKey_PreservesEmptyParts(t *testing.T) {
	assert.Equal(t, "t1||doc", Key("t1", "", "doc"))
}
