package ttlcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetAndGet(t *testing.T) {
	store := NewMemory(time.Minute)

	store.Set("tenant-1", "queue-1", time.Minute)

	got, ok := store.Get("tenant-1")
	require.True(t, ok)
	assert.Equal(t, "queue-1", got)
}

func TestMemory_ExpiredEntryIsEvictedLazily(t *testing.T) {
	store := NewMemory(time.Minute)

	store.Set("tenant-1", "queue-1", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := store.Get("tenant-1")
	assert.False(t, ok, "entrada vencida no debe devolverse")
	assert.Equal(t, 0, store.Len())
}

func TestMemory_LiveEntryWithinTTL(t *testing.T) {
	store := NewMemory(time.Minute)

	store.Set("tenant-1", "queue-1", 200*time.Millisecond)

	// Lecturas dentro del TTL siempre devuelven el valor cacheado
	for i := 0; i < 3; i++ {
		got, ok := store.Get("tenant-1")
		require.True(t, ok)
		assert.Equal(t, "queue-1", got)
	}
}

func TestMemory_DeleteRemovesEntry(t *testing.T) {
	store := NewMemory(time.Minute)

	store.Set("tenant-1", "queue-1", time.Minute)
	store.Delete("tenant-1")

	_, ok := store.Get("tenant-1")
	assert.False(t, ok)
}

func TestMemory_SetIgnoresEmptyKeyOrValue(t *testing.T) {
	store := NewMemory(time.Minute)

	store.Set("", "queue-1", time.Minute)
	store.Set("tenant-1", "", time.Minute)

	assert.Equal(t, 0, store.Len())
}

func TestMemory_DefaultTTLApplies(t *testing.T) {
	store := NewMemory(15 * time.Millisecond)

	store.Set("tenant-1", "queue-1", 0)

	_, ok := store.Get("tenant-1")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = store.Get("tenant-1")
	assert.False(t, ok)
}

func TestMemory_FlushReportsCount(t *testing.T) {
	store := NewMemory(time.Minute)

	store.Set("tenant-1", "queue-1", time.Minute)
	store.Set("tenant-2", "queue-2", time.Minute)

	assert.Equal(t, 2, store.Flush())
	assert.Equal(t, 0, store.Len())
}
