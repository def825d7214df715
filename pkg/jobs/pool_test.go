package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Dispatch debe retornar sin esperar al handler
func TestPool_DispatchNonBlocking(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	start := time.Now()
	pool.Dispatch(Job{
		TenantID: "t1",
		ChatKey:  "chat-1",
		Name:     "inbound",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 10*time.Millisecond, "Dispatch debe ser no bloqueante")
}

// Jobs de la misma conversación deben procesarse en orden
func TestPool_SameConversationSequential(t *testing.T) {
	pool := NewPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var results []int
	var mu sync.Mutex

	for i := 1; i <= 5; i++ {
		val := i
		pool.Dispatch(Job{
			TenantID: "t1",
			ChatKey:  "5511999999999@s.whatsapp.net",
			Name:     "inbound",
			Handler: func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				results = append(results, val)
				mu.Unlock()
				return nil
			},
		})
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3, 4, 5}, results, "misma conversación debe conservar el orden")
}

// Conversaciones distintas pueden procesarse en paralelo
func TestPool_DifferentConversationsParallel(t *testing.T) {
	pool := NewPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var activeCount int32

	for i := 0; i < 4; i++ {
		chatKey := string(rune('A' + i))
		pool.Dispatch(Job{
			TenantID: "t1",
			ChatKey:  chatKey,
			Name:     "inbound",
			Handler: func(ctx context.Context) error {
				atomic.AddInt32(&activeCount, 1)
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&activeCount, -1)
				return nil
			},
		})
	}

	time.Sleep(10 * time.Millisecond)

	active := atomic.LoadInt32(&activeCount)
	assert.GreaterOrEqual(t, active, int32(2), "conversaciones distintas deben ir en paralelo")
}

// DispatchAfter encola recién después del delay
func TestPool_DispatchAfterDelays(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var ran int32
	pool.DispatchAfter(40*time.Millisecond, Job{
		TenantID: "t1",
		ChatKey:  "media-key-1",
		Name:     "media_retry",
		Handler: func(ctx context.Context) error {
			atomic.StoreInt32(&ran, 1)
			return nil
		},
	})

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran), "no debe correr antes del delay")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

// Stop cancela los timers programados que todavía no dispararon
func TestPool_StopCancelsPendingTimers(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)

	var ran int32
	pool.DispatchAfter(80*time.Millisecond, Job{
		TenantID: "t1",
		ChatKey:  "media-key-1",
		Name:     "media_retry",
		Handler: func(ctx context.Context) error {
			atomic.StoreInt32(&ran, 1)
			return nil
		},
	})

	assert.Equal(t, 1, pool.GetStats().PendingTimers)

	cancel()
	pool.Stop()
	time.Sleep(120 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&ran), "timer cancelado no debe encolar")
}

// Graceful shutdown completa los jobs en curso
func TestPool_GracefulShutdown(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())

	pool.Start(ctx)

	var completed int32
	for i := 0; i < 2; i++ {
		pool.Dispatch(Job{
			TenantID: "t1",
			ChatKey:  string(rune('A' + i)),
			Name:     "inbound",
			Handler: func(ctx context.Context) error {
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&completed, 1)
				return nil
			},
		})
	}

	time.Sleep(10 * time.Millisecond)

	cancel()
	pool.Stop()

	assert.Equal(t, int32(2), atomic.LoadInt32(&completed), "jobs en curso deben completarse")
}

// Hash consistente: misma conversación siempre al mismo shard
func TestPool_ConsistentSharding(t *testing.T) {
	pool := NewPool(4, 100)

	shard1 := pool.shardFor("t1", "chat123")
	shard2 := pool.shardFor("t1", "chat123")

	assert.Equal(t, shard1, shard2)
	assert.GreaterOrEqual(t, shard1, 0)
	assert.Less(t, shard1, 4)
}

func TestPool_TryDispatchReportsDropWhenFull(t *testing.T) {
	pool := NewPool(1, 1)
	// Sin Start: la cola existe pero nadie consume
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	block := make(chan struct{})
	pool.Dispatch(Job{TenantID: "t1", ChatKey: "a", Name: "inbound", Handler: func(ctx context.Context) error {
		<-block
		return nil
	}})
	time.Sleep(10 * time.Millisecond) // el worker toma el primero

	// Llenar la cola (capacidad 1) y después forzar un drop
	require.True(t, pool.TryDispatch(Job{TenantID: "t1", ChatKey: "a", Name: "inbound", Handler: func(ctx context.Context) error { return nil }}))
	assert.False(t, pool.TryDispatch(Job{TenantID: "t1", ChatKey: "a", Name: "inbound", Handler: func(ctx context.Context) error { return nil }}))

	close(block)
	stats := pool.GetStats()
	assert.Equal(t, int64(1), stats.TotalDropped)
}
