package metrics

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CountAccumulates(t *testing.T) {
	r := New(10)

	r.Count("inbound.persisted", 1)
	r.Count("inbound.persisted", 1)
	r.Count("inbound.dropped", 3)

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.Counters["inbound.persisted"])
	assert.Equal(t, int64(3), snap.Counters["inbound.dropped"])
}

func TestRegistry_GaugeKeepsLastValue(t *testing.T) {
	r := New(10)

	r.Gauge("leads.last_contact_unix", 100)
	r.Gauge("leads.last_contact_unix", 250)

	snap := r.Snapshot()
	assert.Equal(t, int64(250), snap.Gauges["leads.last_contact_unix"])
}

func TestRegistry_EventRingKeepsMostRecent(t *testing.T) {
	r := New(3)

	for i := 0; i < 5; i++ {
		r.Event(Event{RequestID: fmt.Sprintf("req-%d", i), Stage: "intake", Status: "ok"})
	}

	snap := r.Snapshot()
	require.Len(t, snap.RecentEvents, 3)
	assert.Equal(t, "req-2", snap.RecentEvents[0].RequestID)
	assert.Equal(t, "req-4", snap.RecentEvents[2].RequestID)
}

func TestRegistry_ConcurrentCounts(t *testing.T) {
	r := New(10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Count("races", 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), r.Snapshot().Counters["races"])
}
