package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Recorder is the fire-and-forget interface usecases depend on. Failures to
// record are not observable by callers; metrics never alter pipeline flow.
type Recorder interface {
	Count(name string, delta int64)
	Gauge(name string, value int64)
	Event(e Event)
}

// Event is one pipeline occurrence kept in the recent ring for the
// monitoring endpoint.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	TenantID   string    `json:"tenant_id"`
	InstanceID string    `json:"instance_id"`
	Stage      string    `json:"stage"`  // intake | provision | contact | ticket | media | lead | allocation
	Status     string    `json:"status"` // ok | error | skipped | deduped
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// Snapshot is the point-in-time view served by GET /api/metrics.
type Snapshot struct {
	Counters     map[string]int64 `json:"counters"`
	Gauges       map[string]int64 `json:"gauges"`
	RecentEvents []Event          `json:"recent_events"`
}

type Registry struct {
	countersMu sync.RWMutex
	counters   map[string]*int64

	gaugesMu sync.RWMutex
	gauges   map[string]int64

	eventsMu sync.Mutex
	events   []Event
	idx      int
	count    int
}

func New(ringSize int) *Registry {
	if ringSize <= 0 {
		ringSize = 200
	}
	return &Registry{
		counters: make(map[string]*int64),
		gauges:   make(map[string]int64),
		events:   make([]Event, ringSize),
	}
}

func (r *Registry) Count(name string, delta int64) {
	r.countersMu.RLock()
	c, ok := r.counters[name]
	r.countersMu.RUnlock()
	if !ok {
		r.countersMu.Lock()
		c, ok = r.counters[name]
		if !ok {
			c = new(int64)
			r.counters[name] = c
		}
		r.countersMu.Unlock()
	}
	atomic.AddInt64(c, delta)
}

func (r *Registry) Gauge(name string, value int64) {
	r.gaugesMu.Lock()
	r.gauges[name] = value
	r.gaugesMu.Unlock()
}

func (r *Registry) Event(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	r.eventsMu.Lock()
	r.events[r.idx] = e
	r.idx = (r.idx + 1) % len(r.events)
	if r.count < len(r.events) {
		r.count++
	}
	r.eventsMu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	counters := make(map[string]int64)
	r.countersMu.RLock()
	for name, c := range r.counters {
		counters[name] = atomic.LoadInt64(c)
	}
	r.countersMu.RUnlock()

	gauges := make(map[string]int64)
	r.gaugesMu.RLock()
	for name, v := range r.gauges {
		gauges[name] = v
	}
	r.gaugesMu.RUnlock()

	r.eventsMu.Lock()
	recent := make([]Event, 0, r.count)
	start := (r.idx - r.count) % len(r.events)
	if start < 0 {
		start += len(r.events)
	}
	for i := 0; i < r.count; i++ {
		recent = append(recent, r.events[(start+i)%len(r.events)])
	}
	r.eventsMu.Unlock()

	return Snapshot{Counters: counters, Gauges: gauges, RecentEvents: recent}
}
