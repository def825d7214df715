package dedupe

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Registry suprime efectos repetidos de eventos reentregados: una clave
// registrada se considera "vista" hasta que vence su TTL. El contexto está
// en la firma para que una implementación compartida (valkey) pueda
// respetar timeouts; la implementación en memoria lo ignora.
type Registry interface {
	Seen(ctx context.Context, key string) bool
	Register(ctx context.Context, key string, ttl time.Duration)
	Len() int
	Flush() int
}

// Key arma la clave compuesta con el separador estable "|". Las partes
// vacías se conservan para que la posición siga siendo significativa.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

type entry struct {
	expiresAt time.Time
}

type memoryRegistry struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewMemory crea el registry de proceso. No persiste entre reinicios: tras
// un restart el store relacional vuelve a ser la única fuente de verdad.
func NewMemory() Registry {
	return &memoryRegistry{entries: make(map[string]entry)}
}

func (r *memoryRegistry) Seen(_ context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return false
	}
	if !time.Now().Before(e.expiresAt) {
		delete(r.entries, key)
		return false
	}
	return true
}

func (r *memoryRegistry) Register(_ context.Context, key string, ttl time.Duration) {
	key = strings.TrimSpace(key)
	if key == "" || ttl <= 0 {
		return
	}

	r.mu.Lock()
	r.entries[key] = entry{expiresAt: time.Now().Add(ttl)}
	r.mu.Unlock()
}

func (r *memoryRegistry) Len() int {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

func (r *memoryRegistry) Flush() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries)
	r.entries = make(map[string]entry)
	return n
}
