package ttlcache

import (
	"strings"
	"sync"
	"time"
)

// Entry es un valor cacheado junto con su expiración. Se expone para que
// los endpoints de administración puedan inspeccionar el contenido.
type Entry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store es la abstracción de cache TTL que se inyecta en los usecases.
// Las entradas vencidas se descartan de forma perezosa en la siguiente
// lectura; no hay sweeper en background. Una entrada viva se confía sin
// revalidar contra el store relacional.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration)
	Delete(key string)
	Len() int
	Flush() int
}

type memoryStore struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	defaultTTL time.Duration
}

// NewMemory crea el store en memoria de proceso. defaultTTL aplica cuando
// Set recibe ttl <= 0.
func NewMemory(defaultTTL time.Duration) Store {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &memoryStore{
		entries:    make(map[string]Entry),
		defaultTTL: defaultTTL,
	}
}

func (s *memoryStore) Get(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}

	if !time.Now().Before(e.ExpiresAt) {
		// Eviction perezosa. Re-chequear bajo lock de escritura para no
		// borrar una entrada que otro goroutine acaba de renovar.
		s.mu.Lock()
		if cur, still := s.entries[key]; still && !time.Now().Before(cur.ExpiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return "", false
	}

	return e.Value, true
}

func (s *memoryStore) Set(key, value string, ttl time.Duration) {
	key = strings.TrimSpace(key)
	if key == "" || strings.TrimSpace(value) == "" {
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	s.entries[key] = Entry{Value: value, ExpiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

func (s *memoryStore) Delete(key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len cuenta solo las entradas todavía vivas, sin evictarlas.
func (s *memoryStore) Len() int {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if now.Before(e.ExpiresAt) {
			n++
		}
	}
	return n
}

// Flush vacía el cache completo y devuelve cuántas entradas había.
func (s *memoryStore) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[string]Entry)
	return n
}
