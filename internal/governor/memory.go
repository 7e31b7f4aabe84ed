package governor

import (
	"context"
	"sync"
	"time"
)

// rateWindow tracks one device's call count within the current window
type rateWindow struct {
	count       int
	windowStart time.Time
}

// idempotencyEntry caches one journey's response until it expires. Entries
// are evicted lazily on lookup, never proactively swept.
type idempotencyEntry struct {
	expiresAt time.Time
	response  []byte
}

// MemoryStore is the in-process governor store
type MemoryStore struct {
	mu       sync.Mutex
	windows  map[string]*rateWindow
	journeys map[string]idempotencyEntry

	now func() time.Time
}

// NewMemoryStore creates an in-process governor store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:  make(map[string]*rateWindow),
		journeys: make(map[string]idempotencyEntry),
		now:      time.Now,
	}
}

// CountCall increments the device's in-window call count, resetting the
// window once it has elapsed.
func (s *MemoryStore) CountCall(_ context.Context, deviceUUID string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	w, ok := s.windows[deviceUUID]
	if !ok || now.Sub(w.windowStart) > window {
		w = &rateWindow{windowStart: now}
		s.windows[deviceUUID] = w
	}

	w.count++
	return w.count, nil
}

// CachedResponse returns the journey's cached response if it has not expired
func (s *MemoryStore) CachedResponse(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.journeys[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.journeys, key)
		return nil, false, nil
	}
	return entry.response, true, nil
}

// StoreResponse caches a journey response until the TTL elapses
func (s *MemoryStore) StoreResponse(_ context.Context, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journeys[key] = idempotencyEntry{
		expiresAt: s.now().Add(ttl),
		response:  response,
	}
	return nil
}
