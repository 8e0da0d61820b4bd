package progress

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemStore is an in-memory TransientStore with lazy expiry. Expired entries
// are dropped on read and by the optional janitor, never returned.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// MemStoreOption configures a MemStore.
type MemStoreOption func(*MemStore)

// WithMemStoreClock overrides the store's clock. Tests use it to cross TTL
// boundaries without sleeping.
func WithMemStoreClock(now func() time.Time) MemStoreOption {
	return func(s *MemStore) { s.now = now }
}

// NewMemStore creates an empty in-memory transient store.
func NewMemStore(opts ...MemStoreOption) *MemStore {
	s := &MemStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(context.Background(), key)
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: buf, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}
	buf := make([]byte, len(e.value))
	copy(buf, e.value)
	return buf, nil
}

func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Janitor evicts expired entries every interval until ctx is done. Eviction
// is an optimization only; Get already refuses expired entries.
func (s *MemStore) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}
