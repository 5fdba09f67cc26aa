package memory

import (
	"context"
	"sync"
	"time"

	"github.com/osvaldoandrade/docsync/pkg/cache"
)

// Store implements cache.Store with process-local state. It is the default
// backend for single-process clients.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*cache.Entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*cache.Entry)}
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	cp := *e
	cp.Value = append([]byte(nil), e.Value...)
	return &cp, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &cache.Entry{
		Value:     append([]byte(nil), value...),
		Stale:     false,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *Store) MarkStale(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.Stale = true
		return nil
	}
	// Valueless placeholder: the resource is known to exist server-side but
	// has never been fetched.
	s.entries[key] = &cache.Entry{Stale: true, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *Store) Health(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func init() {
	cache.RegisterProvider("memory", func(cache.ProviderConfig) (cache.Store, error) {
		return NewStore(), nil
	})
}
