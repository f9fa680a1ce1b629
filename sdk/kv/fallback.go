package kv

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// FallbackStore writes to a primary store until it fails once, then serves every
// subsequent call from memory. Quota errors are returned as-is and never trigger the switch.
type FallbackStore struct {
	primary  Store
	memory   *MemoryStore
	mu       sync.RWMutex
	degraded bool
	once     sync.Once
}

// NewFallbackStore wraps primary.
func NewFallbackStore(primary Store) *FallbackStore {
	return &FallbackStore{primary: primary, memory: NewMemoryStore()}
}

// Degraded reports whether the store switched to memory.
func (s *FallbackStore) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *FallbackStore) active() Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.degraded {
		return s.memory
	}
	return s.primary
}

// fail decides whether err switches the store to memory. It returns true when the
// caller should retry against memory.
func (s *FallbackStore) fail(err error) bool {
	if err == nil || errors.Is(err, ErrQuotaExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()
	s.once.Do(func() {
		log.WithError(err).Warn("kv: primary store failed, falling back to in-memory storage")
	})
	return true
}

// Get implements Store.
func (s *FallbackStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	store := s.active()
	v, ok, err := store.Get(ctx, key)
	if store != Store(s.memory) && s.fail(err) {
		return s.memory.Get(ctx, key)
	}
	return v, ok, err
}

// Set implements Store.
func (s *FallbackStore) Set(ctx context.Context, key string, value []byte) error {
	store := s.active()
	err := store.Set(ctx, key, value)
	if store != Store(s.memory) && s.fail(err) {
		return s.memory.Set(ctx, key, value)
	}
	return err
}

// Delete implements Store.
func (s *FallbackStore) Delete(ctx context.Context, key string) error {
	store := s.active()
	err := store.Delete(ctx, key)
	if store != Store(s.memory) && s.fail(err) {
		return s.memory.Delete(ctx, key)
	}
	return err
}

// Clear implements Store.
func (s *FallbackStore) Clear(ctx context.Context) error {
	store := s.active()
	err := store.Clear(ctx)
	if store != Store(s.memory) && s.fail(err) {
		return s.memory.Clear(ctx)
	}
	return err
}

// Close closes the primary store.
func (s *FallbackStore) Close() error {
	return Close(s.primary)
}
