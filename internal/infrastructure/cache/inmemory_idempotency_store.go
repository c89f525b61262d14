package cache

import (
	"context"
	"sync"
	"time"

	"github.com/automna/backend/internal/domain/shared"
)

const cleanupInterval = 5 * time.Minute

// InMemoryIdempotencyStore keeps claimed keys in a map. Suitable for a
// single gateway instance and for tests; deployments running more than
// one instance need the Redis store so retries hitting a different
// instance are still suppressed.
type InMemoryIdempotencyStore struct {
	mu        sync.RWMutex
	expiries  map[string]time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryIdempotencyStore creates the store and starts its sweeper.
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	store := &InMemoryIdempotencyStore{
		expiries: make(map[string]time.Time),
		stopChan: make(chan struct{}),
	}

	store.wg.Add(1)
	go store.sweep()

	return store
}

// MarkProcessed claims the key for the TTL. An expired claim counts as
// absent, so a retry arriving after the window is treated as a new
// request rather than a replay.
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, claimed := s.expiries[key]; claimed && now.Before(expiry) {
		return false, nil
	}
	s.expiries[key] = now.Add(ttl)
	return true, nil
}

// Close stops the sweeper. Safe to call multiple times.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// sweep drops expired claims so the map does not grow with traffic.
func (s *InMemoryIdempotencyStore) sweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.evictExpired(time.Now())
		}
	}
}

func (s *InMemoryIdempotencyStore) evictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, expiry := range s.expiries {
		if now.After(expiry) {
			delete(s.expiries, key)
		}
	}
}

// Size reports the number of claims currently held, expired ones included.
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.expiries)
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
