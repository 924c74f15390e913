package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/candorhq/candor/internal/cache"
)

// RateStore counts hits for a key in fixed windows. It returns the count
// including this hit and the time left in the window.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

const (
	defaultRateWindow    = time.Minute
	memoryPruneThreshold = 1024
)

func windowOrDefault(window time.Duration) time.Duration {
	if window <= 0 {
		return defaultRateWindow
	}
	return window
}

type rateWindow struct {
	hits int
	ends time.Time
}

// memoryRateStore is the single-process fallback. Lapsed windows are dropped
// once the map reaches memoryPruneThreshold keys.
type memoryRateStore struct {
	mu    sync.Mutex
	data  map[string]*rateWindow
	clock func() time.Time
}

// NewMemoryRateStore returns a process-local RateStore.
func NewMemoryRateStore() RateStore {
	return newMemoryRateStore(time.Now)
}

func newMemoryRateStore(clock func() time.Time) *memoryRateStore {
	return &memoryRateStore{data: make(map[string]*rateWindow), clock: clock}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, length time.Duration) (int, time.Duration, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data) >= memoryPruneThreshold {
		s.pruneLocked(now)
	}

	w := s.data[key]
	if w == nil || !now.Before(w.ends) {
		w = &rateWindow{ends: now.Add(windowOrDefault(length))}
		s.data[key] = w
	}
	w.hits++
	return w.hits, w.ends.Sub(now), nil
}

func (s *memoryRateStore) pruneLocked(now time.Time) {
	for key, w := range s.data {
		if !now.Before(w.ends) {
			delete(s.data, key)
		}
	}
}

// cacheRateStore keeps counters in the shared cache so every replica sees
// the same totals.
type cacheRateStore struct {
	store cache.Store
}

// NewCacheRateStore shares counters through store, or falls back to memory
// when store is nil.
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return NewMemoryRateStore()
	}
	return cacheRateStore{store: store}
}

func (s cacheRateStore) Increment(ctx context.Context, key string, length time.Duration) (int, time.Duration, error) {
	count, ttl, err := s.store.IncrementWithTTL(ctx, "ratelimit:"+key, windowOrDefault(length))
	return int(count), ttl, err
}
