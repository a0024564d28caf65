// Package cache implements an in-process dedup store for single-instance
// deployments. Multi-instance deployments use the Redis store instead.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"ig-autoreply/internal/core/ports"
)

var _ ports.DedupStore = (*MemoryStore)(nil)

// MemoryStore is a capacity-bounded LRU of keys with per-entry expiry.
// When full, the least recently marked key is evicted.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache
	now   func() time.Time
}

// NewMemoryStore creates a store holding at most capacity keys
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryStore{
		cache: lru.New(capacity),
		now:   time.Now,
	}
}

// SeenOrMark checks and marks key under a single lock
func (s *MemoryStore) SeenOrMark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if v, ok := s.cache.Get(key); ok {
		if expiresAt, _ := v.(time.Time); now.Before(expiresAt) {
			return true, nil
		}
		s.cache.Remove(key)
	}
	s.cache.Add(key, now.Add(ttl))
	return false, nil
}

// Release forgets key
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

// Len returns the number of tracked keys, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
