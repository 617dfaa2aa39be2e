// Package metacache memoizes archive listings and directory sizes for the
// lifetime of a session. Entries expire after a TTL; expired entries are
// swept when new ones are inserted, never by a background timer
package metacache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds each store when no explicit limit is configured
const DefaultMaxEntries = 1024

type stamped[V any] struct {
	value V
	at    time.Time
}

// store is a TTL layer over a thread-safe LRU. Writes are last-writer-wins
type store[K comparable, V any] struct {
	lru *lru.Cache[K, stamped[V]]
	ttl time.Duration
	now func() time.Time
}

func newStore[K comparable, V any](maxEntries int, ttl time.Duration, now func() time.Time) *store[K, V] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if now == nil {
		now = time.Now
	}
	// lru.New only fails for a non-positive size
	cache, _ := lru.New[K, stamped[V]](maxEntries)
	return &store[K, V]{lru: cache, ttl: ttl, now: now}
}

func (s *store[K, V]) expired(v stamped[V], now time.Time) bool {
	return s.ttl > 0 && now.Sub(v.at) >= s.ttl
}

func (s *store[K, V]) get(key K) (V, bool) {
	v, ok := s.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if s.expired(v, s.now()) {
		s.lru.Remove(key)
		var zero V
		return zero, false
	}
	return v.value, true
}

func (s *store[K, V]) put(key K, value V, at time.Time) {
	s.sweep(at)
	s.lru.Add(key, stamped[V]{value: value, at: at})
}

// sweep drops every expired entry
func (s *store[K, V]) sweep(now time.Time) {
	for _, key := range s.lru.Keys() {
		if v, ok := s.lru.Peek(key); ok && s.expired(v, now) {
			s.lru.Remove(key)
		}
	}
}

func (s *store[K, V]) len() int { return s.lru.Len() }

func (s *store[K, V]) purge() { s.lru.Purge() }
