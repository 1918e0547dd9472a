// Package shardmap is a string-keyed map split into independently locked shards,
// so operations on different keys rarely contend.
package shardmap

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 32

// Map is safe for concurrent use. The zero value is not usable; call New.
type Map[V any] struct {
	shards []*shard[V]
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// New creates a map with n shards (n <= 0 picks a default).
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = defaultShards
	}
	m := &Map[V]{shards: make([]*shard[V], n)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Compute atomically replaces the entry for key with the result of fn.
// fn sees the current value (ok is false when absent) and returns the new
// value and whether the key stays present. fn runs with the shard locked and
// must not call back into the map.
func (m *Map[V]) Compute(key string, fn func(old V, ok bool) (V, bool)) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.items[key]
	v, keep := fn(old, ok)
	if keep {
		s.items[key] = v
	} else if ok {
		delete(s.items, key)
	}
}

// Get returns the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

// Insert stores v under key unless the key is already present.
func (m *Map[V]) Insert(key string, v V) bool {
	inserted := false
	m.Compute(key, func(old V, ok bool) (V, bool) {
		if ok {
			return old, true
		}
		inserted = true
		return v, true
	})
	return inserted
}

// Delete removes key and returns the value it held.
func (m *Map[V]) Delete(key string) (V, bool) {
	var removed V
	found := false
	m.Compute(key, func(old V, ok bool) (V, bool) {
		removed, found = old, ok
		return old, false
	})
	return removed, found
}

// Range calls fn for every entry, one shard at a time. Entries added or
// removed concurrently may or may not be visited.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for _, s := range m.shards {
		s.mu.Lock()
		snapshot := make(map[string]V, len(s.items))
		for k, v := range s.items {
			snapshot[k] = v
		}
		s.mu.Unlock()

		for k, v := range snapshot {
			if !fn(k, v) {
				return
			}
		}
	}
}

// Len returns the number of entries.
func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}
