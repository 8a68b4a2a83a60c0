// Package cmap contains a thread-safe concurrent map, sharded to reduce
// lock contention between goroutines writing to different keys.
//
// The hash engine driver uses it to collect per-source digests while
// source file reads are fanned out across goroutines (spec §5 permits
// this as long as the final map is sorted before it's emitted) without a
// single mutex serializing every write; the collected digests are then
// copied into a plain map, which is what the rule hasher consults.
package cmap

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultShardCount is a reasonable default for label-keyed maps of the size
// a single build graph snapshot produces.
const DefaultShardCount = 1 << 6

// A Map is a sharded, thread-safe map. Construct with New, not &Map{}.
type Map[K comparable, V any] struct {
	shards []shard[K, V]
	hasher func(K) uint32
	mask   uint32
}

// New creates a new Map. shardCount must be a power of two.
func New[K comparable, V any](shardCount uint32, hasher func(K) uint32) *Map[K, V] {
	mask := shardCount - 1
	if shardCount&mask != 0 {
		panic(fmt.Sprintf("shard count %d is not a power of 2", shardCount))
	}
	m := &Map[K, V]{
		shards: make([]shard[K, V], shardCount),
		mask:   mask,
		hasher: hasher,
	}
	for i := range m.shards {
		m.shards[i].m = map[K]V{}
	}
	return m
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	return &m.shards[m.hasher(key)&m.mask]
}

// Set inserts or overwrites the value for key.
func (m *Map[K, V]) Set(key K, val V) {
	m.shardFor(key).Set(key, val)
}

// SetIfAbsent inserts val for key only if key is not already present.
// Returns true if it was inserted.
func (m *Map[K, V]) SetIfAbsent(key K, val V) bool {
	return m.shardFor(key).SetIfAbsent(key, val)
}

// Get returns the value for key and whether it was present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	return m.shardFor(key).Get(key)
}

// SortedKeys returns all keys currently in the map, sorted by less.
func (m *Map[K, V]) SortedKeys(less func(a, b K) bool) []K {
	ret := make([]K, 0)
	for i := range m.shards {
		ret = append(ret, m.shards[i].Keys()...)
	}
	sort.Slice(ret, func(i, j int) bool { return less(ret[i], ret[j]) })
	return ret
}

type shard[K comparable, V any] struct {
	m map[K]V
	l sync.Mutex
}

func (s *shard[K, V]) Set(key K, val V) {
	s.l.Lock()
	defer s.l.Unlock()
	s.m[key] = val
}

func (s *shard[K, V]) SetIfAbsent(key K, val V) bool {
	s.l.Lock()
	defer s.l.Unlock()
	if _, present := s.m[key]; present {
		return false
	}
	s.m[key] = val
	return true
}

func (s *shard[K, V]) Get(key K) (V, bool) {
	s.l.Lock()
	defer s.l.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *shard[K, V]) Keys() []K {
	s.l.Lock()
	defer s.l.Unlock()
	ret := make([]K, 0, len(s.m))
	for k := range s.m {
		ret = append(ret, k)
	}
	return ret
}
