/*
 * This file is part of Chihaya.
 *
 * Chihaya is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * Chihaya is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with Chihaya.  If not, see <http://www.gnu.org/licenses/>.
 */

package util

import (
	"sync"
)

// Map is a sharded concurrent map. Keys are distributed across a fixed,
// power-of-two number of independently-locked shards by the low bits of
// their hash, so that unrelated keys almost never contend for the same
// lock. It replaces a single global mutex (or RWMutex) guarding the whole
// map with N smaller ones; above a couple hundred shards, contention
// between two arbitrary keys becomes statistically negligible even at very
// high request rates.
//
// The zero value is not usable; construct with NewMap.
type Map[K comparable, V any] struct {
	shards []mapShard[K, V]
	hasher func(K) uint64
	mask   uint64
}

type mapShard[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]V
}

// NewMap builds a sharded map with shardCount shards (rounded up to the
// next power of two, minimum 1) using hasher to place keys.
func NewMap[K comparable, V any](shardCount int, hasher func(K) uint64) *Map[K, V] {
	n := 1
	for n < shardCount {
		n <<= 1
	}

	shards := make([]mapShard[K, V], n)
	for i := range shards {
		shards[i].m = make(map[K]V)
	}

	return &Map[K, V]{
		shards: shards,
		hasher: hasher,
		mask:   uint64(n - 1),
	}
}

func (sm *Map[K, V]) shardFor(key K) *mapShard[K, V] {
	return &sm.shards[sm.hasher(key)&sm.mask]
}

// Get returns the value stored for key, if any.
func (sm *Map[K, V]) Get(key K) (value V, ok bool) {
	shard := sm.shardFor(key)

	shard.mu.Lock()
	value, ok = shard.m[key]
	shard.mu.Unlock()

	return
}

// Set inserts or replaces the value stored for key.
func (sm *Map[K, V]) Set(key K, value V) {
	shard := sm.shardFor(key)

	shard.mu.Lock()
	shard.m[key] = value
	shard.mu.Unlock()
}

// Delete removes key, if present.
func (sm *Map[K, V]) Delete(key K) {
	shard := sm.shardFor(key)

	shard.mu.Lock()
	delete(shard.m, key)
	shard.mu.Unlock()
}

// ComputeIfPresent atomically looks up key and, if present, replaces its
// value with the result of fn. If fn returns ok=false the key is removed
// instead. Returns whether key was present.
func (sm *Map[K, V]) ComputeIfPresent(key K, fn func(V) (V, bool)) bool {
	shard := sm.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	v, exists := shard.m[key]
	if !exists {
		return false
	}

	newV, keep := fn(v)
	if keep {
		shard.m[key] = newV
	} else {
		delete(shard.m, key)
	}

	return true
}

// Len returns the total number of entries across all shards. It takes
// each shard lock in turn, so the result is eventually consistent with
// concurrent writers, never a torn read of a single shard.
func (sm *Map[K, V]) Len() int {
	total := 0

	for i := range sm.shards {
		sm.shards[i].mu.Lock()
		total += len(sm.shards[i].m)
		sm.shards[i].mu.Unlock()
	}

	return total
}

// ShardCount returns the number of shards backing the map.
func (sm *Map[K, V]) ShardCount() int {
	return len(sm.shards)
}

// IterateShard calls fn for every key/value pair in the shard at index i,
// holding that shard's lock for the duration. fn must not call back into
// the same Map. Used by reapers and flushers that need a local, bounded
// snapshot without stopping the whole map.
func (sm *Map[K, V]) IterateShard(i int, fn func(K, V)) {
	shard := &sm.shards[i]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	for k, v := range shard.m {
		fn(k, v)
	}
}

// DeleteShardIf removes every key in shard i for which fn returns true,
// holding the shard lock for the whole scan so the reaper's view is
// consistent with any single concurrent Get/Set on that shard.
func (sm *Map[K, V]) DeleteShardIf(i int, fn func(K, V) bool) {
	shard := &sm.shards[i]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	for k, v := range shard.m {
		if fn(k, v) {
			delete(shard.m, k)
		}
	}
}

// Snapshot returns a copy of every key/value pair in the map. Shards are
// copied one at a time, so the result is eventually consistent across
// shards, never globally atomic.
func (sm *Map[K, V]) Snapshot() map[K]V {
	out := make(map[K]V)

	for i := range sm.shards {
		sm.shards[i].mu.Lock()
		for k, v := range sm.shards[i].m {
			out[k] = v
		}
		sm.shards[i].mu.Unlock()
	}

	return out
}
