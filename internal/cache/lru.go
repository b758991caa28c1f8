// Package cache provides the LRU cache behind the prepared statement cache.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

// LRU is a fixed-capacity, least-recently-used cache safe for concurrent use.
// The eviction callback runs for every value that leaves the cache (eviction,
// a lost Add race, or Purge), which is where prepared statements get closed.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*list.Element
	order    *list.List
	onEvict  func(K, V)

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a cache. onEvict may be nil.
func New[K comparable, V any](capacity int, onEvict func(K, V)) *LRU[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRU[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		onEvict:  onEvict,
	}
}

// Get returns the cached value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	c.hits.Add(1)
	return elem.Value.(*entry[K, V]).value, true
}

// Add stores value unless key is already present, in which case the cached
// value wins, value is handed to the eviction callback and the cached one is
// returned. Concurrent callers that prepared the same statement therefore all
// end up using a single instance.
func (c *LRU[K, V]) Add(key K, value V) V {
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		existing := elem.Value.(*entry[K, V]).value
		c.mu.Unlock()
		c.evicted(key, value)
		return existing
	}

	var victim *entry[K, V]
	if c.order.Len() >= c.capacity {
		victim = c.removeOldest()
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
	c.mu.Unlock()

	if victim != nil {
		c.evictions.Add(1)
		c.evicted(victim.key, victim.value)
	}
	return value
}

// Remove drops key, running the eviction callback if it was present.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	elem, ok := c.items[key]
	if ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
	c.mu.Unlock()

	if ok {
		e := elem.Value.(*entry[K, V])
		c.evicted(e.key, e.value)
	}
	return ok
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge empties the cache.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	var all []*entry[K, V]
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		all = append(all, elem.Value.(*entry[K, V]))
	}
	c.items = make(map[K]*list.Element, c.capacity)
	c.order.Init()
	c.mu.Unlock()

	for _, e := range all {
		c.evicted(e.key, e.value)
	}
}

// must be called with c.mu held.
func (c *LRU[K, V]) removeOldest() *entry[K, V] {
	elem := c.order.Back()
	if elem == nil {
		return nil
	}
	c.order.Remove(elem)
	e := elem.Value.(*entry[K, V])
	delete(c.items, e.key)
	return e
}

func (c *LRU[K, V]) evicted(key K, value V) {
	if c.onEvict != nil {
		c.onEvict(key, value)
	}
}

// Stats holds cache counters.
type Stats struct {
	Size      int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
}

// Stats returns a snapshot of the counters.
func (c *LRU[K, V]) Stats() Stats {
	size := c.Len()
	hits := c.hits.Load()
	misses := c.misses.Load()

	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Size:      size,
		Capacity:  c.capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		HitRate:   rate,
	}
}
