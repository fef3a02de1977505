// Package lru implements a small bounded least-recently-used cache, used
// by the notification engine (spec §4.E) and the dependency engine (spec
// §4.F) to remember recently-observed remote "closed" keys and suppress
// redundant resubscription round-trips.
//
// No LRU cache appears anywhere in the teacher's or the wider pack's
// example source (the closest relative, catrate's categoryData cleanup
// in catrate/limiter.go, is a TTL sweep over a sync.Map, not an
// access-ordered cache) — see DESIGN.md for why this is implemented
// directly on container/list rather than importing an unrelated
// ecosystem cache.
package lru

import "container/list"

// Cache is a fixed-capacity LRU cache keyed by any comparable type.
// Capacity <= 0 disables the cache entirely: Add is a no-op and
// Contains always returns false.
type Cache[K comparable] struct {
	capacity int
	ll       *list.List
	index    map[K]*list.Element
}

// New constructs a Cache with the given capacity.
func New[K comparable](capacity int) *Cache[K] {
	return &Cache[K]{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[K]*list.Element),
	}
}

// Add records key as recently seen, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *Cache[K]) Add(key K) {
	if c.capacity <= 0 {
		return
	}
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(key)
	c.index[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(K))
		}
	}
}

// Contains reports whether key is currently cached, refreshing its
// recency on a hit.
func (c *Cache[K]) Contains(key K) bool {
	el, ok := c.index[key]
	if !ok {
		return false
	}
	c.ll.MoveToFront(el)
	return true
}

// Remove evicts key, if present.
func (c *Cache[K]) Remove(key K) {
	el, ok := c.index[key]
	if !ok {
		return
	}
	c.ll.Remove(el)
	delete(c.index, key)
}

// Len returns the number of entries currently cached.
func (c *Cache[K]) Len() int { return c.ll.Len() }
