// Package cache implements the bounded conversation cache a stateful-call
// intermediary (e.g. a websocket gateway) uses to pin a client's thread to
// the worker address that answered its first CONNECT.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the default bound on the thread -> address map.
const DefaultCapacity = 64

// Cache maps thread id to worker address, bounded at capacity entries.
// Set is a no-op once the cache is full rather than evicting: a surplus
// CONNECT still works, it's just unpinned.
type Cache struct {
	capacity int
	lru      *lru.Cache[string, string]
}

// New builds a Cache with the given capacity; capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New[string, string](capacity)
	if err != nil {
		// lru.New only errors on size <= 0, excluded above.
		panic(err)
	}
	return &Cache{capacity: capacity, lru: c}
}

// Set pins thread to address unless the cache is already at capacity and
// thread is not already present.
func (c *Cache) Set(thread, address string) {
	if !c.lru.Contains(thread) && c.lru.Len() >= c.capacity {
		return
	}
	c.lru.Add(thread, address)
}

// Get returns the worker address pinned to thread, if any.
func (c *Cache) Get(thread string) (string, bool) {
	return c.lru.Get(thread)
}

// Remove always succeeds, whether or not thread was present.
func (c *Cache) Remove(thread string) {
	c.lru.Remove(thread)
}
