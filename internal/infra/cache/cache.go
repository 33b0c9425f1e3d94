// Package cache provides a bounded in-memory TTL cache for query results.
// Entries belong to the identity that loaded them; callers purge the whole
// cache when the identity changes.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSize is used when New is given a non-positive size.
const DefaultSize = 256

// InMemory is a thread-safe LRU cache whose entries expire after a TTL.
type InMemory[T any] struct {
	lru *expirable.LRU[string, T]
}

// New creates a cache holding at most size entries for ttl each.
func New[T any](size int, ttl time.Duration) *InMemory[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &InMemory[T]{lru: expirable.NewLRU[string, T](size, nil, ttl)}
}

// Get retrieves a value from the cache. Returns false if not found or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	return c.lru.Get(key)
}

// Set stores a value in the cache with the configured TTL.
func (c *InMemory[T]) Set(key string, value T) {
	c.lru.Add(key, value)
}

// Delete removes a value from the cache.
func (c *InMemory[T]) Delete(key string) {
	c.lru.Remove(key)
}

// Purge drops every entry.
func (c *InMemory[T]) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *InMemory[T]) Len() int {
	return c.lru.Len()
}
