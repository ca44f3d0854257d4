// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"container/list"
	"sync"
)

// lruCache implements a thread-safe LRU (Least Recently Used) cache with a
// maximum size limit. When the cache is full, the least recently used item
// is evicted to make room for new items. A capacity of zero disables
// caching: Store is a no-op and Load always misses.
type lruCache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	cache    map[K]*list.Element
	lruList  *list.List
}

// lruEntry represents a key-value pair in the LRU cache
type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// newLRUCache creates a new LRU cache with the specified capacity
func newLRUCache[K comparable, V any](capacity int) *lruCache[K, V] {
	return &lruCache[K, V]{
		capacity: max(capacity, 0),
		cache:    make(map[K]*list.Element),
		lruList:  list.New(),
	}
}

// Load retrieves a value from the cache and moves it to the front.
func (c *lruCache[K, V]) Load(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lruList.MoveToFront(elem)
		return elem.Value.(*lruEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Store adds or updates a value in the cache. If the cache is at capacity,
// the least recently used item is evicted. Returns true if an item was
// evicted.
func (c *lruCache[K, V]) Store(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		return false
	}
	if elem, ok := c.cache[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*lruEntry[K, V]).value = value
		return false
	}

	evicted := false
	if c.lruList.Len() >= c.capacity {
		if oldest := c.lruList.Back(); oldest != nil {
			c.lruList.Remove(oldest)
			delete(c.cache, oldest.Value.(*lruEntry[K, V]).key)
			evicted = true
		}
	}
	c.cache[key] = c.lruList.PushFront(&lruEntry[K, V]{key: key, value: value})
	return evicted
}

// Delete removes a key from the cache. Returns true if the key was present.
func (c *lruCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lruList.Remove(elem)
		delete(c.cache, key)
		return true
	}
	return false
}

// Clear removes all items from the cache
func (c *lruCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[K]*list.Element)
	c.lruList = list.New()
}

// Len returns the current number of items in the cache
func (c *lruCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lruList.Len()
}

// Range calls f for each key-value pair from the most to the least recently
// used. If f returns false, iteration stops.
func (c *lruCache[K, V]) Range(f func(key K, value V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.lruList.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*lruEntry[K, V])
		if !f(entry.key, entry.value) {
			break
		}
	}
}
