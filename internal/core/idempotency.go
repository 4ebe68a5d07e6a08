package core

import (
	"container/list"
	"sync"
)

// ReferenceCache remembers recently used deposit references so replayed
// webhooks are rejected before opening a transaction. It is only a fast
// path: the unique external_reference column remains the authority.
type ReferenceCache struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewReferenceCache(capacity int) *ReferenceCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReferenceCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (c *ReferenceCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.cache[key]
	if exists {
		c.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (c *ReferenceCache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		c.lruList.MoveToFront(elem)
		return
	}

	elem := c.lruList.PushFront(&lruEntry{key: key})
	c.cache[key] = elem

	if c.lruList.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *ReferenceCache) evictOldest() {
	elem := c.lruList.Back()
	if elem != nil {
		c.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(c.cache, entry.key)
		c.evictions++
	}
}

// Size returns current number of entries
func (c *ReferenceCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Evictions returns total evictions
func (c *ReferenceCache) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}
