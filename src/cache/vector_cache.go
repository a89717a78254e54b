// Package cache holds the embedding vector cache: repeated entity names and
// queries would otherwise hit the embedding provider on every turn.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// VectorCache is a thread-safe LRU cache for embedding vectors with TTL.
type VectorCache struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	lru      *list.List
}

type vectorEntry struct {
	key       string
	vector    []float32
	expiresAt time.Time
}

// NewVectorCache creates a cache holding at most capacity vectors, each
// valid for ttl.
func NewVectorCache(capacity int, ttl time.Duration) *VectorCache {
	return &VectorCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Get retrieves a cached vector, expiring it lazily.
func (c *VectorCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := elem.Value.(*vectorEntry)
	if time.Now().After(ent.expiresAt) {
		c.lru.Remove(elem)
		delete(c.items, key)
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return ent.vector, true
}

// Set stores a vector, evicting the least recently used entry when full.
func (c *VectorCache) Set(key string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		ent := elem.Value.(*vectorEntry)
		ent.vector = vector
		ent.expiresAt = expiresAt
		return
	}

	elem := c.lru.PushFront(&vectorEntry{key: key, vector: vector, expiresAt: expiresAt})
	c.items[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*vectorEntry).key)
		}
	}
}

// Clear removes all entries.
func (c *VectorCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.lru.Init()
}

// Len returns the number of cached vectors.
func (c *VectorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// HashKey builds a stable cache key from arbitrary text.
func HashKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
