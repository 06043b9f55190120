package runner

import (
	"maps"
	"sync"
)

// HashCache remembers the last persisted result hash per query id.
type HashCache struct {
	mu     sync.RWMutex
	hashes map[string]string
}

// NewHashCache creates an empty cache.
func NewHashCache() *HashCache {
	return &HashCache{hashes: make(map[string]string)}
}

// Get returns the stored hash for id.
func (c *HashCache) Get(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashes[id]
	return h, ok
}

// Set stores the hash for id.
func (c *HashCache) Set(id, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[id] = hash
}

// Delete forgets id.
func (c *HashCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hashes, id)
}

// All returns a copy of every stored hash.
func (c *HashCache) All() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.hashes)
}

// Load replaces the cache content.
func (c *HashCache) Load(hashes map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes = maps.Clone(hashes)
	if c.hashes == nil {
		c.hashes = make(map[string]string)
	}
}
