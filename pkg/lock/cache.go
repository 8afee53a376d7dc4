package lock

import "sync"

// bootstrapCache remembers which resources are known to have a lock row. It only saves insert
// round trips; losing an entry is always safe.
type bootstrapCache struct {
	mu      sync.Mutex
	entries map[string]bool
}

func newBootstrapCache() *bootstrapCache {
	return &bootstrapCache{entries: make(map[string]bool)}
}

func (c *bootstrapCache) known(resource string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[resource]
}

func (c *bootstrapCache) remember(resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[resource] = true
}

func (c *bootstrapCache) forget(resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, resource)
}

func (c *bootstrapCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
