package dingtalk

import "sync"

// configCache is the process-wide read-through cache over robot configs,
// keyed by config id. Entries are populated lazily on read and evicted
// explicitly on write and delete; there is no TTL because invalidation
// is write-driven. Each id carries a generation: invalidate bumps it,
// and a put only lands when the generation captured before the backing
// read is still current, so a slow read racing a write cannot re-pin
// the stale row.
type configCache struct {
	mu      sync.RWMutex
	entries map[string]BotConfig
	gens    map[string]uint64
}

func newConfigCache() *configCache {
	return &configCache{
		entries: map[string]BotConfig{},
		gens:    map[string]uint64{},
	}
}

func (c *configCache) get(id string) (BotConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.entries[id]
	return cfg, ok
}

// gen returns the current generation for id. Callers capture it before
// reading the backing row and hand it back to put.
func (c *configCache) gen(id string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[id]
}

func (c *configCache) put(cfg BotConfig, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[cfg.ID] != gen {
		return
	}
	c.entries[cfg.ID] = cfg
}

func (c *configCache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.gens[id]++
}
