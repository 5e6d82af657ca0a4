package decision

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rules    []*DecisionRule
	cachedAt time.Time
}

// InMemoryRulesCache is a map-backed RulesCache keyed by entity type.
type InMemoryRulesCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryRulesCache creates a new in-memory rules cache.
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

func (c *InMemoryRulesCache) Get(entityTypeID string) []*DecisionRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[entityTypeID]
	if !ok {
		return nil
	}
	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil
	}

	// Return a copy so callers cannot mutate the cached slice.
	rules := make([]*DecisionRule, len(entry.rules))
	copy(rules, entry.rules)
	return rules
}

func (c *InMemoryRulesCache) Set(entityTypeID string, rules []*DecisionRule) {
	stored := make([]*DecisionRule, len(rules))
	copy(stored, rules)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entityTypeID] = cacheEntry{rules: stored, cachedAt: time.Now()}
}

func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
