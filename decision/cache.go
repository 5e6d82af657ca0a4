package decision

import "time"

// RulesCache caches the enabled-rules list per entity type so a matcher
// pass does not hit the registry on every trigger. Implementations must be
// safe for concurrent use.
type RulesCache interface {
	// Get returns cached rules for an entity type, or nil on miss/expiry.
	Get(entityTypeID string) []*DecisionRule

	// Set stores the rules list for an entity type.
	Set(entityTypeID string, rules []*DecisionRule)

	// Invalidate clears all cached entries, forcing a registry read on the
	// next Get. Called after any rule mutation.
	Invalidate()
}

// CacheConfig holds cache behavior settings.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries. 0 means no expiration
	// (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults used by the engine: a short TTL
// so out-of-band rule changes converge even without an invalidation.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 30 * time.Second}
}
