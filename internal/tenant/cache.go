package tenant

import (
	"context"
	"sync"
	"time"

	"pulse-telemetry/internal/admission"
)

// FilterCacheTTL bounds how stale a cached drop-filter config may be.
const FilterCacheTTL = time.Minute

type cachedFilter struct {
	cfg       admission.FilterConfig
	fetchedAt time.Time
}

// CachedStore wraps a Store and memoizes drop-filter configs so batch
// admission does not hit the settings backend per submission. Key lookups
// pass through uncached.
type CachedStore struct {
	Store
	ttl time.Duration

	mu      sync.Mutex
	filters map[string]cachedFilter
	now     func() time.Time
}

// WithFilterCache decorates a store with a TTL filter-config cache.
func WithFilterCache(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = FilterCacheTTL
	}
	return &CachedStore{
		Store:   inner,
		ttl:     ttl,
		filters: make(map[string]cachedFilter),
		now:     time.Now,
	}
}

// FilterConfig serves from the cache when fresh, refreshing on expiry. A
// backend error keeps serving the stale entry when one exists.
func (c *CachedStore) FilterConfig(ctx context.Context, tenantID string) (admission.FilterConfig, error) {
	now := c.now()
	c.mu.Lock()
	entry, ok := c.filters[tenantID]
	c.mu.Unlock()
	if ok && now.Sub(entry.fetchedAt) < c.ttl {
		return entry.cfg, nil
	}

	cfg, err := c.Store.FilterConfig(ctx, tenantID)
	if err != nil {
		if ok {
			return entry.cfg, nil
		}
		return admission.FilterConfig{}, err
	}
	c.mu.Lock()
	c.filters[tenantID] = cachedFilter{cfg: cfg, fetchedAt: now}
	c.mu.Unlock()
	return cfg, nil
}
