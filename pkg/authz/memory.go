package authz

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/cpike5/gatelink/pkg/observability"
)

// DefaultMaxEntries bounds the in-process cache. One entry per external
// identity, so this is generous for a single community.
const DefaultMaxEntries = 10000

// MemoryCache is the in-process authorization cache for single-node
// deployments, backed by an expirable LRU. Reads re-insert the entry, which
// resets its TTL and slides the freshness window.
type MemoryCache struct {
	lru     *expirable.LRU[int64, []string]
	source  RoleSource
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewMemoryCache creates a cache over the role source. metrics may be nil.
func NewMemoryCache(source RoleSource, window time.Duration, maxEntries int, metrics *observability.Metrics) *MemoryCache {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryCache{
		lru:     expirable.NewLRU[int64, []string](maxEntries, nil, window),
		source:  source,
		metrics: metrics,
	}
}

// RolesOf implements Cache.
func (c *MemoryCache) RolesOf(ctx context.Context, externalID int64) ([]string, error) {
	if roles, ok := c.lru.Get(externalID); ok {
		// Re-insert to reset the entry TTL (sliding window).
		c.lru.Add(externalID, roles)
		if c.metrics != nil {
			c.metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
		}
		return append([]string(nil), roles...), nil
	}

	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("memory").Inc()
	}

	v, err, _ := c.group.Do(strconv.FormatInt(externalID, 10), func() (interface{}, error) {
		roles, err := c.source.RolesForExternalID(ctx, externalID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve roles: %w", err)
		}
		if roles == nil {
			roles = []string{}
		}
		c.lru.Add(externalID, roles)
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

// IsInRole implements Cache.
func (c *MemoryCache) IsInRole(ctx context.Context, externalID int64, role string) (bool, error) {
	roles, err := c.RolesOf(ctx, externalID)
	if err != nil {
		return false, err
	}
	return containsRole(roles, role), nil
}

// Invalidate implements Cache. Removal is atomic per key, so readers never
// observe a half-evicted entry.
func (c *MemoryCache) Invalidate(ctx context.Context, externalID int64) error {
	c.lru.Remove(externalID)
	return nil
}

// InvalidateAll implements Cache.
func (c *MemoryCache) InvalidateAll(ctx context.Context) error {
	c.lru.Purge()
	return nil
}
