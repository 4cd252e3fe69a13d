package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"

	"github.com/cpike5/gatelink/pkg/observability"
)

const (
	// DefaultWindow is the default sliding freshness window.
	DefaultWindow = 5 * time.Minute

	redisKeyPrefix = "authz:roles:"
	redisScanBatch = 100
)

// RedisCache is the Redis-backed authorization cache. Entries are JSON role
// lists keyed by external identity; reads refresh the key's TTL so the
// freshness window slides with use.
type RedisCache struct {
	client  *redis.Client
	source  RoleSource
	window  time.Duration
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewRedisCache connects to Redis at the given URL and returns a cache over
// the role source. metrics may be nil.
func NewRedisCache(redisURL, password string, source RoleSource, window time.Duration, metrics *observability.Metrics) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if window <= 0 {
		window = DefaultWindow
	}

	return &RedisCache{
		client:  client,
		source:  source,
		window:  window,
		metrics: metrics,
	}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying connection for health probes.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// RolesOf implements Cache.
func (c *RedisCache) RolesOf(ctx context.Context, externalID int64) ([]string, error) {
	key := redisKey(externalID)

	data, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var roles []string
		if jsonErr := json.Unmarshal([]byte(data), &roles); jsonErr == nil {
			// Slide the freshness window on read.
			c.client.Expire(ctx, key, c.window)
			c.recordHit()
			return roles, nil
		}
		// Corrupt entry; drop it and re-resolve.
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	c.recordMiss()
	return c.resolve(ctx, externalID)
}

// IsInRole implements Cache.
func (c *RedisCache) IsInRole(ctx context.Context, externalID int64, role string) (bool, error) {
	roles, err := c.RolesOf(ctx, externalID)
	if err != nil {
		return false, err
	}
	return containsRole(roles, role), nil
}

// Invalidate implements Cache.
func (c *RedisCache) Invalidate(ctx context.Context, externalID int64) error {
	if err := c.client.Del(ctx, redisKey(externalID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// InvalidateAll implements Cache. Sweeps the key prefix with SCAN in bounded
// batches; entries missed by the sweep age out on their own window.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, redisKeyPrefix+"*", redisScanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del failed: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// resolve fetches roles from the source of truth and caches them. Concurrent
// misses for the same identity share one resolution.
func (c *RedisCache) resolve(ctx context.Context, externalID int64) ([]string, error) {
	v, err, _ := c.group.Do(redisKey(externalID), func() (interface{}, error) {
		roles, err := c.source.RolesForExternalID(ctx, externalID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve roles: %w", err)
		}
		if roles == nil {
			roles = []string{}
		}

		data, err := json.Marshal(roles)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal roles: %w", err)
		}
		if err := c.client.Set(ctx, redisKey(externalID), data, c.window).Err(); err != nil {
			return nil, fmt.Errorf("redis set failed: %w", err)
		}
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (c *RedisCache) recordHit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
	}
}

func (c *RedisCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
	}
}

func redisKey(externalID int64) string {
	return fmt.Sprintf("%s%d", redisKeyPrefix, externalID)
}
