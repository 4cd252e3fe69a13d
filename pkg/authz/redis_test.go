package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T, source RoleSource, window time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache := &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		source: source,
		window: window,
	}
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestRedisCacheMissResolvesAndCaches(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member", "Moderator")
	cache, mr := newTestRedisCache(t, source, time.Minute)
	ctx := context.Background()

	roles, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Member", "Moderator"}, roles)
	assert.Equal(t, int64(1), source.resolutions())

	// The entry landed under the expected key with the window TTL.
	assert.True(t, mr.Exists("authz:roles:42"))
	ttl := mr.TTL("authz:roles:42")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedisCacheHitSkipsSource(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member")
	cache, _ := newTestRedisCache(t, source, time.Minute)
	ctx := context.Background()

	_, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)

	source.set(42, "Member", "Administrator")

	roles, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"Member"}, roles)
	assert.Equal(t, int64(1), source.resolutions())
}

func TestRedisCacheSlidesWindowOnRead(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member")
	cache, mr := newTestRedisCache(t, source, time.Minute)
	ctx := context.Background()

	_, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)

	// Let most of the window pass, then read again; the TTL must reset.
	mr.FastForward(50 * time.Second)
	_, err = cache.RolesOf(ctx, 42)
	require.NoError(t, err)

	assert.Greater(t, mr.TTL("authz:roles:42"), 50*time.Second)
	assert.Equal(t, int64(1), source.resolutions())
}

func TestRedisCacheEntryExpiresAfterWindow(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member")
	cache, mr := newTestRedisCache(t, source, time.Minute)
	ctx := context.Background()

	_, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cache.RolesOf(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(2), source.resolutions())
}

func TestRedisCacheInvalidate(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member")
	cache, mr := newTestRedisCache(t, source, time.Minute)
	ctx := context.Background()

	_, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx, 42))
	assert.False(t, mr.Exists("authz:roles:42"))

	source.set(42, "Member", "Administrator")
	roles, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Member", "Administrator"}, roles)
}

func TestRedisCacheInvalidateAllSweepsPrefix(t *testing.T) {
	source := newFakeSource()
	for id := int64(1); id <= 250; id++ {
		source.set(id, "Member")
	}
	cache, mr := newTestRedisCache(t, source, time.Minute)
	ctx := context.Background()

	for id := int64(1); id <= 250; id++ {
		_, err := cache.RolesOf(ctx, id)
		require.NoError(t, err)
	}

	// Keys outside the prefix must survive the sweep.
	mr.Set("unrelated:key", "value")

	require.NoError(t, cache.InvalidateAll(ctx))

	for id := int64(1); id <= 250; id++ {
		assert.False(t, mr.Exists(redisKey(id)))
	}
	assert.True(t, mr.Exists("unrelated:key"))
}

func TestRedisCacheCorruptEntryReResolves(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member")
	cache, mr := newTestRedisCache(t, source, time.Minute)
	ctx := context.Background()

	mr.Set("authz:roles:42", "{not json")

	roles, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"Member"}, roles)
	assert.Equal(t, int64(1), source.resolutions())
}

func TestRedisCacheUnlinkedIdentityYieldsEmptySet(t *testing.T) {
	cache, _ := newTestRedisCache(t, newFakeSource(), time.Minute)

	roles, err := cache.RolesOf(context.Background(), 999)
	require.NoError(t, err)
	assert.NotNil(t, roles)
	assert.Empty(t, roles)
}

func TestRedisCacheIsInRole(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Administrator")
	cache, _ := newTestRedisCache(t, source, time.Minute)
	ctx := context.Background()

	ok, err := cache.IsInRole(ctx, 42, "Administrator")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.IsInRole(ctx, 42, "Moderator")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisCache("not-a-url", "", newFakeSource(), time.Minute, nil)
	assert.Error(t, err)
}
