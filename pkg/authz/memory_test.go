package authz

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	roles map[int64][]string
	calls int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{roles: make(map[int64][]string)}
}

func (f *fakeSource) RolesForExternalID(ctx context.Context, externalID int64) ([]string, error) {
	atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.roles[externalID]...), nil
}

func (f *fakeSource) set(externalID int64, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[externalID] = roles
}

func (f *fakeSource) resolutions() int64 {
	return atomic.LoadInt64(&f.calls)
}

func TestMemoryCacheServesFromSourceOnMiss(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member", "Moderator")
	cache := NewMemoryCache(source, time.Minute, 0, nil)

	roles, err := cache.RolesOf(context.Background(), 42)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Member", "Moderator"}, roles)
	assert.Equal(t, int64(1), source.resolutions())
}

func TestMemoryCacheHitSkipsSource(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member")
	cache := NewMemoryCache(source, time.Minute, 0, nil)
	ctx := context.Background()

	_, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)

	// A direct grant changes the source but not the cached window.
	source.set(42, "Member", "Administrator")

	roles, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"Member"}, roles)
	assert.Equal(t, int64(1), source.resolutions())
}

func TestMemoryCacheInvalidateForcesResolution(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member")
	cache := NewMemoryCache(source, time.Minute, 0, nil)
	ctx := context.Background()

	_, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)

	source.set(42, "Member", "Administrator")
	require.NoError(t, cache.Invalidate(ctx, 42))

	roles, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Member", "Administrator"}, roles)
	assert.Equal(t, int64(2), source.resolutions())
}

func TestMemoryCacheInvalidateAll(t *testing.T) {
	source := newFakeSource()
	source.set(1, "Member")
	source.set(2, "Member")
	cache := NewMemoryCache(source, time.Minute, 0, nil)
	ctx := context.Background()

	_, err := cache.RolesOf(ctx, 1)
	require.NoError(t, err)
	_, err = cache.RolesOf(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, cache.InvalidateAll(ctx))

	_, err = cache.RolesOf(ctx, 1)
	require.NoError(t, err)
	_, err = cache.RolesOf(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), source.resolutions())
}

func TestMemoryCacheUnlinkedIdentityYieldsEmptySet(t *testing.T) {
	cache := NewMemoryCache(newFakeSource(), time.Minute, 0, nil)

	roles, err := cache.RolesOf(context.Background(), 999)
	require.NoError(t, err)
	assert.NotNil(t, roles)
	assert.Empty(t, roles)
}

func TestMemoryCacheIsInRole(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member", "Moderator")
	cache := NewMemoryCache(source, time.Minute, 0, nil)
	ctx := context.Background()

	ok, err := cache.IsInRole(ctx, 42, "Moderator")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.IsInRole(ctx, 42, "Administrator")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheCallerCannotMutateCachedEntry(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member")
	cache := NewMemoryCache(source, time.Minute, 0, nil)
	ctx := context.Background()

	roles, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)
	roles[0] = "Administrator"

	again, err := cache.RolesOf(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"Member"}, again)
}

func TestMemoryCacheConcurrentMissesShareOneResolution(t *testing.T) {
	source := newFakeSource()
	source.set(42, "Member")
	cache := NewMemoryCache(source, time.Minute, 0, nil)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			roles, err := cache.RolesOf(context.Background(), 42)
			assert.NoError(t, err)
			assert.Equal(t, []string{"Member"}, roles)
		}()
	}
	close(start)
	wg.Wait()

	// Some goroutines may hit the LRU after the first resolution lands, but
	// the singleflight group keeps duplicate resolutions from fanning out.
	assert.LessOrEqual(t, source.resolutions(), int64(2))
}
