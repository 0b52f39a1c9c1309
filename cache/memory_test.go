package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSet(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	defer c.Close()

	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Minute))

	got, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

func TestMemoryCache_Expiry(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "short", []byte("v"), 10*time.Millisecond))

	got, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	time.Sleep(20 * time.Millisecond)

	_, err = c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))

	time.Sleep(10 * time.Millisecond)

	got, err := c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryCache_Delete(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "key", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "key"))

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Deleting an absent key is not an error.
	assert.NoError(t, c.Delete(ctx, "absent"))
}

func TestMemoryCache_ClearAndSize(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))

	size, err := c.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	require.NoError(t, c.Clear(ctx))

	size, err = c.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	t.Parallel()

	c := NewMemory(WithMaxEntries(2))
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))

	// Touch "a" so "b" becomes the eviction candidate.
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Minute))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestMemoryCache_Overwrite(t *testing.T) {
	t.Parallel()

	c := NewMemory()
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "key", []byte("old"), time.Minute))
	require.NoError(t, c.Set(ctx, "key", []byte("new"), time.Minute))

	got, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)

	size, err := c.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestMemoryCache_Stats(t *testing.T) {
	t.Parallel()

	c := NewMemory().(CacheWithStats)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "key", []byte("v"), time.Minute))

	_, _ = c.Get(ctx, "key")
	_, _ = c.Get(ctx, "nope")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRate(), 0.01)
}
