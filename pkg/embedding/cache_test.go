package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newCacheForTest(t)
	ctx := context.Background()

	vec := []float32{0.25, -1.5, 3.0}
	cache.Put(ctx, "mock", "hello", vec)

	got, ok := cache.Get(ctx, "mock", "hello")
	require.True(t, ok)
	assert.Equal(t, vec, got)
}

func TestCacheMiss(t *testing.T) {
	cache, _ := newCacheForTest(t)

	_, ok := cache.Get(context.Background(), "mock", "never stored")
	assert.False(t, ok)
}

func TestCacheKeyNormalisation(t *testing.T) {
	cache, _ := newCacheForTest(t)
	ctx := context.Background()
	vec := []float32{1, 2, 3}

	cache.Put(ctx, "mock", "  hello  ", vec)
	_, ok := cache.Get(ctx, "mock", "hello")
	assert.True(t, ok, "leading and trailing whitespace must not change the key")

	// NFC: precomposed and combining forms of é are the same key.
	cache.Put(ctx, "mock", "café", vec)
	_, ok = cache.Get(ctx, "mock", "café")
	assert.True(t, ok, "unicode normalisation must unify composed forms")

	// Case is significant.
	_, ok = cache.Get(ctx, "mock", "Hello")
	assert.False(t, ok, "case folding must not be applied")
}

func TestCacheKeysScopedByProvider(t *testing.T) {
	cache, _ := newCacheForTest(t)
	ctx := context.Background()

	cache.Put(ctx, "openai", "hello", []float32{1})
	_, ok := cache.Get(ctx, "mock", "hello")
	assert.False(t, ok, "providers must not share cache entries")
}

func TestCacheTTL(t *testing.T) {
	cache, mr := newCacheForTest(t)
	ctx := context.Background()

	cache.Put(ctx, "mock", "hello", []float32{1})
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, "mock", "hello")
	assert.False(t, ok)
}

func TestNilCacheIsInert(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	cache.Put(ctx, "mock", "hello", []float32{1})
	_, ok := cache.Get(ctx, "mock", "hello")
	assert.False(t, ok)
	assert.NoError(t, cache.Ping(ctx))
}
