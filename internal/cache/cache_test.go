package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	_, found, err := c.Get(ctx, "title:dune|frank herbert")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "title:dune|frank herbert", []byte(`{"isbn":"9780441172719"}`), 0))

	got, found, err := c.Get(ctx, "title:dune|frank herbert")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"isbn":"9780441172719"}`, string(got))
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCacheWithoutTTLStillExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	_, expires, found := c.items.GetWithExpiration("k")
	require.True(t, found)
	assert.False(t, expires.IsZero(), "entries must carry an expiry")
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), expires, 5*time.Second)
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not a url", "shelfscan:")
	assert.Error(t, err)
}
