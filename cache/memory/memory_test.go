package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	c, err := New(0)
	require.NoError(t, err)

	got, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := New(10, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "forever", []byte("2"), 0))

	now = now.Add(59 * time.Second)
	got, _ := c.Get(ctx, "short")
	assert.Equal(t, []byte("1"), got)

	now = now.Add(time.Second)
	got, _ = c.Get(ctx, "short")
	assert.Nil(t, got, "entry expires at its deadline")
	got, _ = c.Get(ctx, "forever")
	assert.Equal(t, []byte("2"), got)
	assert.Equal(t, 1, c.Len())
}

func TestEviction(t *testing.T) {
	ctx := context.Background()
	c, err := New(2)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "a", []byte("a"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("b"), 0))
	_, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "c", []byte("c"), 0))

	got, _ := c.Get(ctx, "b")
	assert.Nil(t, got, "least recently used entry is evicted")
	got, _ = c.Get(ctx, "a")
	assert.NotNil(t, got)
}

func TestDeletePrefixAndClear(t *testing.T) {
	ctx := context.Background()
	c, err := New(10)
	require.NoError(t, err)
	for _, k := range []string{"persist:users:1", "persist:users:2", "persist:posts:1"} {
		require.NoError(t, c.Set(ctx, k, []byte(k), 0))
	}
	require.NoError(t, c.DeletePrefix(ctx, "persist:users:"))
	assert.Equal(t, 1, c.Len())
	got, _ := c.Get(ctx, "persist:posts:1")
	assert.NotNil(t, got)

	require.NoError(t, c.Clear(ctx))
	assert.Zero(t, c.Len())
}
