package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aed-compliance/platform/internal/shared/config"
)

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), config.CacheConfig{
		RedisAddr: mr.Addr(),
		Prefix:    "aed:",
		TTL:       time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func backends(t *testing.T) map[string]Cache {
	r, _ := newRedis(t)
	return map[string]Cache{
		"memory": NewMemory(time.Minute),
		"redis":  r,
	}
}

func TestCache_Contract(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := c.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
			got, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)

			require.NoError(t, c.Delete(ctx, "k"))
			_, err = c.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
			require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
			require.NoError(t, c.Flush(ctx))
			_, err = c.Get(ctx, "a")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = c.Get(ctx, "b")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemory_CopiesValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, 0))
	buf[0] = 'x'
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRedis_PrefixAndTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedis(t)

	require.NoError(t, c.Set(ctx, "stats", []byte("x"), 0))
	assert.True(t, mr.Exists("aed:stats"))
	assert.Equal(t, time.Minute, mr.TTL("aed:stats"))

	mr.FastForward(2 * time.Minute)
	_, err := c.Get(ctx, "stats")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_FlushKeepsForeignKeys(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedis(t)

	require.NoError(t, mr.Set("other:key", "keep"))
	require.NoError(t, c.Set(ctx, "mine", []byte("drop"), 0))
	require.NoError(t, c.Flush(ctx))

	assert.True(t, mr.Exists("other:key"))
	assert.False(t, mr.Exists("aed:mine"))
}

func TestNewRedis_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedis(context.Background(), config.CacheConfig{RedisAddr: addr})
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	c, err := New(context.Background(), config.CacheConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	_, err = New(context.Background(), config.CacheConfig{Driver: "memcached"})
	assert.Error(t, err)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	type stats struct{ Total int }
	require.NoError(t, SetJSON(ctx, c, "s", stats{Total: 3}, 0))

	got, ok := GetJSON[stats](ctx, c, "test", "s")
	require.True(t, ok)
	assert.Equal(t, 3, got.Total)

	_, ok = GetJSON[stats](ctx, c, "test", "absent")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "bad", []byte("{"), 0))
	_, ok = GetJSON[stats](ctx, c, "test", "bad")
	assert.False(t, ok)
}
