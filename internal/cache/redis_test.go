package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisBackend(client, "test")
}

func TestRedisBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "test:job:7", []byte(`{"id":7}`), time.Minute, []string{"job:7"}))

	got, ok, err := r.Get(ctx, "test:job:7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":7}`, string(got))

	n, err := r.Invalidate(ctx, "job:7:*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err = r.Get(ctx, "test:job:7")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackendExpiry(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Second, nil))
	mr.FastForward(time.Second)

	_, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackendZeroTTL(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Minute, nil))
	require.NoError(t, r.Set(ctx, "k", []byte("v2"), 0, []string{"t"}))

	_, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("k"))
}

func TestRedisBackendPatterns(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "job:7", []byte("j"), time.Minute, []string{"job:7"}))
	require.NoError(t, r.Set(ctx, "job:7:events", []byte("e"), time.Minute, []string{"job:7:events"}))
	require.NoError(t, r.Set(ctx, "job:70", []byte("x"), time.Minute, []string{"job:70"}))
	require.NoError(t, r.Set(ctx, "search:1", []byte("s"), time.Minute, []string{"search:jobs"}))

	n, err := r.Invalidate(ctx, "job:7:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, mr.Exists("job:70"))
	assert.False(t, mr.Exists("test:tags:job:7"), "tag sets are removed with their entries")

	n, err = r.Invalidate(ctx, "search*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.Invalidate(ctx, "nothing:*")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisBackendResetDropsOldTags(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "test:k", []byte("v1"), time.Minute, []string{"a"}))
	require.NoError(t, r.Set(ctx, "test:k", []byte("v2"), time.Minute, []string{"b"}))

	n, err := r.Invalidate(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, mr.Exists("test:k"), "entry no longer carries tag a")

	n, err = r.Invalidate(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("test:k"))
	assert.False(t, mr.Exists("test:keytags:test:k"))
}

func TestRedisBackendLen(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)

	require.NoError(t, r.Set(ctx, "test:job:1", []byte("a"), time.Minute, []string{"job:1"}))
	require.NoError(t, r.Set(ctx, "test:job:2", []byte("b"), time.Minute, nil))
	require.NoError(t, mr.Set("other:job:3", "c"))

	n, err := r.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, r.Delete(ctx, "test:job:1"))
	n, err = r.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("test:keytags:test:job:1"))
}

func TestRedisBackendUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)
	mr.Close()

	_, _, err := r.Get(ctx, "k")
	require.Error(t, err)
	assert.True(t, errors.IsUpstream(err))

	_, err = r.Invalidate(ctx, "job:*")
	assert.True(t, errors.IsUpstream(err))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
}
