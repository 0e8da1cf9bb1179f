package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, "rl:"), mr
}

func TestRedisLimiter_TenthAllowedEleventhDeniedThenReset(t *testing.T) {
	store, mr := newMiniRedisStore(t)
	clock := newFakeClock()
	l := New(store, 10, time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		allowed, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i)
	}

	allowed, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)

	rec, ok, err := store.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10, rec.Count)
	assert.True(t, rec.WindowStart.Equal(clock.Now()))
	assert.Equal(t, time.Hour+time.Millisecond, mr.TTL("rl:1.2.3.4"))

	// exactly one window later the record is not yet expired
	clock.Advance(time.Hour)
	allowed, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)

	clock.Advance(time.Millisecond)
	allowed, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)

	rec, _, err = store.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	assert.True(t, rec.WindowStart.Equal(clock.Now()))
	assert.Equal(t, time.Hour+time.Millisecond, mr.TTL("rl:1.2.3.4"))
}

func TestRedisLimiter_ClientsAreIndependent(t *testing.T) {
	store, mr := newMiniRedisStore(t)
	clock := newFakeClock()
	l := New(store, 2, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Allow(ctx, "a")
		require.NoError(t, err)
	}
	allowed, err := l.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.Equal(t, "2", mr.HGet("rl:a", "count"))
	assert.Equal(t, "1", mr.HGet("rl:b", "count"))
}

func TestRedisStore_DeniedRequestDoesNotBumpCount(t *testing.T) {
	store, mr := newMiniRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 23, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, _, err := store.Increment(ctx, "c", 3, time.Hour, now)
		require.NoError(t, err)
	}

	count, allowed, err := store.Increment(ctx, "c", 3, time.Hour, now)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, count)
	assert.Equal(t, "3", mr.HGet("rl:c", "count"))
}
