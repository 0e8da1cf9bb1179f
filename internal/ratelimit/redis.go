package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrementScript applies the fixed-window rule server-side so concurrent
// instances cannot race between reading and bumping the count.
//
// KEYS[1] = counter hash, ARGV = limit, window (ms), now (unix ms).
// Returns {admitted (0|1), count}.
var incrementScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local start = tonumber(redis.call('HGET', KEYS[1], 'start') or '0')
if count == 0 or now - start > window then
  redis.call('HSET', KEYS[1], 'count', 1, 'start', now)
  redis.call('PEXPIRE', KEYS[1], window + 1)
  return {1, 1}
end
if count >= limit then
  return {0, count}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count}
`)

// RedisStore keeps counters in Redis hashes ({count, start}) that expire with
// their window, so every instance behind a load balancer shares one quota.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore wraps an existing client. Keys are namespaced with prefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) key(clientID string) string {
	return s.prefix + clientID
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	vals, err := s.client.HMGet(ctx, s.key(key), "count", "start").Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("redis hmget: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return Record{}, false, nil
	}

	count, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return Record{}, false, fmt.Errorf("parse count for %s: %w", key, err)
	}
	startMs, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return Record{}, false, fmt.Errorf("parse window start for %s: %w", key, err)
	}
	return Record{Count: count, WindowStart: time.UnixMilli(startMs)}, true, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (int, bool, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, limit, window.Milliseconds(), now.UnixMilli()).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis increment: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, false, errors.New("redis increment: unexpected script reply")
	}
	admitted, ok1 := vals[0].(int64)
	count, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return 0, false, errors.New("redis increment: unexpected script reply")
	}
	return int(count), admitted == 1, nil
}

// Sweep is a no-op: every hash carries a PEXPIRE equal to its window, so
// Redis reclaims expired records on its own.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
