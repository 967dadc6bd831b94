package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"chat-worker/internal/domain"
)

// incrementBelowScript increments KEYS[1] unless it already holds ARGV[1] or
// more, then sets its absolute expiry to ARGV[2] (unix milliseconds).
// Returns the new count, or -1 when the limit was reached.
const incrementBelowScript = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
  return -1
end
local n = redis.call("INCR", KEYS[1])
redis.call("PEXPIREAT", KEYS[1], ARGV[2])
return n
`

// redisAPI is the subset of redis.UniversalClient used by RedisClient.
type redisAPI interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisClient keeps quota counters in Redis.
type RedisClient struct {
	rdb redisAPI
}

// NewRedis creates a RedisClient.
func NewRedis(rdb redisAPI) (*RedisClient, error) {
	if rdb == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	return &RedisClient{rdb: rdb}, nil
}

// IncrementBelow implements the same contract as Client.IncrementBelow using a
// single server-side script.
func (c *RedisClient) IncrementBelow(ctx context.Context, rec domain.QuotaRecord, limit int) (int, bool, error) {
	if rec.Key == "" {
		return 0, false, errors.New("repository: IncrementBelow: key is required")
	}
	expireAt := time.Unix(rec.TTL, 0).UnixMilli()

	n, err := c.rdb.Eval(ctx, incrementBelowScript, []string{rec.Key}, limit, expireAt).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("repository: IncrementBelow eval: %w", err)
	}
	if n < 0 {
		return limit, false, nil
	}
	return int(n), true, nil
}

// Count returns the counter at key, 0 when the key does not exist.
func (c *RedisClient) Count(ctx context.Context, key string) (int, error) {
	n, err := c.rdb.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("repository: Count get: %w", err)
	}
	return n, nil
}
