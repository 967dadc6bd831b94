package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"chat-worker/internal/domain"
)

// newLiveRedis connects to REDIS_ADDR and skips the test when it is unset.
func newLiveRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisIncrementBelow_Live(t *testing.T) {
	rdb := newLiveRedis(t)
	c, err := NewRedis(rdb)
	require.NoError(t, err)
	ctx := context.Background()

	key := fmt.Sprintf("rl:itest-%d:20260301", time.Now().UnixNano())
	t.Cleanup(func() { rdb.Del(context.Background(), key) })
	expireAt := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	rec := domain.QuotaRecord{Key: key, UserID: "itest", Day: "20260301", TTL: expireAt.Unix()}

	n, err := c.Count(ctx, key)
	require.NoError(t, err)
	require.Zero(t, n)

	for want := 1; want <= 3; want++ {
		n, ok, err := c.IncrementBelow(ctx, rec, 3)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, n)
	}
	n, ok, err := c.IncrementBelow(ctx, rec, 3)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 3, n)

	n, err = c.Count(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	ttl, err := rdb.PTTL(ctx, key).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 47*time.Hour)
	require.LessOrEqual(t, ttl, 48*time.Hour)
}

func TestRedisIncrementBelow_LiveConcurrent(t *testing.T) {
	rdb := newLiveRedis(t)
	c, err := NewRedis(rdb)
	require.NoError(t, err)

	key := fmt.Sprintf("rl:itest-conc-%d:20260301", time.Now().UnixNano())
	t.Cleanup(func() { rdb.Del(context.Background(), key) })
	rec := domain.QuotaRecord{Key: key, TTL: time.Now().Add(time.Hour).Unix()}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := c.IncrementBelow(context.Background(), rec, 10)
			if err == nil && ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 10, admitted)

	n, err := c.Count(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, 10, n)
}
