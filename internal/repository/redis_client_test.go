package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	val      interface{}
	err      error
	lastKeys []string
	lastArgs []interface{}

	getVal string
	getErr error
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.lastKeys = []string{key}
	cmd := redis.NewStringCmd(ctx, "get", key)
	if f.getErr != nil {
		cmd.SetErr(f.getErr)
		return cmd
	}
	cmd.SetVal(f.getVal)
	return cmd
}

func (f *fakeRedis) Eval(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.lastKeys, f.lastArgs = keys, args
	cmd := redis.NewCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	cmd.SetVal(f.val)
	return cmd
}

func TestNewRedis_Nil(t *testing.T) {
	_, err := NewRedis(nil)
	require.Error(t, err)
}

func TestRedisIncrementBelow_Admitted(t *testing.T) {
	rdb := &fakeRedis{val: int64(5)}
	c, err := NewRedis(rdb)
	require.NoError(t, err)

	rec := testRecord()
	n, ok, err := c.IncrementBelow(context.Background(), rec, 40)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5, n)
	require.Equal(t, []string{rec.Key}, rdb.lastKeys)
	require.Equal(t, []interface{}{40, time.Unix(rec.TTL, 0).UnixMilli()}, rdb.lastArgs)
}

func TestRedisIncrementBelow_Denied(t *testing.T) {
	c, err := NewRedis(&fakeRedis{val: int64(-1)})
	require.NoError(t, err)

	n, ok, err := c.IncrementBelow(context.Background(), testRecord(), 40)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 40, n)
}

func TestRedisIncrementBelow_Error(t *testing.T) {
	c, err := NewRedis(&fakeRedis{err: errors.New("connection refused")})
	require.NoError(t, err)

	_, _, err = c.IncrementBelow(context.Background(), testRecord(), 40)
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")
}

func TestRedisCount(t *testing.T) {
	rdb := &fakeRedis{getVal: "7"}
	c, err := NewRedis(rdb)
	require.NoError(t, err)

	n, err := c.Count(context.Background(), "rl:u1:20260301")
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, []string{"rl:u1:20260301"}, rdb.lastKeys)

	rdb.getErr = redis.Nil
	n, err = c.Count(context.Background(), "rl:u1:20260301")
	require.NoError(t, err)
	require.Zero(t, n)

	rdb.getErr = errors.New("connection refused")
	_, err = c.Count(context.Background(), "rl:u1:20260301")
	require.ErrorContains(t, err, "connection refused")
}
