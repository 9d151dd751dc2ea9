package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestKV(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisFromClient(rdb, zap.NewNop()), mr
}

func TestRedisKV_SetNX(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	created, err := kv.SetNX(ctx, "dedup:base:evt-1", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = kv.SetNX(ctx, "dedup:base:evt-1", "1", time.Hour)
	require.NoError(t, err)
	assert.False(t, created, "second claim must lose")

	assert.Equal(t, time.Hour, mr.TTL("dedup:base:evt-1"))

	mr.FastForward(time.Hour + time.Second)
	created, err = kv.SetNX(ctx, "dedup:base:evt-1", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, created, "claim is available again after expiry")
}

func TestRedisKV_GetSetDelete(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "holdings:s:t:base")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "holdings:s:t:base", "1500", 0))
	v, err := kv.Get(ctx, "holdings:s:t:base")
	require.NoError(t, err)
	assert.Equal(t, "1500", v)
	assert.Zero(t, mr.TTL("holdings:s:t:base"), "no expiry")

	require.NoError(t, kv.Delete(ctx, "holdings:s:t:base", "absent"))
	_, err = kv.Get(ctx, "holdings:s:t:base")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Delete(ctx))
}

func TestRedisKV_CompareAndSwap(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	swapped, err := kv.CompareAndSwap(ctx, "holdings:k", "10", "20")
	require.NoError(t, err)
	assert.False(t, swapped, "missing key is not created")
	assert.False(t, mr.Exists("holdings:k"))

	require.NoError(t, mr.Set("holdings:k", "10"))
	swapped, err = kv.CompareAndSwap(ctx, "holdings:k", "99", "20")
	require.NoError(t, err)
	assert.False(t, swapped)
	v, _ := mr.Get("holdings:k")
	assert.Equal(t, "10", v)

	swapped, err = kv.CompareAndSwap(ctx, "holdings:k", "10", "20")
	require.NoError(t, err)
	assert.True(t, swapped)
	v, _ = mr.Get("holdings:k")
	assert.Equal(t, "20", v)
}

func TestRedisKV_Sets(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	members, err := kv.SMembers(ctx, "webhook:addresses")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, kv.SAdd(ctx, "webhook:addresses", "0xaa", "0xbb", "0xaa"))
	require.NoError(t, kv.SAdd(ctx, "webhook:addresses"))
	members, err = kv.SMembers(ctx, "webhook:addresses")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0xaa", "0xbb"}, members)

	require.NoError(t, kv.SRem(ctx, "webhook:addresses", "0xaa", "0xcc"))
	members, err = kv.SMembers(ctx, "webhook:addresses")
	require.NoError(t, err)
	assert.Equal(t, []string{"0xbb"}, members)
}

func TestRedisKV_JSON(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	type entry struct {
		Name string `json:"name"`
	}
	require.NoError(t, kv.SetJSON(ctx, "k", []entry{{Name: "a"}}, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	var got []entry
	require.NoError(t, kv.GetJSON(ctx, "k", &got))
	assert.Equal(t, []entry{{Name: "a"}}, got)

	assert.ErrorIs(t, kv.GetJSON(ctx, "missing", &got), ErrNotFound)

	require.NoError(t, mr.Set("bad", "{not json"))
	err := kv.GetJSON(ctx, "bad", &got)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestRedisKV_ErrorsWhenDown(t *testing.T) {
	kv, mr := newTestKV(t)
	mr.Close()

	_, err := kv.SetNX(context.Background(), "k", "1", time.Minute)
	assert.Error(t, err)

	_, err = kv.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound), "outage is not a miss")
}

// --- HealthCheck Tests ---

func TestHealthCheck_Success(t *testing.T) {
	kv, _ := newTestKV(t)
	require.NoError(t, kv.HealthCheck(context.Background()))
}

func TestHealthCheck_RedisNil(t *testing.T) {
	kv := &RedisKV{}
	err := kv.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis not initialized")
}

func TestHealthCheck_RedisDown(t *testing.T) {
	kv, mr := newTestKV(t)
	mr.Close()

	err := kv.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestNewRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(addr, 0, "", nil)
	assert.Error(t, err)
}

// --- Close Tests ---

func TestClose_NilComponents(t *testing.T) {
	var kv *RedisKV
	require.NoError(t, kv.Close())
	require.NoError(t, (&RedisKV{}).Close())
}
