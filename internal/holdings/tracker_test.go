package holdings

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/copytrader/internal/store"
	"github.com/Checker-Finance/copytrader/pkg/model"
)

func newTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(store.NewRedisFromClient(rdb, nil)), mr
}

func TestTracker_Lifecycle(t *testing.T) {
	tr, mr := newTracker(t)
	ctx := context.Background()
	key := model.NewHoldingKey("sub-1", "0xTOKEN", "BASE_MAINNET")

	_, ok, err := tr.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	amount, _ := new(big.Int).SetString("1500000000000000000", 10)
	require.NoError(t, tr.Set(ctx, key, amount))

	raw, err := mr.Get("holdings:sub-1:0xtoken:base")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", raw)
	assert.Zero(t, mr.TTL("holdings:sub-1:0xtoken:base"))

	mr.FastForward(365 * 24 * time.Hour)
	got, ok, err := tr.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok, "holdings never expire")
	assert.Equal(t, 0, amount.Cmp(got))

	require.NoError(t, tr.Delete(ctx, key))
	_, ok, err = tr.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTracker_Overwrite(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()
	key := model.NewHoldingKey("sub-1", "0xtoken", "base")

	require.NoError(t, tr.Set(ctx, key, big.NewInt(100)))
	require.NoError(t, tr.Set(ctx, key, big.NewInt(250)))

	got, ok, err := tr.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(250), got.Int64())
}

func TestTracker_RejectsInvalidAmounts(t *testing.T) {
	tr, _ := newTracker(t)
	key := model.NewHoldingKey("sub-1", "0xtoken", "base")

	assert.Error(t, tr.Set(context.Background(), key, nil))
	assert.Error(t, tr.Set(context.Background(), key, big.NewInt(-1)))
}

func TestTracker_CorruptValue(t *testing.T) {
	tr, mr := newTracker(t)
	key := model.NewHoldingKey("sub-1", "0xtoken", "base")
	require.NoError(t, mr.Set(key.String(), "1.5e18"))

	_, _, err := tr.Get(context.Background(), key)
	assert.Error(t, err)
}

func TestTracker_StoreDown(t *testing.T) {
	tr, mr := newTracker(t)
	mr.Close()
	_, _, err := tr.Get(context.Background(), model.NewHoldingKey("s", "t", "base"))
	assert.Error(t, err)
}

func TestTracker_CompareAndSet(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()
	key := model.NewHoldingKey("sub-1", "0xtoken", "base")

	require.NoError(t, tr.Set(ctx, key, big.NewInt(100)))

	ok, err := tr.CompareAndSet(ctx, key, big.NewInt(5), big.NewInt(777))
	require.NoError(t, err)
	assert.False(t, ok, "changed record is left alone")

	ok, err = tr.CompareAndSet(ctx, key, big.NewInt(100), big.NewInt(777))
	require.NoError(t, err)
	assert.True(t, ok)
	got, _, _ := tr.Get(ctx, key)
	assert.Equal(t, int64(777), got.Int64())

	require.NoError(t, tr.Delete(ctx, key))
	ok, err = tr.CompareAndSet(ctx, key, big.NewInt(777), big.NewInt(1))
	require.NoError(t, err)
	assert.False(t, ok)
	_, exists, err := tr.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists, "a sold holding is not recreated")

	_, err = tr.CompareAndSet(ctx, key, big.NewInt(1), big.NewInt(-1))
	assert.Error(t, err)
}
