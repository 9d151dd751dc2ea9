package gatekeeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/store"
)

func newGatekeeper(t *testing.T) (*Gatekeeper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(store.NewRedisFromClient(rdb, nil), 0, zap.NewNop()), mr
}

type failingKV struct{}

func (failingKV) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "dedup:base_mainnet:whevt_1", EventKey("BASE_MAINNET", "whevt_1"))
	assert.Equal(t, "dedup:base_mainnet:tx:0xabc", TxKey("BASE_MAINNET", "0xABC"))
	assert.Equal(t, "alert:insufficient:0xabc:sub-1", AlertKey("0xABC", "sub-1"))
}

func TestSeenEvent_SecondDeliveryIsDuplicate(t *testing.T) {
	g, mr := newGatekeeper(t)
	ctx := context.Background()

	assert.False(t, g.SeenEvent(ctx, "BASE_MAINNET", "evt-1"))
	assert.True(t, g.SeenEvent(ctx, "BASE_MAINNET", "evt-1"))
	assert.False(t, g.SeenEvent(ctx, "ETH_MAINNET", "evt-1"), "markers are per network")

	assert.Equal(t, DefaultTTL, mr.TTL(EventKey("BASE_MAINNET", "evt-1")))
}

func TestSeenTx(t *testing.T) {
	g, _ := newGatekeeper(t)
	ctx := context.Background()

	assert.False(t, g.SeenTx(ctx, "base", "0xhash"))
	assert.True(t, g.SeenTx(ctx, "base", "0xHASH"))
	assert.False(t, g.SeenTx(ctx, "base", ""), "empty hash is never a duplicate")
	assert.False(t, g.SeenTx(ctx, "base", ""))
}

func TestClaim_OncePerWindow(t *testing.T) {
	g, mr := newGatekeeper(t)
	ctx := context.Background()
	key := AlertKey("0xhash", "sub-1")

	assert.True(t, g.Claim(ctx, "alert", key, time.Hour))
	assert.False(t, g.Claim(ctx, "alert", key, time.Hour))

	mr.FastForward(time.Hour + time.Second)
	assert.True(t, g.Claim(ctx, "alert", key, time.Hour))
}

func TestConcurrentDeliveries_ExactlyOneWins(t *testing.T) {
	g, _ := newGatekeeper(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !g.SeenEvent(ctx, "base", "evt-race") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestFailOpenOnStoreError(t *testing.T) {
	g := New(failingKV{}, time.Minute, nil)
	ctx := context.Background()

	assert.False(t, g.SeenEvent(ctx, "base", "evt-1"))
	assert.False(t, g.SeenTx(ctx, "base", "0xhash"))
	assert.True(t, g.Claim(ctx, "alert", "k", time.Hour))

	_, err := g.IsDuplicate(ctx, "k", time.Minute)
	require.Error(t, err)
}
