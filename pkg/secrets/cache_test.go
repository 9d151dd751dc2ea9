package secrets

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutAndGet(t *testing.T) {
	cache := NewCache[map[string]string](time.Minute)
	key := "dev/copytrader/swap"

	_, ok := cache.Get(key)
	require.False(t, ok, "expected miss on empty cache")

	cache.Put(key, map[string]string{"api_key": "abc123"})

	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, "abc123", got["api_key"])
}

func TestCache_Expiration(t *testing.T) {
	cache := NewCache[string](time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }
	cache.Put("k", "v")

	cache.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := cache.Get("k")
	assert.False(t, ok, "expected expired cache entry")

	cache.cleanupExpired()
	assert.Empty(t, cache.data)
}

func TestCache_Bust(t *testing.T) {
	cache := NewCache[string](time.Minute)
	cache.Put("k", "v")
	cache.Bust("k")
	_, ok := cache.Get("k")
	assert.False(t, ok)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache[int](time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cache.Put("shared", i)
			_, _ = cache.Get("shared")
		}(i)
	}
	wg.Wait()

	_, ok := cache.Get("shared")
	assert.True(t, ok)
}

func TestEnvProvider_GetSecret(t *testing.T) {
	t.Setenv("DEV_COPYTRADER_SWAP", `{"api_key":"k-1"}`)

	got, err := EnvProvider{}.GetSecret(context.Background(), "dev/copytrader/swap")
	require.NoError(t, err)
	assert.Equal(t, "k-1", got["api_key"])

	_, err = EnvProvider{}.GetSecret(context.Background(), "dev/copytrader/missing")
	assert.Error(t, err)
}

func TestEnvProvider_InvalidJSON(t *testing.T) {
	t.Setenv("DEV_COPYTRADER_NOTIFY", `not-json`)
	_, err := EnvProvider{}.GetSecret(context.Background(), "dev/copytrader/notify")
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "PROD_COPYTRADER_SWAP_SERVICE", EnvKey("prod/copytrader/swap-service"))
}
