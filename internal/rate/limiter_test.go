package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenBlocked(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(Config{RequestsPerSecond: 2, Burst: 2})
	l.now = func() time.Time { return now }
	l.last = now

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "bucket should be empty after burst")

	now = now.Add(500 * time.Millisecond)
	assert.True(t, l.Allow(), "one token accrues after 500ms at 2 rps")
}

func TestLimiter_ZeroRateUnlimited(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow())
	}
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_PerKeyLimiters(t *testing.T) {
	m := NewManager(Config{RequestsPerSecond: 10, Burst: 1})
	m.Configure("swap", Config{RequestsPerSecond: 1, Burst: 3})

	assert.Same(t, m.GetLimiter("notify"), m.GetLimiter("notify"))
	assert.NotSame(t, m.GetLimiter("notify"), m.GetLimiter("swap"))

	swap := m.GetLimiter("swap")
	assert.True(t, swap.Allow())
	assert.True(t, swap.Allow())
	assert.True(t, swap.Allow())

	require.NoError(t, m.Wait(context.Background(), "balance"))
}
