package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBurstThenBlock(t *testing.T) {
	// capacity=5, refill=1/s: пять acquire проходят мгновенно, шестой ждет ~1s
	rl := NewRateLimiter(5, 1.0)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Acquire(context.Background(), 1))
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond, "burst must not block")

	blockStart := time.Now()
	require.NoError(t, rl.Acquire(context.Background(), 1))
	assert.GreaterOrEqual(t, time.Since(blockStart), 900*time.Millisecond, "6th acquire must wait for refill")
}

func TestRateLimiterTokensNeverExceedCapacity(t *testing.T) {
	rl := NewRateLimiter(3, 1000.0)

	time.Sleep(50 * time.Millisecond) // рефилл с запасом

	assert.LessOrEqual(t, rl.Tokens(), 3.0)
	assert.True(t, rl.TryAcquire(3))
	assert.False(t, rl.TryAcquire(3), "bucket must be empty right after draining")
	assert.GreaterOrEqual(t, rl.Tokens(), 0.0)
}

func TestRateLimiterNonBlockingDeny(t *testing.T) {
	rl := NewRateLimiter(1, 0.001)

	assert.True(t, rl.TryAcquire(1))
	assert.False(t, rl.TryAcquire(1))
}

func TestRateLimiterAcquireHonorsContext(t *testing.T) {
	rl := NewRateLimiter(1, 0.001)
	require.NoError(t, rl.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rl.Acquire(ctx, 1)
	require.Error(t, err)
}
