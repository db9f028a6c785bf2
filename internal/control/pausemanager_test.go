package control

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/repogov-platform/internal/infra"
)

func newTestManager(t *testing.T) (*PauseManager, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewPauseManager(rdb, zap.NewNop()), rdb
}

func TestInitWarmsUpFromRedisSets(t *testing.T) {
	pm, rdb := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, rdb.SAdd(ctx, infra.RedisKeyPausedOps, "sync").Err())
	require.NoError(t, rdb.SAdd(ctx, infra.RedisKeyAbortedOps, "export").Err())

	require.NoError(t, pm.Init(ctx))

	assert.True(t, pm.IsPaused("sync"))
	assert.False(t, pm.IsPaused("export"))
	assert.True(t, pm.IsAborted("export"))
	assert.False(t, pm.IsAborted("sync"))
}

func TestPauseSignalTogglesState(t *testing.T) {
	pm, rdb := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pm.StartPauseListener(ctx)

	// Публикуем до срабатывания: подписка поднимается асинхронно
	require.Eventually(t, func() bool {
		rdb.Publish(ctx, infra.RedisChanPause, "sync:on")
		return pm.IsPaused("sync")
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		rdb.Publish(ctx, infra.RedisChanPause, "sync:off")
		return !pm.IsPaused("sync")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestAbortSignalIsIndependentFromPause(t *testing.T) {
	pm, rdb := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pm.StartAbortListener(ctx)

	require.Eventually(t, func() bool {
		rdb.Publish(ctx, infra.RedisChanAbort, "sync:true")
		return pm.IsAborted("sync")
	}, 3*time.Second, 20*time.Millisecond)

	assert.False(t, pm.IsPaused("sync"))
}

func TestMalformedSignalIsIgnored(t *testing.T) {
	pm, rdb := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pm.StartPauseListener(ctx)

	require.Eventually(t, func() bool {
		rdb.Publish(ctx, infra.RedisChanPause, "not-a-signal")
		rdb.Publish(ctx, infra.RedisChanPause, "sync:on")
		return pm.IsPaused("sync")
	}, 3*time.Second, 20*time.Millisecond)

	// Мусорный payload не зацепил состояние других операций
	assert.False(t, pm.IsPaused("not-a-signal"))
}
