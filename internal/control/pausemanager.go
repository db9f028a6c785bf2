package control

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/repogov-platform/internal/infra"
)

// PauseManager — remote-переключатель для bulk-операций: оператор через
// Redis Pub/Sub ставит длинный синк на паузу или аварийно его снимает.
// Hot Path (проверка между репозиториями) ходит только в память;
// Redis нужен лишь для warm-up и подписки.
type PauseManager struct {
	mu      sync.RWMutex
	paused  map[string]struct{}
	aborted map[string]struct{}

	rdb    *redis.Client
	logger *zap.Logger
}

func NewPauseManager(rdb *redis.Client, logger *zap.Logger) *PauseManager {
	return &PauseManager{
		paused:  make(map[string]struct{}),
		aborted: make(map[string]struct{}),
		rdb:     rdb,
		logger:  logger.With(zap.String("mod", "control")),
	}
}

// Init загружает текущее состояние переключателей при старте.
func (m *PauseManager) Init(ctx context.Context) error {
	if err := warmupSet(ctx, m.rdb, m.logger, infra.RedisKeyPausedOps, func(items []string) {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, op := range items {
			m.paused[op] = struct{}{}
		}
	}); err != nil {
		return err
	}
	return warmupSet(ctx, m.rdb, m.logger, infra.RedisKeyAbortedOps, func(items []string) {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, op := range items {
			m.aborted[op] = struct{}{}
		}
	})
}

// StartPauseListener подписывается на сигналы паузы.
// Блокируется до отмены ctx; запускать в отдельной горутине.
func (m *PauseManager) StartPauseListener(ctx context.Context) {
	listenResilient(ctx, m.rdb, m.logger, infra.RedisChanPause,
		func() error { return m.Init(ctx) },
		func(op string, status bool) { m.apply(m.paused, op, status) },
	)
}

func (m *PauseManager) StartAbortListener(ctx context.Context) {
	listenResilient(ctx, m.rdb, m.logger, infra.RedisChanAbort,
		func() error { return m.Init(ctx) },
		func(op string, status bool) { m.apply(m.aborted, op, status) },
	)
}

// IsPaused — быстрая проверка для Hot Path синка.
func (m *PauseManager) IsPaused(op string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.paused[op]
	return ok
}

// IsAborted — оператор потребовал остановить операцию; syncer чекпоинтит
// прогресс и выходит, рестарт продолжит с него.
func (m *PauseManager) IsAborted(op string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.aborted[op]
	return ok
}

func (m *PauseManager) apply(set map[string]struct{}, op string, status bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status {
		set[op] = struct{}{}
	} else {
		delete(set, op)
	}
	m.logger.Info("control signal applied", zap.String("op", op), zap.Bool("on", status))
}
