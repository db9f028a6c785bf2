package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig — пороги трехфазного предохранителя (closed/open/half-open).
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // подряд идущих ошибок до размыкания
	FailureWindow    time.Duration // окно сброса счетчиков в closed
	ResetTimeout     time.Duration // сколько держим open до пробных запросов
	SuccessThreshold uint32        // подряд идущих успехов в half-open до замыкания
}

// StateListener получает переходы состояний (для gauge-метрики и аудита).
type StateListener func(name string, from, to gobreaker.State)

// CircuitBreaker оборачивает sony/gobreaker, маппя его ошибки в нашу таксономию.
// Правила переходов gobreaker совпадают с контрактом:
//   - closed → open: ConsecutiveFailures >= FailureThreshold (внутри Interval)
//   - open → half-open: по истечении Timeout
//   - half-open → closed: MaxRequests подряд идущих успехов
//   - half-open → open: единственная неудача пробного запроса
type CircuitBreaker struct {
	cb       *gobreaker.CircuitBreaker
	openedAt time.Time
	logger   *zap.Logger
}

func NewCircuitBreaker(cfg BreakerConfig, logger *zap.Logger, onState StateListener) *CircuitBreaker {
	b := &CircuitBreaker{
		logger: logger.Named("breaker"),
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		Interval:    cfg.FailureWindow,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.openedAt = time.Now()
			}
			b.logger.Warn("circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if onState != nil {
				onState(name, from, to)
			}
		},
	})

	return b
}

// Do выполняет fn под защитой предохранителя.
// В open возвращает *CircuitOpenError, не трогая fn.
func (b *CircuitBreaker) Do(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// ErrTooManyRequests — half-open уже впустил свою квоту проб
		return nil, &CircuitOpenError{Since: b.openedAt}
	}
	return res, err
}

// State — текущее состояние (для метрик/тестов).
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}
