package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"
)

// RetryConfig — бюджет и форма бэкоффа.
type RetryConfig struct {
	MaxRetries  int           // повторов СВЕРХ первой попытки
	BackoffBase time.Duration // base * 2^attempt
	MaxJitter   time.Duration
}

// Retrier — экспоненциальный бэкофф с джиттером поверх avast/retry-go.
// Неретраебельные ошибки (circuit open, 4xx, валидация) пробрасываются
// сразу, не тратя бюджет. ThrottleError уважает Retry-After апстрима
// вместо экспоненты.
type Retrier struct {
	cfg    RetryConfig
	logger *zap.Logger
}

func NewRetrier(cfg RetryConfig, logger *zap.Logger) *Retrier {
	return &Retrier{cfg: cfg, logger: logger.Named("retry")}
}

// Do гоняет fn до первого успеха либо исчерпания бюджета.
// Возвращает последнюю ошибку как есть (LastErrorOnly) — вызывающему
// нужен тип для errors.As, а не агрегат всех попыток.
func (rt *Retrier) Do(ctx context.Context, fn func() error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(rt.cfg.MaxRetries)+1),
		retry.Delay(rt.cfg.BackoffBase),
		retry.MaxJitter(rt.cfg.MaxJitter),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		// Умный расчет задержки
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// Если апстрим сообщил Retry-After — верим ему, а не экспоненте
			var tErr *ThrottleError
			if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
				return tErr.RetryAfter
			}

			// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
			return retry.BackOffDelay(n, err, config)
		}),
		retry.OnRetry(func(n uint, err error) {
			rt.logger.Debug("retrying after failure",
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)

	return r.Do(fn)
}
