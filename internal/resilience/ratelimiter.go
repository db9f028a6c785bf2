package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter — token bucket поверх golang.org/x/time/rate.
// capacity = burst, refill — токенов в секунду. Один инстанс на один
// удаленный API: лимит общий для всех вызовов через его ApiClient.
//
// Инварианты обеспечивает сама библиотека: токены не уходят в минус
// и не накапливаются выше capacity. Наша обертка лишь фиксирует
// контракт acquire (blocking) / try-acquire (non-blocking).
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(capacity int, refillPerSec float64) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(refillPerSec), capacity),
	}
}

// Acquire блокируется, пока не накопится cost токенов (или не умрет контекст).
// Никогда не паникует: backpressure выражается только задержкой или ошибкой контекста.
func (rl *RateLimiter) Acquire(ctx context.Context, cost int) error {
	return rl.limiter.WaitN(ctx, cost)
}

// TryAcquire — неблокирующий вариант: false, если токенов сейчас недостаточно.
func (rl *RateLimiter) TryAcquire(cost int) bool {
	return rl.limiter.AllowN(time.Now(), cost)
}

// Tokens — текущее количество токенов (для метрик и тестов).
func (rl *RateLimiter) Tokens() float64 {
	return rl.limiter.Tokens()
}
