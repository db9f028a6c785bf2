package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Таксономия ошибок ядра. Компоненты сигнализируют друг другу типами,
// а не текстом — RetryHelper и вызывающие скрипты делают errors.As-диспетчеризацию.

// TransientError — сетевой сбой или 5xx апстрима. Ретраится.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient upstream failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// ThrottleError — апстрим попросил притормозить (429 / secondary rate limit).
// RetryAfter вычитывается из заголовков и используется вместо экспоненты.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// CircuitOpenError — предохранитель выбит, запрос отклонен без вызова транспорта.
// RetryHelper его НЕ ретраит: бэкофф на этом уровне только растянул бы шторм.
type CircuitOpenError struct {
	Since time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open since %s", e.Since.Format(time.RFC3339))
}

// RequestError — клиентская ошибка апстрима (4xx кроме 429). Не ретраится.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("upstream rejected request: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ValidationError — некорректный ввод, обнаруженный до похода в сеть.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// IsRetryable — единая точка решения "тратить ли бюджет ретраев".
// Транзиент и троттлинг — да; circuit open, 4xx и валидация — нет.
func IsRetryable(err error) bool {
	var (
		transient *TransientError
		throttle  *ThrottleError
		open      *CircuitOpenError
		request   *RequestError
		invalid   *ValidationError
	)
	switch {
	case errors.As(err, &open), errors.As(err, &request), errors.As(err, &invalid):
		return false
	case errors.As(err, &transient), errors.As(err, &throttle):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}

	// Голые сетевые ошибки (до классификации транспортом) считаем транзиентными
	var netErr net.Error
	return errors.As(err, &netErr)
}
