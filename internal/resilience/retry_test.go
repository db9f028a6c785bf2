package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRetrier(maxRetries int) *Retrier {
	return NewRetrier(RetryConfig{
		MaxRetries:  maxRetries,
		BackoffBase: time.Millisecond,
		MaxJitter:   time.Millisecond,
	}, zap.NewNop())
}

func TestRetrierSucceedsAfterTransientFailures(t *testing.T) {
	rt := testRetrier(3)

	attempts := 0
	err := rt.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return &TransientError{Cause: assert.AnError}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrierExhaustsBudget(t *testing.T) {
	rt := testRetrier(2)

	attempts := 0
	err := rt.Do(context.Background(), func() error {
		attempts++
		return &TransientError{Cause: assert.AnError}
	})

	var tErr *TransientError
	require.ErrorAs(t, err, &tErr, "last error must keep its type")
	assert.Equal(t, 3, attempts) // первая попытка + 2 повтора
}

func TestRetrierDoesNotRetryClientErrors(t *testing.T) {
	rt := testRetrier(5)

	attempts := 0
	err := rt.Do(context.Background(), func() error {
		attempts++
		return &RequestError{StatusCode: 404}
	})

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 1, attempts, "non-retryable error must not consume the budget")
}

func TestRetrierDoesNotRetryCircuitOpen(t *testing.T) {
	rt := testRetrier(5)

	attempts := 0
	err := rt.Do(context.Background(), func() error {
		attempts++
		return &CircuitOpenError{Since: time.Now()}
	})

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 1, attempts)
}

func TestRetrierHonorsRetryAfter(t *testing.T) {
	rt := testRetrier(1)

	start := time.Now()
	attempts := 0
	_ = rt.Do(context.Background(), func() error {
		attempts++
		return &ThrottleError{RetryAfter: 120 * time.Millisecond, Cause: assert.AnError}
	})

	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond,
		"delay must follow upstream Retry-After, not the exponential base")
}

func TestIsRetryableTaxonomy(t *testing.T) {
	assert.True(t, IsRetryable(&TransientError{Cause: assert.AnError}))
	assert.True(t, IsRetryable(&ThrottleError{RetryAfter: time.Second}))
	assert.False(t, IsRetryable(&CircuitOpenError{}))
	assert.False(t, IsRetryable(&RequestError{StatusCode: 422}))
	assert.False(t, IsRetryable(&ValidationError{Field: "org", Reason: "empty"}))
	assert.False(t, IsRetryable(context.Canceled))
}
