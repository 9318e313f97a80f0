package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), RetryConfig{MaxRetries: 3}, func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops after max retries", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), RetryConfig{MaxRetries: 2}, func(context.Context) error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry non-retryable errors", func(t *testing.T) {
		t.Parallel()
		calls := 0
		permanent := errors.New("bad request")
		err := Retry(context.Background(), RetryConfig{
			MaxRetries: 5,
			Retryable:  func(err error) bool { return errors.Is(err, errTransient) },
		}, func(context.Context) error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("does not retry an open circuit", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), RetryConfig{MaxRetries: 5}, func(context.Context) error {
			calls++
			return ErrCircuitOpen
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 1, calls)
	})
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	t.Run("opens after consecutive failures", func(t *testing.T) {
		t.Parallel()
		cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2, ResetInterval: time.Hour})
		fail := func(context.Context) error { return errTransient }

		assert.ErrorIs(t, cb.Execute(context.Background(), fail), errTransient)
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), errTransient)
		assert.Equal(t, StateOpen, cb.State())

		called := false
		err := cb.Execute(context.Background(), func(context.Context) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.False(t, called)
	})

	t.Run("cancellation does not count as failure", func(t *testing.T) {
		t.Parallel()
		cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "cancel", MaxFailures: 1})

		err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("applies timeout when context has no deadline", func(t *testing.T) {
		t.Parallel()
		cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "timeout", Timeout: 10 * time.Millisecond})

		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("state strings", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "CLOSED", StateClosed.String())
		assert.Equal(t, "HALF-OPEN", StateHalfOpen.String())
		assert.Equal(t, "OPEN", StateOpen.String())
	})
}
