package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("NextDelay grows and is capped", func(t *testing.T) {
		policy := NewExponentialBackoff(100*time.Millisecond, 300*time.Millisecond, 2.0, 5)
		policy.Jitter = false

		assert.Equal(t, 5, policy.MaxRetries())
		assert.Equal(t, 100*time.Millisecond, policy.NextDelay(0))
		assert.Equal(t, 200*time.Millisecond, policy.NextDelay(1))
		assert.Equal(t, 300*time.Millisecond, policy.NextDelay(4))
	})

	t.Run("NextDelay with jitter stays within 15 percent", func(t *testing.T) {
		policy := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 5)

		for i := 0; i < 50; i++ {
			delay := policy.NextDelay(0)
			assert.GreaterOrEqual(t, delay, 85*time.Millisecond)
			assert.LessOrEqual(t, delay, 115*time.Millisecond)
		}
	})
}

func TestFixedDelay(t *testing.T) {
	fixed := NewFixedDelay(5*time.Millisecond, 2)
	assert.Equal(t, 5*time.Millisecond, fixed.NextDelay(7))
	assert.Equal(t, 2, fixed.MaxRetries())
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds on first attempt", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 3), func() error {
			calls++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 3), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error after max retries", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 2), func() error {
			calls++
			return errors.New("still failing")
		})

		assert.EqualError(t, err, "still failing")
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 5), func() error {
			calls++
			return Permanent(errors.New("encode failed"))
		})

		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		calls := 0
		err := Retry(cancelled, NewFixedDelay(time.Millisecond, 5), func() error {
			calls++
			cancel()
			return context.Canceled
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("nil policy runs once", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, nil, func() error {
			calls++
			return errors.New("once")
		})

		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
