package reliability

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy bounds and paces the resending of a failed message
type RetryPolicy interface {
	MaxRetries() int
	// NextDelay is the pause after failed attempt number attempt, counting from zero
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff multiplies the delay after every attempt, up to MaxInterval
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	// Jitter spreads each delay by ±15%
	Jitter bool
}

// NewExponentialBackoff returns a jittered exponential policy
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxRetries,
		Jitter:          true,
	}
}

func (e *ExponentialBackoff) MaxRetries() int {
	return e.MaxAttempts
}

func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := math.Min(
		float64(e.InitialInterval)*math.Pow(e.Multiplier, float64(attempt)),
		float64(e.MaxInterval),
	)
	if e.Jitter {
		delay *= 0.85 + rand.Float64()*0.3
	}
	return time.Duration(delay)
}

// FixedDelay waits the same time between attempts
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// NewFixedDelay returns a constant-delay policy
func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{Delay: delay, MaxAttempts: maxRetries}
}

func (f *FixedDelay) MaxRetries() int {
	return f.MaxAttempts
}

func (f *FixedDelay) NextDelay(int) time.Duration {
	return f.Delay
}

// Retry runs fn until it succeeds, fails permanently, the policy runs out of
// attempts or ctx ends. It returns the last error. A nil policy runs fn once.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy == nil {
		return fn()
	}

	attempts := max(policy.MaxRetries()+1, 1)

	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return IsRetryableError(err)
		}),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return policy.NextDelay(int(n))
		}),
	)
}
