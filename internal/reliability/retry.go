package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait before the next one. attempt counts the failures so far, from zero.
type RetryPolicy interface {
	Next(attempt int, err error) (time.Duration, bool)
}

// ExponentialBackoff multiplies the delay after every attempt, capped at
// MaxInterval. A negative MaxAttempts retries forever.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool
}

// NewExponentialBackoff creates an exponential policy with ±15% jitter
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxRetries,
		Jitter:          true,
	}
}

func (e *ExponentialBackoff) Next(attempt int, err error) (time.Duration, bool) {
	if !allowed(attempt, e.MaxAttempts, err) {
		return 0, false
	}
	return e.NextDelay(attempt), true
}

// NextDelay is the wait after the given failed attempt
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := min(float64(e.InitialInterval)*math.Pow(e.Multiplier, float64(attempt)), float64(e.MaxInterval))
	return spread(delay, e.Jitter)
}

// LinearBackoff waits Interval times the attempt number. It suits short
// optimistic-lock conflicts where the competing writer is already done.
type LinearBackoff struct {
	Interval    time.Duration
	MaxAttempts int
	Jitter      bool
}

// NewLinearBackoff creates a linear policy with ±15% jitter
func NewLinearBackoff(interval time.Duration, maxRetries int) *LinearBackoff {
	return &LinearBackoff{
		Interval:    interval,
		MaxAttempts: maxRetries,
		Jitter:      true,
	}
}

func (l *LinearBackoff) Next(attempt int, err error) (time.Duration, bool) {
	if !allowed(attempt, l.MaxAttempts, err) {
		return 0, false
	}
	return spread(float64(l.Interval)*float64(attempt+1), l.Jitter), true
}

func allowed(attempt, maxAttempts int, err error) bool {
	return (maxAttempts < 0 || attempt < maxAttempts) && IsRetryableError(err)
}

// Retry runs fn until it succeeds, the policy gives up or ctx is done.
// A non-retryable error is returned as is; running out of attempts
// returns a *RetryError wrapping the last error.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	start := time.Now()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return err
		}

		delay, ok := policy.Next(attempt, err)
		if !ok {
			return &RetryError{
				Attempts:  attempt + 1,
				LastError: err,
				Duration:  time.Since(start),
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// spread applies ±15% jitter when enabled
func spread(delay float64, jitter bool) time.Duration {
	if jitter {
		delay *= 0.85 + rand.Float64()*0.3
	}
	return time.Duration(delay)
}
