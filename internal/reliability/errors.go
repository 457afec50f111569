package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen is matched by a CircuitBreakerError while the breaker rejects calls
	ErrCircuitOpen = errors.New("circuit breaker: circuit is open")
	// ErrUnknownState is returned for a corrupted breaker state
	ErrUnknownState = errors.New("circuit breaker: unknown state")

	// ErrMaxRetriesExceeded is matched by a RetryError
	ErrMaxRetriesExceeded = errors.New("retry: maximum attempts exceeded")
	// ErrNonRetryable marks errors that must not be retried
	ErrNonRetryable = errors.New("retry: error is not retryable")
)

// CircuitBreakerError is returned when the breaker refuses a call
type CircuitBreakerError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	if e.State == StateHalfOpen {
		return fmt.Sprintf("circuit breaker %s half-open: trial limit reached", e.Name)
	}
	return fmt.Sprintf("circuit breaker %s open: failures=%d/%d, retry after %s",
		e.Name, e.Failures, e.FailureThreshold, e.NextRetry.Format(time.RFC3339))
}

func (e *CircuitBreakerError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// RetryError is returned when a retried operation never succeeded
type RetryError struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts over %v: %v",
		e.Attempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}

func (e *RetryError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}

// RetryableError overrides the default retry classification of Err
type RetryableError struct {
	Err       error
	Retryable bool
}

func (r RetryableError) Error() string {
	return r.Err.Error()
}

// IsRetryable reports the classification carried by the wrapper
func (r RetryableError) IsRetryable() bool {
	return r.Retryable
}

func (r RetryableError) Unwrap() error {
	return r.Err
}

// Permanent wraps err so that Retry gives up on it immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err, Retryable: false}
}

// IsRetryableError reports whether err is worth another attempt.
// Unknown errors are retryable; cancellation, open breakers and errors
// marked permanent are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	switch {
	case errors.Is(err, ErrNonRetryable),
		errors.Is(err, ErrMaxRetriesExceeded),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
