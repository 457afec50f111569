// Package reliability provides the retry policies and circuit breaker used
// around the event broker and the envelope store.
//
// Example usage:
//
//	cb := NewCircuitBreaker(
//	    WithName("rabbitmq-events"),
//	    WithFailureThreshold(5),
//	    WithTimeout(30 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return Retry(ctx, NewExponentialBackoff(100*time.Millisecond, 2*time.Second, 2.0, 3), publish)
//	})
package reliability
