// Package reliability protects the send path of a bridge.
//
// This package implements:
//   - Retry policies: exponential, linear and fixed delays, executed with
//     retry-go
//   - Circuit Breaker: stops handing messages to a channel that keeps failing
//
// Example usage:
//
//	cb := NewCircuitBreaker(
//	    WithFailureThreshold(5),
//	    WithTimeout(30 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return Retry(ctx, NewExponentialBackoff(100*time.Millisecond, 2*time.Second, 2.0, 3), send)
//	})
package reliability
