// Package messaging provides the handler registry and the transport contract
// used by the bridge package.
//
// This package contains:
//   - Dispatcher: named handler registry with a wildcard bucket, once
//     registrations and middleware
//   - Future: a settle-once eventual result that handlers may also return
//   - Channel: the duplex transport a bridge sends to and receives from
//
// Invoking a name on a Dispatcher always yields a Future. A handler that
// returns a plain value is treated as already fulfilled, a handler that
// returns an Awaitable is adopted, and a handler that panics is rejected
// with a PanicError. Several handlers under one name run together and the
// Future fulfils with all their results, in registration order.
//
// Example usage:
//
//	dispatcher := messaging.NewDispatcher(
//		messaging.WithMiddleware(messaging.LoggingMiddleware(logger)),
//	)
//
//	reg, err := dispatcher.On("greet", messaging.HandlerFunc(
//		func(ctx context.Context, payload any) (any, error) {
//			return map[string]any{"name": "Vivian"}, nil
//		}))
//
//	result, err := dispatcher.Invoke(ctx, "greet", nil).Wait(ctx)
//	dispatcher.Off("greet", reg)
package messaging
