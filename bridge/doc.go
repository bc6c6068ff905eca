// Package bridge provides request-response calls and notifications over an
// asynchronous message channel.
//
// Both peers run a Bridge on their end of the channel. A call is sent as a
// request carrying a fresh id; the peer runs the handler registered for the
// name and answers with a response that echoes the id. Calls that get no
// answer within the timeout fail with contracts.ErrTimeout.
//
// Basic usage:
//
//	b, err := bridge.New(channel, bridge.WithTimeout(5*time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Shutdown()
//
//	b.OnFunc("greet", func(ctx context.Context, payload any) (any, error) {
//	    return fmt.Sprintf("Hello, %v!", payload), nil
//	})
//
//	result, err := b.Call(ctx, "greet", "Vivian")
//
// The bridge automatically handles:
//   - Unique ids for each call
//   - Rejecting requests nobody handles with "Unregistered event"
//   - Timeouts and cleanup of pending calls
//   - Rejecting every pending call on shutdown
package bridge
