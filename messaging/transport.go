package messaging

import (
	"context"

	"github.com/glimte/msgbridge/contracts"
)

// Channel is a duplex message transport. Delivery is best effort: messages
// may be lost or arrive in any order relative to each other.
type Channel interface {
	// Send hands msg to the remote end.
	Send(ctx context.Context, msg *contracts.Message) error

	// Subscribe registers handler to be called once per arriving message
	// with the raw received value.
	Subscribe(handler func(raw any)) (Subscription, error)
}

// Subscription detaches a handler registered with Channel.Subscribe.
type Subscription interface {
	Unsubscribe() error
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

// Unsubscribe implements Subscription
func (f SubscriptionFunc) Unsubscribe() error {
	return f()
}
