package bridge

import (
	"context"
	"fmt"

	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/messaging"
)

// CallTyped calls name and decodes the response payload into T.
func CallTyped[T any](ctx context.Context, b *Bridge, name string, payload any) (T, error) {
	var zero T

	result, err := b.Call(ctx, name, payload)
	if err != nil {
		return zero, err
	}

	typed, err := contracts.DecodePayload[T](result)
	if err != nil {
		return zero, fmt.Errorf("failed to decode response of %q: %w", name, err)
	}
	return typed, nil
}

// HandleTyped adapts fn to a Handler that decodes the request payload into In.
func HandleTyped[In, Out any](fn func(ctx context.Context, in In) (Out, error)) messaging.Handler {
	return messaging.HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		in, err := contracts.DecodePayload[In](payload)
		if err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		return fn(ctx, in)
	})
}
