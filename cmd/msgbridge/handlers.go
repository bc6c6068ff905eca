package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/msgbridge/bridge"
	"github.com/glimte/msgbridge/messaging"
	"github.com/glimte/msgbridge/schema"
)

// demoHandlers answers the requests of the bridge demo apps
type demoHandlers struct {
	delay  time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	lastSent any
}

type greeting struct {
	Name string `json:"name"`
}

func newDemoHandlers(delay time.Duration, logger *slog.Logger) *demoHandlers {
	return &demoHandlers{delay: delay, logger: logger}
}

// register adds every demo handler to b
func (h *demoHandlers) register(b *bridge.Bridge) error {
	handlers := map[string]messaging.Handler{
		"say":   messaging.HandlerFunc(h.say),
		"delay": messaging.HandlerFunc(h.delayed),
		"greet": messaging.HandlerFunc(h.greet),
		"send":  messaging.HandlerFunc(h.send),
		"echo":  messaging.HandlerFunc(h.echo),
	}

	for name, handler := range handlers {
		if _, err := b.On(name, handler); err != nil {
			return err
		}
	}
	return nil
}

// demoSchemas constrains the payloads of the demo requests that take one
func demoSchemas(v *schema.Validator) error {
	schemas := map[string]*schema.Schema{
		"greet": {
			Type:     "object",
			Nullable: true,
			Properties: map[string]*schema.PropertyDef{
				"name": {Type: "string", MinLength: schema.Int(1), MaxLength: schema.Int(64)},
			},
		},
		"send": {},
	}

	for name, s := range schemas {
		if err := v.Register(name, s); err != nil {
			return fmt.Errorf("failed to register schema for %q: %w", name, err)
		}
	}
	return nil
}

func (h *demoHandlers) say(ctx context.Context, payload any) (any, error) {
	h.logger.Info("Hello")
	return nil, nil
}

func (h *demoHandlers) delayed(ctx context.Context, payload any) (any, error) {
	return h.after("Hi im here"), nil
}

func (h *demoHandlers) greet(ctx context.Context, payload any) (any, error) {
	return h.after(greeting{Name: "Vivian"}), nil
}

func (h *demoHandlers) send(ctx context.Context, payload any) (any, error) {
	h.mu.Lock()
	h.lastSent = payload
	h.mu.Unlock()

	h.logger.Info("value from peer", "payload", payload)
	return nil, nil
}

func (h *demoHandlers) echo(ctx context.Context, payload any) (any, error) {
	return payload, nil
}

// last returns the payload of the latest send request
func (h *demoHandlers) last() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSent
}

// after returns a future fulfilled with value once the demo delay passed
func (h *demoHandlers) after(value any) *messaging.Future {
	future := messaging.NewFuture()
	time.AfterFunc(h.delay, func() {
		future.Resolve(value)
	})
	return future
}
