// Package memory provides an in-process channel pair. Whatever one end sends
// arrives at the subscribers of the other end.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/messaging"
)

// ErrClosed is returned by Send on a closed endpoint
var ErrClosed = errors.New("endpoint closed")

// Encoding selects the form in which messages travel through the pipe
type Encoding int

const (
	// Structured delivers a copy of the *contracts.Message.
	Structured Encoding = iota
	// JSON delivers the JSON encoding as a string, like a string-only postMessage.
	JSON
)

// Option configures a pipe
type Option func(*Config)

// Config holds configuration for a pipe
type Config struct {
	Encoding    Encoding
	Synchronous bool
	Logger      *slog.Logger
}

// WithEncoding sets the delivery encoding
func WithEncoding(encoding Encoding) Option {
	return func(c *Config) {
		c.Encoding = encoding
	}
}

// WithSynchronousDelivery delivers on the sender's goroutine, before Send returns
func WithSynchronousDelivery() Option {
	return func(c *Config) {
		c.Synchronous = true
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Endpoint is one end of a pipe. It implements messaging.Channel.
type Endpoint struct {
	name   string
	peer   *Endpoint
	config *Config

	mu          sync.RWMutex
	subscribers map[uint64]func(raw any)
	nextID      uint64
	closed      bool
	inflight    sync.WaitGroup
}

var _ messaging.Channel = (*Endpoint)(nil)

// NewPipe returns two connected endpoints
func NewPipe(opts ...Option) (*Endpoint, *Endpoint) {
	config := &Config{
		Encoding: Structured,
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(config)
	}

	left := newEndpoint("left", config)
	right := newEndpoint("right", config)
	left.peer = right
	right.peer = left

	return left, right
}

func newEndpoint(name string, config *Config) *Endpoint {
	return &Endpoint{
		name:        name,
		config:      config,
		subscribers: make(map[uint64]func(raw any)),
	}
}

// Send delivers msg to the peer's subscribers
func (e *Endpoint) Send(ctx context.Context, msg *contracts.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	raw, err := e.encode(msg)
	if err != nil {
		return err
	}

	e.peer.deliver(raw)
	return nil
}

// Inject delivers raw to this endpoint's subscribers as if the peer had sent it
func (e *Endpoint) Inject(raw any) {
	e.deliver(raw)
}

// Subscribe registers handler for messages arriving at this endpoint
func (e *Endpoint) Subscribe(handler func(raw any)) (messaging.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	id := e.nextID
	e.nextID++
	e.subscribers[id] = handler

	return messaging.SubscriptionFunc(func() error {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
		return nil
	}), nil
}

// SubscriberCount returns the number of active subscribers
func (e *Endpoint) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers)
}

// Flush waits for asynchronous deliveries to this endpoint to finish
func (e *Endpoint) Flush() {
	e.inflight.Wait()
}

// Close stops this endpoint from sending and receiving
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.subscribers = make(map[uint64]func(raw any))
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) encode(msg *contracts.Message) (any, error) {
	if e.config.Encoding == JSON {
		data, err := contracts.Encode(msg)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return msg.Clone(), nil
}

func (e *Endpoint) deliver(raw any) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	handlers := make([]func(raw any), 0, len(e.subscribers))
	for _, h := range e.subscribers {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()

	for _, handler := range handlers {
		if e.config.Synchronous {
			e.invoke(handler, raw)
			continue
		}
		e.inflight.Add(1)
		go func(h func(raw any)) {
			defer e.inflight.Done()
			e.invoke(h, raw)
		}(handler)
	}
}

func (e *Endpoint) invoke(handler func(raw any), raw any) {
	defer func() {
		if r := recover(); r != nil {
			e.config.Logger.Error("subscriber panicked", "endpoint", e.name, "panic", r)
		}
	}()
	handler(raw)
}
