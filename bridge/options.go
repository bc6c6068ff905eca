package bridge

import (
	"log/slog"
	"time"

	"github.com/glimte/msgbridge/internal/reliability"
	"github.com/glimte/msgbridge/messaging"
)

const (
	// DefaultTimeout is how long a call waits for its response.
	DefaultTimeout = 20 * time.Second

	// DefaultNamePrefix namespaces message names on the wire.
	DefaultNamePrefix = "iframe-message-bridge-"
)

// Option configures the bridge
type Option func(*Config)

// Config holds configuration for the bridge
type Config struct {
	Timeout         time.Duration
	NamePrefix      string
	MaxPendingCalls int
	Logger          *slog.Logger
	Dispatcher      *messaging.Dispatcher
	CircuitBreaker  *reliability.CircuitBreaker
	RetryPolicy     reliability.RetryPolicy
}

// WithTimeout sets how long every call of this bridge waits for a response
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithNamePrefix sets the prefix that marks this protocol's traffic
func WithNamePrefix(prefix string) Option {
	return func(c *Config) {
		c.NamePrefix = prefix
	}
}

// WithMaxPendingCalls limits the number of outstanding calls. Zero means no limit.
func WithMaxPendingCalls(max int) Option {
	return func(c *Config) {
		c.MaxPendingCalls = max
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithDispatcher sets the handler registry, e.g. one built with middleware
func WithDispatcher(dispatcher *messaging.Dispatcher) Option {
	return func(c *Config) {
		c.Dispatcher = dispatcher
	}
}

// WithCircuitBreaker guards sends with cb
func WithCircuitBreaker(cb *reliability.CircuitBreaker) Option {
	return func(c *Config) {
		c.CircuitBreaker = cb
	}
}

// WithRetryPolicy retries failed sends according to policy
func WithRetryPolicy(policy reliability.RetryPolicy) Option {
	return func(c *Config) {
		c.RetryPolicy = policy
	}
}
