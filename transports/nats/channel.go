// Package nats carries bridge messages over core NATS subjects.
//
// Each peer publishes on its outbound subject and subscribes to its inbound
// subject. The other peer uses the same two subjects the other way round.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/messaging"
	"github.com/nats-io/nats.go"
)

const (
	headerMessageID = "Msgbridge-Msg-Id"
	headerName      = "Msgbridge-Name"
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("nats channel closed")

var _ messaging.Channel = (*Channel)(nil)

// Config holds configuration for the channel
type Config struct {
	OutboundSubject string
	InboundSubject  string
	QueueGroup      string
	Logger          *slog.Logger
}

// Option configures the channel
type Option func(*Config)

// WithSubjects sets the subject this peer publishes on and the one it listens to
func WithSubjects(outbound, inbound string) Option {
	return func(c *Config) {
		c.OutboundSubject = outbound
		c.InboundSubject = inbound
	}
}

// WithQueueGroup load-balances inbound messages across peers sharing group
func WithQueueGroup(group string) Option {
	return func(c *Config) {
		c.QueueGroup = group
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Channel implements messaging.Channel over a NATS connection
type Channel struct {
	nc      *nats.Conn
	ownConn bool
	config  *Config
	logger  *slog.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// New creates a channel on an existing connection. The caller keeps
// ownership of nc.
func New(nc *nats.Conn, opts ...Option) (*Channel, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}

	config, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &Channel{
		nc:     nc,
		config: config,
		logger: config.Logger,
	}, nil
}

// Dial connects to url and creates a channel that owns the connection
func Dial(url string, opts ...Option) (*Channel, error) {
	config, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}
	logger := config.Logger

	nc, err := nats.Connect(url,
		nats.Name("msgbridge"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &Channel{
		nc:      nc,
		ownConn: true,
		config:  config,
		logger:  logger,
	}, nil
}

func newConfig(opts ...Option) (*Config, error) {
	config := &Config{
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(config)
	}

	if config.OutboundSubject == "" || config.InboundSubject == "" {
		return nil, errors.New("outbound and inbound subjects are required")
	}
	if config.OutboundSubject == config.InboundSubject {
		return nil, errors.New("outbound and inbound subjects must differ")
	}
	return config, nil
}

// Send publishes msg on the outbound subject
func (c *Channel) Send(ctx context.Context, msg *contracts.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	out, err := newMsg(c.config.OutboundSubject, msg)
	if err != nil {
		return err
	}

	if err := c.nc.PublishMsg(out); err != nil {
		return fmt.Errorf("failed to publish %q on %s: %w", msg.Name, c.config.OutboundSubject, err)
	}
	return nil
}

func newMsg(subject string, msg *contracts.Message) (*nats.Msg, error) {
	data, err := contracts.Encode(msg)
	if err != nil {
		return nil, err
	}

	out := nats.NewMsg(subject)
	out.Data = data
	out.Header.Set(headerName, msg.Name)
	if msg.ID != "" {
		out.Header.Set(headerMessageID, msg.ID)
	}
	return out, nil
}

// Subscribe registers handler for messages on the inbound subject. Each
// subscription is its own NATS subscription.
func (c *Channel) Subscribe(handler func(raw any)) (messaging.Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	cb := func(m *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("subscriber panicked", "subject", m.Subject, "panic", r)
			}
		}()
		handler(m.Data)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if c.config.QueueGroup != "" {
		sub, err = c.nc.QueueSubscribe(c.config.InboundSubject, c.config.QueueGroup, cb)
	} else {
		sub, err = c.nc.Subscribe(c.config.InboundSubject, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.config.InboundSubject, err)
	}

	c.subs = append(c.subs, sub)
	return sub, nil
}

// Flush waits until the server has processed everything published so far
func (c *Channel) Flush(ctx context.Context) error {
	return c.nc.FlushWithContext(ctx)
}

// IsConnected reports whether the underlying connection is up
func (c *Channel) IsConnected() bool {
	return c.nc.IsConnected()
}

// Close unsubscribes and, for a dialed channel, drains the connection
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, err)
		}
	}

	if c.ownConn {
		if err := c.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
