// Copyright 2024 The msgbridge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package msgbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/glimte/msgbridge/bridge"
	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/internal/rabbitmq"
	"github.com/glimte/msgbridge/messaging"
	natsTransport "github.com/glimte/msgbridge/transports/nats"
	rabbitmqTransport "github.com/glimte/msgbridge/transports/rabbitmq"
	"github.com/glimte/msgbridge/transports/stream"
)

// ErrIncompatiblePeer is returned by Handshake when the peer does not speak
// a supported protocol version.
var ErrIncompatiblePeer = errors.New("incompatible peer")

// ErrUnsupportedScheme is returned by NewClient for an unknown URL scheme.
var ErrUnsupportedScheme = errors.New("unsupported transport scheme")

// Client provides the main entry point for msgbridge: a bridge bound to a
// transport chosen by URL, answering the ready handshake.
type Client struct {
	bridge     *bridge.Bridge
	channel    messaging.Channel
	closer     io.Closer
	logger     *slog.Logger
	constraint string
	startedAt  time.Time
}

// NewClient connects to url and creates a client on it. Supported schemes are
// amqp and amqps (RabbitMQ queues), nats and stdio (newline delimited JSON on
// the process's standard streams).
func NewClient(rawURL string, options ...ClientOption) (*Client, error) {
	cfg := newClientConfig(options...)

	ch, closer, err := dial(rawURL, cfg)
	if err != nil {
		return nil, err
	}

	client, err := newClient(ch, closer, cfg)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}
	return client, nil
}

// NewClientWithChannel creates a client on an existing channel. The caller
// keeps ownership of ch.
func NewClientWithChannel(ch messaging.Channel, options ...ClientOption) (*Client, error) {
	return newClient(ch, nil, newClientConfig(options...))
}

func newClient(ch messaging.Channel, closer io.Closer, cfg *clientConfig) (*Client, error) {
	bridgeOpts := append([]bridge.Option{bridge.WithLogger(cfg.logger)}, cfg.bridgeOptions...)
	b, err := bridge.New(ch, bridgeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}

	c := &Client{
		bridge:     b,
		channel:    ch,
		closer:     closer,
		logger:     cfg.logger,
		constraint: cfg.protocolConstraint,
		startedAt:  time.Now(),
	}

	if _, err := b.OnFunc(contracts.ReadyName, c.ready); err != nil {
		b.Shutdown()
		return nil, fmt.Errorf("failed to register %s handler: %w", contracts.ReadyName, err)
	}

	return c, nil
}

func dial(rawURL string, cfg *clientConfig) (messaging.Channel, io.Closer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid transport url: %w", err)
	}

	switch u.Scheme {
	case "amqp", "amqps":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.connectTimeout)
		defer cancel()

		ch, err := rabbitmqTransport.New(ctx, rawURL,
			rabbitmqTransport.WithQueues(cfg.outbound, cfg.inbound),
			rabbitmqTransport.WithDurableQueues(cfg.durable),
			rabbitmqTransport.WithLogger(cfg.logger),
			rabbitmqTransport.WithConnectionOptions(rabbitmq.WithConnectTimeout(cfg.connectTimeout)),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create rabbitmq transport: %w", err)
		}
		return ch, ch, nil

	case "nats":
		ch, err := natsTransport.Dial(rawURL,
			natsTransport.WithSubjects(cfg.outbound, cfg.inbound),
			natsTransport.WithLogger(cfg.logger),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create nats transport: %w", err)
		}
		return ch, ch, nil

	case "stdio":
		ch := stream.New(cfg.stdin, cfg.stdout, stream.WithLogger(cfg.logger))
		return ch, ch, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// ready answers the peer's handshake
func (c *Client) ready(ctx context.Context, payload any) (any, error) {
	return contracts.NewPeerInfo(c.bridge.Dispatcher().Names(), c.startedAt), nil
}

// Bridge returns the underlying bridge
func (c *Client) Bridge() *bridge.Bridge {
	return c.bridge
}

// Channel returns the underlying transport
func (c *Client) Channel() messaging.Channel {
	return c.channel
}

// Call sends a call and waits for its result
func (c *Client) Call(ctx context.Context, name string, payload any) (any, error) {
	return c.bridge.Call(ctx, name, payload)
}

// Notify sends a call without waiting for its response
func (c *Client) Notify(ctx context.Context, name string, payload any) error {
	return c.bridge.Notify(ctx, name, payload)
}

// On registers a handler for calls named name
func (c *Client) On(name string, handler messaging.Handler) (*messaging.Registration, error) {
	return c.bridge.On(name, handler)
}

// Handshake asks the peer to describe itself and checks its protocol version
// against the client's constraint.
func (c *Client) Handshake(ctx context.Context) (contracts.PeerInfo, error) {
	info, err := bridge.CallTyped[contracts.PeerInfo](ctx, c.bridge, contracts.ReadyName, nil)
	if err != nil {
		return contracts.PeerInfo{}, fmt.Errorf("handshake failed: %w", err)
	}

	if !info.IsValid() {
		return info, fmt.Errorf("%w: protocol %q version %q", ErrIncompatiblePeer, info.Protocol, info.Version)
	}
	if !info.Supports(c.constraint) {
		return info, fmt.Errorf("%w: version %s does not satisfy %q", ErrIncompatiblePeer, info.Version, c.constraint)
	}

	c.logger.Debug("handshake completed", "peerVersion", info.Version, "peerHandlers", len(info.Handlers))
	return info, nil
}

// WaitForPeer repeats Handshake every interval until the peer answers or ctx
// is done. Incompatible peers end the wait immediately.
func (c *Client) WaitForPeer(ctx context.Context, interval time.Duration) (contracts.PeerInfo, error) {
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, interval)
		info, err := c.Handshake(attemptCtx)
		cancel()

		if err == nil {
			return info, nil
		}
		if ctx.Err() != nil {
			return contracts.PeerInfo{}, fmt.Errorf("peer not ready after %d attempts: %w", attempt, ctx.Err())
		}
		if !isTransientHandshakeError(err) {
			return info, err
		}

		c.logger.Debug("peer not ready", "attempt", attempt, "error", err)
	}
}

func isTransientHandshakeError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, contracts.ErrTimeout) ||
		errors.Is(err, contracts.ErrUnregisteredEvent)
}

// Close shuts the bridge down and closes the transport the client opened
func (c *Client) Close() error {
	err := c.bridge.Shutdown()
	if c.closer != nil {
		err = errors.Join(err, c.closer.Close())
	}
	return err
}

// clientConfig holds client configuration
type clientConfig struct {
	logger             *slog.Logger
	bridgeOptions      []bridge.Option
	protocolConstraint string
	outbound           string
	inbound            string
	durable            bool
	connectTimeout     time.Duration
	stdin              io.Reader
	stdout             io.Writer
}

func newClientConfig(options ...ClientOption) *clientConfig {
	cfg := &clientConfig{
		logger:         slog.Default(),
		outbound:       "msgbridge.outbound",
		inbound:        "msgbridge.inbound",
		connectTimeout: 10 * time.Second,
		// Hide Close so the client never closes the process's streams.
		stdin:  struct{ io.Reader }{os.Stdin},
		stdout: struct{ io.Writer }{os.Stdout},
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithBridgeOptions passes options to the bridge
func WithBridgeOptions(opts ...bridge.Option) ClientOption {
	return func(cfg *clientConfig) {
		cfg.bridgeOptions = append(cfg.bridgeOptions, opts...)
	}
}

// WithProtocolConstraint sets the semver constraint Handshake requires of the
// peer, e.g. "^1.0". Empty accepts any version.
func WithProtocolConstraint(constraint string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.protocolConstraint = constraint
	}
}

// WithQueues sets the outbound and inbound queue (amqp) or subject (nats).
// The peer uses the same names swapped.
func WithQueues(outbound, inbound string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.outbound = outbound
		cfg.inbound = inbound
	}
}

// WithDurableQueues declares amqp queues durable
func WithDurableQueues(durable bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.durable = durable
	}
}

// WithConnectTimeout bounds the initial broker connection
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectTimeout = timeout
	}
}

// WithStdio replaces the standard streams used by the stdio scheme
func WithStdio(r io.Reader, w io.Writer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.stdin = r
		cfg.stdout = w
	}
}
