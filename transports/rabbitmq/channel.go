// Package rabbitmq carries bridge messages over a pair of RabbitMQ queues.
//
// Each peer publishes to its outbound queue through the default exchange and
// consumes its inbound queue. The other peer uses the same two queues the
// other way round.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/internal/rabbitmq"
	"github.com/glimte/msgbridge/messaging"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds configuration for the channel
type Config struct {
	OutboundQueue     string
	InboundQueue      string
	Durable           bool
	PrefetchCount     int
	ConnectionOptions []rabbitmq.ConnectionOption
	Logger            *slog.Logger
}

// Option configures the channel
type Option func(*Config)

// WithQueues sets the queue this peer publishes to and the one it consumes
func WithQueues(outbound, inbound string) Option {
	return func(cfg *Config) {
		cfg.OutboundQueue = outbound
		cfg.InboundQueue = inbound
	}
}

// WithDurableQueues declares both queues durable and publishes persistently
func WithDurableQueues(durable bool) Option {
	return func(cfg *Config) {
		cfg.Durable = durable
	}
}

// WithPrefetchCount sets the consumer prefetch count
func WithPrefetchCount(count int) Option {
	return func(cfg *Config) {
		cfg.PrefetchCount = count
	}
}

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) Option {
	return func(cfg *Config) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}

// Channel implements messaging.Channel over RabbitMQ
type Channel struct {
	manager *rabbitmq.ConnectionManager
	config  *Config
	logger  *slog.Logger

	pubMu   sync.Mutex
	pubChan *amqp.Channel

	mu          sync.RWMutex
	subscribers map[uint64]func(raw any)
	nextID      uint64
	consumer    *amqp.Channel
	consumerTag string
	closed      bool
}

var _ messaging.Channel = (*Channel)(nil)

// New connects to url and declares the channel's queues
func New(ctx context.Context, url string, options ...Option) (*Channel, error) {
	cfg := &Config{
		PrefetchCount: 10,
		Logger:        slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(cfg.Logger)}, cfg.ConnectionOptions...)
	manager := rabbitmq.NewConnectionManager(url, connOpts...)

	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Channel{
		manager:     manager,
		config:      cfg,
		logger:      cfg.Logger,
		subscribers: make(map[uint64]func(raw any)),
	}

	if err := c.declareQueues(); err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to declare queues: %w", err)
	}

	manager.AddStateListener(c)

	return c, nil
}

func (cfg *Config) validate() error {
	if cfg.OutboundQueue == "" || cfg.InboundQueue == "" {
		return fmt.Errorf("%w: outbound and inbound queues are required", rabbitmq.ErrInvalidConfiguration)
	}
	if cfg.OutboundQueue == cfg.InboundQueue {
		return fmt.Errorf("%w: outbound and inbound queues must differ", rabbitmq.ErrInvalidConfiguration)
	}
	return nil
}

func (cfg *Config) queues() []rabbitmq.QueueDeclaration {
	return []rabbitmq.QueueDeclaration{
		{Name: cfg.OutboundQueue, Durable: cfg.Durable, AutoDelete: !cfg.Durable},
		{Name: cfg.InboundQueue, Durable: cfg.Durable, AutoDelete: !cfg.Durable},
	}
}

func (c *Channel) declareQueues() error {
	ch, err := c.manager.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return rabbitmq.DeclareQueues(ch, c.config.queues()...)
}

// Send publishes msg to the outbound queue
func (c *Channel) Send(ctx context.Context, msg *contracts.Message) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return rabbitmq.ErrChannelClosed
	}

	publishing, err := newPublishing(msg, c.config.Durable)
	if err != nil {
		return err
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if c.pubChan == nil || c.pubChan.IsClosed() {
		ch, err := c.manager.Channel()
		if err != nil {
			return &rabbitmq.OpError{Op: "publish " + msg.Name + " to", Target: c.config.OutboundQueue, Err: err}
		}
		c.pubChan = ch
	}

	if err := c.pubChan.PublishWithContext(ctx, "", c.config.OutboundQueue, false, false, publishing); err != nil {
		c.pubChan.Close()
		c.pubChan = nil
		return &rabbitmq.OpError{Op: "publish " + msg.Name + " to", Target: c.config.OutboundQueue, Err: err}
	}

	return nil
}

// newPublishing builds the AMQP message for msg
func newPublishing(msg *contracts.Message, persistent bool) (amqp.Publishing, error) {
	body, err := contracts.Encode(msg)
	if err != nil {
		return amqp.Publishing{}, err
	}

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		MessageId:     msg.ID,
		CorrelationId: msg.ResponseID,
		Type:          msg.Name,
		Timestamp:     time.Now(),
		DeliveryMode:  amqp.Transient,
	}
	if persistent {
		publishing.DeliveryMode = amqp.Persistent
	}
	return publishing, nil
}

// Subscribe registers handler for messages on the inbound queue. The
// consumer starts with the first subscription.
func (c *Channel) Subscribe(handler func(raw any)) (messaging.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, rabbitmq.ErrChannelClosed
	}

	if c.consumer == nil {
		if err := c.startConsumerLocked(); err != nil {
			return nil, err
		}
	}

	id := c.nextID
	c.nextID++
	c.subscribers[id] = handler

	return messaging.SubscriptionFunc(func() error {
		c.mu.Lock()
		delete(c.subscribers, id)
		var consumer *amqp.Channel
		if len(c.subscribers) == 0 {
			consumer = c.detachConsumerLocked()
		}
		c.mu.Unlock()

		return closeConsumer(consumer)
	}), nil
}

func (c *Channel) startConsumerLocked() error {
	queue := c.config.InboundQueue
	tag := "msgbridge-" + uuid.NewString()

	ch, err := c.manager.Channel()
	if err != nil {
		return &rabbitmq.OpError{Op: "open consumer channel " + tag + " on", Target: queue, Err: err}
	}

	if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		tag,
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return &rabbitmq.OpError{Op: "consume " + tag + " from", Target: queue, Err: err}
	}

	c.consumer = ch
	c.consumerTag = tag

	go c.consume(deliveries)

	c.logger.Info("consuming inbound queue", "queue", queue, "consumerTag", tag)
	return nil
}

// detachConsumerLocked hands back the consumer channel for closing once
// c.mu is released. Closing it ends the delivery goroutine.
func (c *Channel) detachConsumerLocked() *amqp.Channel {
	ch := c.consumer
	c.consumer = nil
	return ch
}

func closeConsumer(ch *amqp.Channel) error {
	if ch == nil || ch.IsClosed() {
		return nil
	}
	if err := ch.Close(); err != nil {
		return fmt.Errorf("failed to close consumer channel: %w", err)
	}
	return nil
}

func (c *Channel) consume(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		c.dispatch(d.Body)
	}
	c.logger.Debug("delivery stream ended", "queue", c.config.InboundQueue)
}

func (c *Channel) dispatch(body []byte) {
	c.mu.RLock()
	handlers := make([]func(raw any), 0, len(c.subscribers))
	for _, h := range c.subscribers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("subscriber panicked", "panic", r)
				}
			}()
			handler(body)
		}()
	}
}

// OnConnected redeclares the queues and resumes consuming after a reconnect
func (c *Channel) OnConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if err := c.declareQueues(); err != nil {
		c.logger.Error("failed to redeclare queues", "error", err)
		return
	}

	c.consumer = nil
	if len(c.subscribers) == 0 {
		return
	}
	if err := c.startConsumerLocked(); err != nil {
		c.logger.Error("failed to resume consuming", "error", err)
	}
}

// OnDisconnected implements rabbitmq.ConnectionStateListener
func (c *Channel) OnDisconnected(err error) {
	c.logger.Warn("connection lost", "error", err)
}

// OnReconnecting implements rabbitmq.ConnectionStateListener
func (c *Channel) OnReconnecting(attempt int) {
	c.logger.Debug("reconnecting", "attempt", attempt)
}

// IsConnected returns the connection status
func (c *Channel) IsConnected() bool {
	return c.manager.IsConnected()
}

// Close stops consuming and closes the connection
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subscribers = make(map[uint64]func(raw any))
	consumer := c.detachConsumerLocked()
	c.mu.Unlock()

	if err := closeConsumer(consumer); err != nil {
		c.logger.Debug("failed to stop consumer", "error", err)
	}

	c.manager.RemoveStateListener(c)

	c.pubMu.Lock()
	if c.pubChan != nil {
		c.pubChan.Close()
		c.pubChan = nil
	}
	c.pubMu.Unlock()

	return c.manager.Close()
}
