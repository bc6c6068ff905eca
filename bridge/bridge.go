package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/internal/reliability"
	"github.com/glimte/msgbridge/messaging"
	"github.com/google/uuid"
)

// ErrTooManyPending is returned when the pending call limit is reached
var ErrTooManyPending = errors.New("too many pending calls")

// pendingCall is an outbound call waiting for its response or deadline
type pendingCall struct {
	id      string
	name    string
	future  *messaging.Future
	timer   *time.Timer
	started time.Time
}

// Bridge issues calls over a channel and answers the calls it receives.
type Bridge struct {
	channel      messaging.Channel
	subscription messaging.Subscription
	dispatcher   *messaging.Dispatcher
	logger       *slog.Logger

	timeout    time.Duration
	prefix     string
	maxPending int

	circuitBreaker *reliability.CircuitBreaker
	retryPolicy    reliability.RetryPolicy

	mu      sync.Mutex
	pending map[string]*pendingCall

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	stats stats
}

// New creates a bridge and subscribes it to ch
func New(ch messaging.Channel, opts ...Option) (*Bridge, error) {
	if ch == nil {
		return nil, fmt.Errorf("channel cannot be nil")
	}

	config := &Config{
		Timeout:    DefaultTimeout,
		NamePrefix: DefaultNamePrefix,
		Logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", config.Timeout)
	}
	if config.Dispatcher == nil {
		config.Dispatcher = messaging.NewDispatcher(messaging.WithDispatcherLogger(config.Logger))
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		channel:        ch,
		dispatcher:     config.Dispatcher,
		logger:         config.Logger,
		timeout:        config.Timeout,
		prefix:         config.NamePrefix,
		maxPending:     config.MaxPendingCalls,
		circuitBreaker: config.CircuitBreaker,
		retryPolicy:    config.RetryPolicy,
		pending:        make(map[string]*pendingCall),
		ctx:            ctx,
		cancel:         cancel,
	}

	sub, err := ch.Subscribe(b.receive)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	b.subscription = sub

	return b, nil
}

// Post sends a call and returns a future of its result. The future settles
// exactly once: with the response payload, a *contracts.RemoteError carrying
// the response's error value, contracts.ErrTimeout, a send failure, or
// contracts.ErrShutdown.
func (b *Bridge) Post(ctx context.Context, name string, payload any) *messaging.Future {
	if name == "" {
		return messaging.Rejected(contracts.ErrEmptyName)
	}
	if b.closed.Load() {
		return messaging.Rejected(contracts.ErrShutdown)
	}

	id := uuid.NewString()
	call := &pendingCall{
		id:      id,
		name:    name,
		future:  messaging.NewFuture(),
		started: time.Now(),
	}

	// The entry exists before the request leaves, so a channel that answers
	// synchronously still finds it.
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return messaging.Rejected(contracts.ErrShutdown)
	}
	if b.maxPending > 0 && len(b.pending) >= b.maxPending {
		b.mu.Unlock()
		return messaging.Rejected(fmt.Errorf("%w (limit %d)", ErrTooManyPending, b.maxPending))
	}
	b.pending[id] = call
	call.timer = time.AfterFunc(b.timeout, func() {
		if b.settle(id, nil, contracts.ErrTimeout) {
			b.stats.timeouts.Add(1)
			b.logger.Warn("call timed out", "name", name, "id", id, "timeout", b.timeout)
		}
	})
	b.mu.Unlock()

	b.stats.calls.Add(1)

	msg := contracts.NewRequest(b.prefix+name, id, payload)
	if err := b.send(ctx, msg); err != nil {
		b.settle(id, nil, fmt.Errorf("failed to send call %q: %w", name, err))
	}

	return call.future
}

// Call sends a call and waits for its result. If ctx ends first the call is
// abandoned and ctx.Err() is returned.
func (b *Bridge) Call(ctx context.Context, name string, payload any) (any, error) {
	future := b.Post(ctx, name, payload)

	select {
	case <-future.Done():
		return future.Wait(context.Background())
	case <-ctx.Done():
		b.abandon(future, ctx.Err())
		return future.Wait(context.Background())
	}
}

// abandon rejects the pending call owning future with err.
func (b *Bridge) abandon(future *messaging.Future, err error) {
	b.mu.Lock()
	var id string
	for pid, call := range b.pending {
		if call.future == future {
			id = pid
			break
		}
	}
	b.mu.Unlock()

	if id != "" {
		b.settle(id, nil, err)
	}
}

// Notify sends a call without waiting for, or tracking, its response.
func (b *Bridge) Notify(ctx context.Context, name string, payload any) error {
	if name == "" {
		return contracts.ErrEmptyName
	}
	if b.closed.Load() {
		return contracts.ErrShutdown
	}

	b.stats.notifications.Add(1)
	msg := contracts.NewRequest(b.prefix+name, uuid.NewString(), payload)
	if err := b.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send notification %q: %w", name, err)
	}
	return nil
}

// On registers handler for requests named name
func (b *Bridge) On(name string, handler messaging.Handler) (*messaging.Registration, error) {
	return b.dispatcher.On(name, handler)
}

// OnFunc registers a handler function for requests named name
func (b *Bridge) OnFunc(name string, fn func(ctx context.Context, payload any) (any, error)) (*messaging.Registration, error) {
	return b.dispatcher.On(name, messaging.HandlerFunc(fn))
}

// OnAny registers handler for every request name without a handler of its own
func (b *Bridge) OnAny(handler messaging.Handler) (*messaging.Registration, error) {
	return b.dispatcher.On(messaging.Wildcard, handler)
}

// Once registers handler for the next request named name only
func (b *Bridge) Once(name string, handler messaging.Handler) (*messaging.Registration, error) {
	return b.dispatcher.Once(name, handler)
}

// Off removes one registration from name. Unknown registrations are ignored.
func (b *Bridge) Off(name string, reg *messaging.Registration) {
	b.dispatcher.Off(name, reg)
}

// Dispatcher returns the handler registry
func (b *Bridge) Dispatcher() *messaging.Dispatcher {
	return b.dispatcher
}

// CircuitBreaker returns the breaker guarding sends, or nil
func (b *Bridge) CircuitBreaker() *reliability.CircuitBreaker {
	return b.circuitBreaker
}

// MaxPendingCalls returns the pending call limit. Zero means no limit.
func (b *Bridge) MaxPendingCalls() int {
	return b.maxPending
}

// IsClosed reports whether Shutdown was called
func (b *Bridge) IsClosed() bool {
	return b.closed.Load()
}

// PendingCount returns the number of outstanding calls
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Shutdown detaches the bridge from its channel, drops every handler and
// rejects every pending call with contracts.ErrShutdown. It is safe to call
// more than once.
func (b *Bridge) Shutdown() error {
	b.closeOnce.Do(func() {
		// Post checks closed under mu, so no call is added after the swap below.
		b.mu.Lock()
		b.closed.Store(true)
		b.mu.Unlock()

		if b.subscription != nil {
			if err := b.subscription.Unsubscribe(); err != nil {
				b.closeErr = fmt.Errorf("failed to unsubscribe from channel: %w", err)
			}
		}

		b.dispatcher.Clear()
		b.cancel()

		b.mu.Lock()
		pending := b.pending
		b.pending = make(map[string]*pendingCall)
		b.mu.Unlock()

		for _, call := range pending {
			call.timer.Stop()
			call.future.Reject(contracts.ErrShutdown)
		}

		b.logger.Info("bridge shut down", "rejectedCalls", len(pending))
	})

	return b.closeErr
}

// Close is an alias for Shutdown
func (b *Bridge) Close() error {
	return b.Shutdown()
}

// settle removes the pending call id and settles its future. Only the caller
// that removes the entry settles it.
func (b *Bridge) settle(id string, value any, err error) bool {
	b.mu.Lock()
	call, exists := b.pending[id]
	if exists {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !exists {
		return false
	}

	call.timer.Stop()
	if err != nil {
		call.future.Reject(err)
	} else {
		call.future.Resolve(value)
	}
	return true
}

// receive is subscribed to the channel. It never panics and never returns
// an error to the channel.
func (b *Bridge) receive(raw any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while processing message", "panic", r)
		}
	}()

	if b.closed.Load() {
		return
	}

	msg, err := contracts.Decode(raw)
	if err != nil {
		b.stats.dropped.Add(1)
		b.logger.Debug("ignoring undecodable message", "error", err)
		return
	}

	if !strings.HasPrefix(msg.Name, b.prefix) {
		return
	}

	switch {
	case msg.IsResponse():
		b.handleResponse(msg)
	case msg.IsRequest():
		b.handleRequest(msg)
	default:
		b.stats.dropped.Add(1)
		b.logger.Warn("ignoring malformed message",
			"name", msg.Name,
			"error", contracts.ErrMalformedMessage,
		)
	}
}

func (b *Bridge) handleResponse(msg *contracts.Message) {
	id := msg.ResponseID

	var settled bool
	if msg.HasError() {
		settled = b.settle(id, nil, &contracts.RemoteError{
			Name:  strings.TrimPrefix(msg.Name, b.prefix),
			Value: msg.Error,
		})
	} else {
		settled = b.settle(id, msg.Payload, nil)
	}

	if !settled {
		b.logger.Debug("no pending call for response", "id", id, "name", msg.Name)
		return
	}
	b.stats.responses.Add(1)
}

func (b *Bridge) handleRequest(msg *contracts.Message) {
	name := strings.TrimPrefix(msg.Name, b.prefix)

	target := name
	if !b.dispatcher.Has(target) {
		target = messaging.Wildcard
	}
	if !b.dispatcher.Has(target) {
		b.stats.unregistered.Add(1)
		if suggestion, ok := b.dispatcher.Suggest(name); ok {
			b.logger.Warn("no handler for request", "name", name, "id", msg.ID, "didYouMean", suggestion)
		} else {
			b.logger.Warn("no handler for request", "name", name, "id", msg.ID)
		}
		b.respond(contracts.NewErrorResponse(msg, contracts.UnregisteredEventValue()))
		return
	}

	b.stats.handled.Add(1)
	ctx := messaging.WithRequestInfo(b.ctx, messaging.RequestInfo{Name: name, ID: msg.ID})
	future := b.dispatcher.Invoke(ctx, target, msg.Payload)

	future.Then(func(value any, err error) {
		if b.closed.Load() {
			return
		}
		if errors.Is(err, messaging.ErrNoHandlers) {
			// A once handler was consumed between the lookup and the invoke.
			b.stats.unregistered.Add(1)
			b.respond(contracts.NewErrorResponse(msg, contracts.UnregisteredEventValue()))
			return
		}
		if err != nil {
			b.logger.Debug("request handler failed", "name", name, "id", msg.ID, "error", err)
			b.respond(contracts.NewErrorResponse(msg, contracts.WireError(err)))
			return
		}
		b.respond(contracts.NewResponse(msg, value))
	})
}

func (b *Bridge) respond(msg *contracts.Message) {
	if err := b.send(b.ctx, msg); err != nil {
		b.logger.Error("failed to send response",
			"name", msg.Name,
			"id", msg.ResponseID,
			"error", err,
		)
	}
}

// send hands msg to the channel, through the retry policy and circuit
// breaker when configured.
func (b *Bridge) send(ctx context.Context, msg *contracts.Message) error {
	op := func() error {
		return b.channel.Send(ctx, msg)
	}

	if b.retryPolicy != nil {
		attempt := op
		op = func() error {
			return reliability.Retry(ctx, b.retryPolicy, attempt)
		}
	}

	if b.circuitBreaker != nil {
		return b.circuitBreaker.Execute(ctx, op)
	}
	return op()
}
