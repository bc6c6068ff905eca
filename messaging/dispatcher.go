package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/glimte/msgbridge/contracts"
	"golang.org/x/sync/errgroup"
)

// Wildcard is the reserved name of handlers invoked for requests that have
// no handler of their own.
const Wildcard = "*"

// ErrNoHandlers rejects an invocation for a name nobody registered.
var ErrNoHandlers = errors.New("no handlers registered")

// Handler processes the payload of a named request. It may return a plain
// value or an Awaitable whose outcome becomes the result.
type Handler interface {
	Handle(ctx context.Context, payload any) (any, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, payload any) (any, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, payload any) (any, error) {
	return f(ctx, payload)
}

// Registration identifies one handler registered under one name. It is the
// token Off needs to remove exactly that handler.
type Registration struct {
	name    string
	handler Handler
	once    bool
}

// Name returns the name the handler is registered under.
func (r *Registration) Name() string {
	return r.name
}

// Once reports whether the registration is removed on first invocation.
func (r *Registration) Once() bool {
	return r.once
}

// MiddlewareFunc wraps every handler invocation
type MiddlewareFunc func(ctx context.Context, payload any, next Handler) (any, error)

// PanicError is the failure of a handler that panicked.
type PanicError struct {
	Name  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler for %q panicked: %v", e.Name, e.Value)
}

// WireValue returns the panic value when it is an error message or a string.
func (e *PanicError) WireValue() any {
	switch v := e.Value.(type) {
	case error:
		return v.Error()
	case string:
		return v
	default:
		return e.Error()
	}
}

// Dispatcher is a registry of named handlers. Invoking a name always yields
// a Future, whatever the handlers return.
type Dispatcher struct {
	handlers   map[string][]*Registration
	mu         sync.RWMutex
	logger     *slog.Logger
	middleware []MiddlewareFunc
}

// DispatcherOption configures the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMiddleware adds middleware to the dispatcher
func WithMiddleware(middleware ...MiddlewareFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, middleware...)
	}
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string][]*Registration),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// On registers handler under name. Several handlers may share a name.
func (d *Dispatcher) On(name string, handler Handler) (*Registration, error) {
	return d.register(name, handler, false)
}

// Once registers handler under name and removes it the first time it is
// invoked.
func (d *Dispatcher) Once(name string, handler Handler) (*Registration, error) {
	return d.register(name, handler, true)
}

func (d *Dispatcher) register(name string, handler Handler, once bool) (*Registration, error) {
	if name == "" {
		return nil, contracts.ErrEmptyName
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	reg := &Registration{
		name:    name,
		handler: handler,
		once:    once,
	}

	d.mu.Lock()
	d.handlers[name] = append(d.handlers[name], reg)
	count := len(d.handlers[name])
	d.mu.Unlock()

	d.logger.Debug("registered handler",
		"name", name,
		"once", once,
		"handlers", count,
	)

	return reg, nil
}

// Off removes the registration from name. It reports whether anything was
// removed.
func (d *Dispatcher) Off(name string, reg *Registration) bool {
	if reg == nil {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.removeLocked(name, reg)
}

func (d *Dispatcher) removeLocked(name string, reg *Registration) bool {
	regs, exists := d.handlers[name]
	if !exists {
		return false
	}

	for i, r := range regs {
		if r != reg {
			continue
		}
		remaining := make([]*Registration, 0, len(regs)-1)
		remaining = append(remaining, regs[:i]...)
		remaining = append(remaining, regs[i+1:]...)
		if len(remaining) == 0 {
			delete(d.handlers, name)
		} else {
			d.handlers[name] = remaining
		}
		return true
	}

	return false
}

// Has reports whether at least one handler is registered under exactly name.
func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[name]) > 0
}

// HandlerCount returns the number of handlers registered under name.
func (d *Dispatcher) HandlerCount(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[name])
}

// Names returns every name with at least one handler.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// maxSuggestDistance bounds how far a suggestion may be from the requested name.
const maxSuggestDistance = 3

// Suggest returns the registered name closest to name, for "did you mean"
// hints when a request names nothing that is registered.
func (d *Dispatcher) Suggest(name string) (string, bool) {
	return Closest(name, d.Names())
}

// Closest returns the candidate with the smallest edit distance to name, at
// most three edits away. Ties go to the alphabetically first candidate.
func Closest(name string, candidates []string) (string, bool) {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	best, bestDistance := "", maxSuggestDistance+1
	for _, candidate := range sorted {
		if candidate == Wildcard || candidate == name {
			continue
		}
		if distance := levenshtein.ComputeDistance(name, candidate); distance < bestDistance {
			best, bestDistance = candidate, distance
		}
	}
	return best, best != ""
}

// Clear removes every registration.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.handlers = make(map[string][]*Registration)
	d.mu.Unlock()
}

// Invoke runs the handlers registered under name with payload.
//
// With one handler the future adopts its result. With several, all run and
// the future fulfils with their results in registration order, or rejects
// with the first failure. A name without handlers yields a rejected future.
func (d *Dispatcher) Invoke(ctx context.Context, name string, payload any) *Future {
	d.mu.Lock()
	regs := d.handlers[name]
	if len(regs) == 0 {
		d.mu.Unlock()
		return Rejected(fmt.Errorf("%w: %s", ErrNoHandlers, name))
	}

	snapshot := make([]*Registration, len(regs))
	copy(snapshot, regs)
	for _, reg := range snapshot {
		if reg.once {
			d.removeLocked(name, reg)
		}
	}
	d.mu.Unlock()

	if len(snapshot) == 1 {
		return d.run(ctx, snapshot[0], payload)
	}

	return d.fanOut(ctx, snapshot, payload)
}

func (d *Dispatcher) fanOut(ctx context.Context, regs []*Registration, payload any) *Future {
	aggregate := NewFuture()
	results := make([]any, len(regs))

	var g errgroup.Group
	for i, reg := range regs {
		future := d.run(ctx, reg, payload)
		g.Go(func() error {
			value, err := future.Wait(ctx)
			if err != nil {
				aggregate.Reject(err)
				return err
			}
			results[i] = value
			return nil
		})
	}

	go func() {
		if err := g.Wait(); err != nil {
			return
		}
		aggregate.Resolve(results)
	}()

	return aggregate
}

// run invokes one handler on its own goroutine and adopts its result.
func (d *Dispatcher) run(ctx context.Context, reg *Registration, payload any) *Future {
	future := NewFuture()
	handler := d.buildMiddlewareChain(reg.handler)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("handler panicked", "name", reg.name, "panic", r)
				future.Reject(&PanicError{Name: reg.name, Value: r})
			}
		}()

		value, err := handler.Handle(ctx, payload)
		if err != nil {
			future.Reject(err)
			return
		}
		future.Resolve(value)
	}()

	return future
}

// settled adopts an Awaitable result before returning, so middleware sees
// the outcome of asynchronous handlers.
func settled(handler Handler) Handler {
	return HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		value, err := handler.Handle(ctx, payload)
		if err != nil {
			return nil, err
		}
		if pending, ok := value.(Awaitable); ok {
			return pending.Wait(ctx)
		}
		return value, nil
	})
}

// buildMiddlewareChain builds the middleware execution chain around the
// settled handler. Middleware results are settled too.
func (d *Dispatcher) buildMiddlewareChain(handler Handler) Handler {
	result := settled(handler)
	if len(d.middleware) == 0 {
		return result
	}

	for i := len(d.middleware) - 1; i >= 0; i-- {
		middleware := d.middleware[i]
		next := result
		result = HandlerFunc(func(ctx context.Context, payload any) (any, error) {
			return middleware(ctx, payload, next)
		})
	}

	return settled(result)
}
