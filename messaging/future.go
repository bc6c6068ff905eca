package messaging

import (
	"context"
	"sync"
)

// Awaitable is an eventual result. Handlers may return one instead of a plain
// value; the dispatcher adopts its outcome.
type Awaitable interface {
	Wait(ctx context.Context) (any, error)
}

// Future is a result that is settled exactly once, either with a value or an
// error. Later Resolve or Reject calls are ignored.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

// NewFuture returns an unsettled future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future already fulfilled with value.
func Resolved(value any) *Future {
	f := NewFuture()
	f.Resolve(value)
	return f
}

// Rejected returns a future already rejected with err.
func Rejected(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Resolve fulfils the future. It reports whether this call settled it.
func (f *Future) Resolve(value any) bool {
	return f.settle(value, nil)
}

// Reject fails the future. It reports whether this call settled it.
func (f *Future) Reject(err error) bool {
	return f.settle(nil, err)
}

func (f *Future) settle(value any, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has a result.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then runs cb in its own goroutine once the future settles.
func (f *Future) Then(cb func(value any, err error)) {
	go func() {
		<-f.done
		cb(f.value, f.err)
	}()
}
