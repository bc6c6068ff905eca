package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glimte/msgbridge/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, e *Endpoint) func() []any {
	t.Helper()

	var mu sync.Mutex
	var received []any
	_, err := e.Subscribe(func(raw any) {
		mu.Lock()
		received = append(received, raw)
		mu.Unlock()
	})
	require.NoError(t, err)

	return func() []any {
		mu.Lock()
		defer mu.Unlock()
		return append([]any(nil), received...)
	}
}

func TestPipe(t *testing.T) {
	t.Run("structured delivery hands the peer a copy", func(t *testing.T) {
		left, right := NewPipe(WithSynchronousDelivery())
		received := collect(t, right)

		msg := contracts.NewRequest("greet", "id-1", "Vivian")
		require.NoError(t, left.Send(context.Background(), msg))

		got := received()
		require.Len(t, got, 1)
		delivered, ok := got[0].(*contracts.Message)
		require.True(t, ok)
		assert.Equal(t, msg, delivered)
		assert.NotSame(t, msg, delivered)
	})

	t.Run("JSON delivery hands the peer a string", func(t *testing.T) {
		left, right := NewPipe(WithEncoding(JSON), WithSynchronousDelivery())
		received := collect(t, right)

		require.NoError(t, left.Send(context.Background(), contracts.NewRequest("greet", "id-1", "Vivian")))

		got := received()
		require.Len(t, got, 1)
		assert.JSONEq(t, `{"name":"greet","_msgId":"id-1","payload":"Vivian"}`, got[0].(string))
	})

	t.Run("asynchronous delivery arrives eventually", func(t *testing.T) {
		left, right := NewPipe()
		received := collect(t, right)

		require.NoError(t, left.Send(context.Background(), contracts.NewRequest("a", "1", nil)))
		right.Flush()

		assert.Eventually(t, func() bool {
			return len(received()) == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("sender does not receive its own messages", func(t *testing.T) {
		left, _ := NewPipe(WithSynchronousDelivery())
		received := collect(t, left)

		require.NoError(t, left.Send(context.Background(), contracts.NewRequest("a", "1", nil)))
		assert.Empty(t, received())
	})

	t.Run("inject delivers foreign traffic", func(t *testing.T) {
		left, _ := NewPipe(WithSynchronousDelivery())
		received := collect(t, left)

		left.Inject("hello")
		assert.Equal(t, []any{"hello"}, received())
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		left, right := NewPipe(WithSynchronousDelivery())

		calls := 0
		sub, err := right.Subscribe(func(raw any) { calls++ })
		require.NoError(t, err)
		assert.Equal(t, 1, right.SubscriberCount())

		require.NoError(t, sub.Unsubscribe())
		assert.Equal(t, 0, right.SubscriberCount())

		require.NoError(t, left.Send(context.Background(), contracts.NewRequest("a", "1", nil)))
		assert.Equal(t, 0, calls)
	})

	t.Run("closed endpoint refuses to send and subscribe", func(t *testing.T) {
		left, right := NewPipe(WithSynchronousDelivery())
		received := collect(t, right)

		require.NoError(t, left.Close())

		err := left.Send(context.Background(), contracts.NewRequest("a", "1", nil))
		assert.ErrorIs(t, err, ErrClosed)

		_, err = left.Subscribe(func(raw any) {})
		assert.ErrorIs(t, err, ErrClosed)
		assert.Empty(t, received())
	})

	t.Run("cancelled context fails the send", func(t *testing.T) {
		left, _ := NewPipe()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := left.Send(ctx, contracts.NewRequest("a", "1", nil))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("panicking subscriber does not break delivery", func(t *testing.T) {
		left, right := NewPipe(WithSynchronousDelivery())
		_, err := right.Subscribe(func(raw any) { panic("boom") })
		require.NoError(t, err)

		assert.NotPanics(t, func() {
			_ = left.Send(context.Background(), contracts.NewRequest("a", "1", nil))
		})
	})
}
