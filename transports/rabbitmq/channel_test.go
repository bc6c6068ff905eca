package rabbitmq

import (
	"context"
	"testing"

	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	t.Run("queues are required", func(t *testing.T) {
		ch, err := New(context.Background(), "amqp://localhost:5672")
		assert.Nil(t, ch)
		assert.ErrorIs(t, err, rabbitmq.ErrInvalidConfiguration)
	})

	t.Run("queues must differ", func(t *testing.T) {
		ch, err := New(context.Background(), "amqp://localhost:5672", WithQueues("same", "same"))
		assert.Nil(t, ch)
		assert.ErrorIs(t, err, rabbitmq.ErrInvalidConfiguration)
	})
}

func TestConfig_Queues(t *testing.T) {
	cfg := &Config{}
	WithQueues("to-child", "to-parent")(cfg)
	WithDurableQueues(true)(cfg)
	WithPrefetchCount(5)(cfg)

	queues := cfg.queues()
	require.Len(t, queues, 2)
	assert.Equal(t, "to-child", queues[0].Name)
	assert.Equal(t, "to-parent", queues[1].Name)
	assert.True(t, queues[0].Durable)
	assert.False(t, queues[0].AutoDelete)
	assert.Equal(t, 5, cfg.PrefetchCount)
}

func TestNewPublishing(t *testing.T) {
	t.Run("request", func(t *testing.T) {
		msg := contracts.NewRequest("iframe-message-bridge-greet", "id-1", "Vivian")

		p, err := newPublishing(msg, false)
		require.NoError(t, err)

		assert.Equal(t, "application/json", p.ContentType)
		assert.Equal(t, "id-1", p.MessageId)
		assert.Empty(t, p.CorrelationId)
		assert.Equal(t, "iframe-message-bridge-greet", p.Type)
		assert.Equal(t, amqp.Transient, p.DeliveryMode)
		assert.JSONEq(t, `{"name":"iframe-message-bridge-greet","_msgId":"id-1","payload":"Vivian"}`, string(p.Body))
	})

	t.Run("persistent response", func(t *testing.T) {
		req := contracts.NewRequest("greet", "id-1", nil)

		p, err := newPublishing(contracts.NewResponse(req, "hi"), true)
		require.NoError(t, err)

		assert.Equal(t, "id-1", p.CorrelationId)
		assert.Equal(t, amqp.Persistent, p.DeliveryMode)
	})
}

func TestChannel_Dispatch(t *testing.T) {
	c := &Channel{
		subscribers: make(map[uint64]func(raw any)),
	}

	var got []any
	c.subscribers[0] = func(raw any) { got = append(got, raw) }

	c.dispatch([]byte(`{"name":"x"}`))
	require.Len(t, got, 1)

	msg, err := contracts.Decode(got[0])
	require.NoError(t, err)
	assert.Equal(t, "x", msg.Name)
}
