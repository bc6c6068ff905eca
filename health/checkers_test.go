package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glimte/msgbridge/bridge"
	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/internal/reliability"
	"github.com/glimte/msgbridge/transports/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockConnection struct {
	mock.Mock
}

func (m *mockConnection) IsConnected() bool {
	return m.Called().Bool(0)
}

type mockHandshaker struct {
	mock.Mock
}

func (m *mockHandshaker) Handshake(ctx context.Context) (contracts.PeerInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(contracts.PeerInfo), args.Error(1)
}

func newBridge(t *testing.T, opts ...bridge.Option) *bridge.Bridge {
	t.Helper()
	end, _ := memory.NewPipe()
	b, err := bridge.New(end, append([]bridge.Option{bridge.WithLogger(quietLogger)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Shutdown() })
	return b
}

func TestBridgeChecker(t *testing.T) {
	t.Run("running bridge is healthy", func(t *testing.T) {
		result := NewBridgeChecker(newBridge(t)).Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, "bridge", result.Name)
		assert.Equal(t, 0, result.Details["pending"])
	})

	t.Run("shut down bridge is unhealthy", func(t *testing.T) {
		b := newBridge(t)
		require.NoError(t, b.Shutdown())

		result := NewBridgeChecker(b).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
	})

	t.Run("open breaker is unhealthy", func(t *testing.T) {
		cb := reliability.NewCircuitBreaker(
			reliability.WithFailureThreshold(1),
			reliability.WithBreakerLogger(quietLogger),
		)
		cb.Execute(context.Background(), func() error { return errors.New("down") })
		require.Equal(t, reliability.StateOpen, cb.State())

		result := NewBridgeChecker(newBridge(t, bridge.WithCircuitBreaker(cb))).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "open", result.Details["breaker"])
	})

	t.Run("pending pressure is degraded", func(t *testing.T) {
		b := newBridge(t, bridge.WithMaxPendingCalls(2), bridge.WithTimeout(time.Minute))
		b.Post(context.Background(), "a", nil)
		b.Post(context.Background(), "b", nil)

		result := NewBridgeChecker(b).Check(context.Background())
		assert.Equal(t, StatusDegraded, result.Status)
		assert.Equal(t, 2, result.Details["pendingLimit"])
	})
}

func TestConnectionChecker(t *testing.T) {
	conn := &mockConnection{}
	conn.On("IsConnected").Return(true).Once()
	conn.On("IsConnected").Return(false).Once()

	checker := NewConnectionChecker("rabbitmq", conn)
	assert.Equal(t, "rabbitmq", checker.Name())
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, checker.Check(context.Background()).Status)
	conn.AssertExpectations(t)
}

func TestPeerChecker(t *testing.T) {
	t.Run("answered handshake", func(t *testing.T) {
		peer := &mockHandshaker{}
		peer.On("Handshake", mock.Anything).Return(contracts.NewPeerInfo([]string{"greet"}, time.Now()), nil)

		result := NewPeerChecker(peer).Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, contracts.ProtocolVersion, result.Details["version"])
		assert.Equal(t, 1, result.Details["handlers"])
	})

	t.Run("failed handshake", func(t *testing.T) {
		peer := &mockHandshaker{}
		peer.On("Handshake", mock.Anything).Return(contracts.PeerInfo{}, contracts.ErrTimeout)

		result := NewPeerChecker(peer).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "Timeout", result.Error)
	})
}

func TestRuntimeChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewRuntimeChecker(1_000_000, 2_000_000).Check(context.Background()).Status)
	assert.Equal(t, StatusDegraded, NewRuntimeChecker(0, 1_000_000).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewRuntimeChecker(0, 0).Check(context.Background()).Status)
}
