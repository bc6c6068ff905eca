package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/msgbridge/bridge"
	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/internal/reliability"
)

// pendingWarnRatio is the share of the pending limit above which the bridge
// reports degraded.
const pendingWarnRatio = 0.8

// BridgeChecker reports the state of a bridge: shut down, breaker state and
// pending call pressure.
type BridgeChecker struct {
	bridge *bridge.Bridge
}

// NewBridgeChecker creates a checker for b
func NewBridgeChecker(b *bridge.Bridge) *BridgeChecker {
	return &BridgeChecker{bridge: b}
}

func (c *BridgeChecker) Name() string {
	return "bridge"
}

func (c *BridgeChecker) Check(ctx context.Context) (result CheckResult) {
	start := time.Now()
	stats := c.bridge.Stats()
	result = CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   "Bridge is running",
		Timestamp: start,
		Details: map[string]any{
			"pending":      stats.Pending,
			"calls":        stats.Calls,
			"timeouts":     stats.Timeouts,
			"handled":      stats.Handled,
			"unregistered": stats.Unregistered,
		},
	}
	defer func() { result.Duration = time.Since(start) }()

	if c.bridge.IsClosed() {
		result.Status = StatusUnhealthy
		result.Message = "Bridge is shut down"
		return result
	}

	if cb := c.bridge.CircuitBreaker(); cb != nil {
		state := cb.State()
		result.Details["breaker"] = state.String()
		switch state {
		case reliability.StateOpen:
			result.Status = StatusUnhealthy
			result.Message = "Send circuit breaker is open"
			return result
		case reliability.StateHalfOpen:
			result.Status = StatusDegraded
			result.Message = "Send circuit breaker is half-open"
			return result
		}
	}

	if limit := c.bridge.MaxPendingCalls(); limit > 0 {
		result.Details["pendingLimit"] = limit
		if float64(stats.Pending) >= pendingWarnRatio*float64(limit) {
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("Pending calls near limit: %d/%d", stats.Pending, limit)
		}
	}

	return result
}

// Connectable is a transport that knows whether it is connected
type Connectable interface {
	IsConnected() bool
}

// ConnectionChecker checks a transport connection
type ConnectionChecker struct {
	name string
	conn Connectable
}

// NewConnectionChecker creates a checker called name for conn
func NewConnectionChecker(name string, conn Connectable) *ConnectionChecker {
	return &ConnectionChecker{name: name, conn: conn}
}

func (c *ConnectionChecker) Name() string {
	return c.name
}

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   "Connection is healthy",
		Timestamp: start,
	}

	if !c.conn.IsConnected() {
		result.Status = StatusUnhealthy
		result.Message = "Connection is down"
	}

	result.Duration = time.Since(start)
	return result
}

// Handshaker answers the ready handshake with the peer's description
type Handshaker interface {
	Handshake(ctx context.Context) (contracts.PeerInfo, error)
}

// PeerChecker checks that the peer answers the handshake
type PeerChecker struct {
	peer Handshaker
}

// NewPeerChecker creates a checker for peer
func NewPeerChecker(peer Handshaker) *PeerChecker {
	return &PeerChecker{peer: peer}
}

func (c *PeerChecker) Name() string {
	return "peer"
}

func (c *PeerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	info, err := c.peer.Handshake(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Peer did not complete the handshake"
		result.Error = err.Error()
		return result
	}

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("Peer speaks %s %s", info.Protocol, info.Version)
	result.Details["version"] = info.Version
	result.Details["handlers"] = len(info.Handlers)
	result.Details["roundTrip"] = result.Duration.String()
	return result
}

// RuntimeChecker flags goroutine growth, which usually means leaked handlers
type RuntimeChecker struct {
	warnGoroutines     int
	criticalGoroutines int
}

// NewRuntimeChecker creates a runtime checker with goroutine thresholds
func NewRuntimeChecker(warnGoroutines, criticalGoroutines int) *RuntimeChecker {
	return &RuntimeChecker{
		warnGoroutines:     warnGoroutines,
		criticalGoroutines: criticalGoroutines,
	}
}

func (c *RuntimeChecker) Name() string {
	return "runtime"
}

func (c *RuntimeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case goroutines > c.criticalGoroutines:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case goroutines > c.warnGoroutines:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Runtime is normal"
	}

	result.Duration = time.Since(start)
	return result
}
