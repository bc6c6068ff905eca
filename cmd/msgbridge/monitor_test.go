package main

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/glimte/msgbridge/bridge"
	"github.com/glimte/msgbridge/health"
	"github.com/glimte/msgbridge/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Snapshot(ctx context.Context) (snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(snapshot), args.Error(1)
}

func sampleSnapshot() snapshot {
	now := time.Now()
	return snapshot{
		Stats:   bridge.Stats{Calls: 7, Timeouts: 1, Handled: 3, Pending: 2},
		Breaker: "closed",
		Names:   []string{"greet", "ready"},
		Activity: []monitor.Activity{
			{Time: now, Name: "greet", Outcome: monitor.OutcomeOK, Duration: 3 * time.Millisecond},
			{Time: now, Name: "fail", Outcome: monitor.OutcomeError, Error: "boom"},
		},
		Summary: []monitor.HandlerStats{
			{Name: "greet", Count: 2, AvgMs: 3, P95Ms: 4, MaxMs: 5},
		},
		Health: health.OverallHealth{
			Status: health.StatusHealthy,
			Checks: map[string]health.CheckResult{
				"bridge": {Status: health.StatusHealthy, Message: "Bridge is running"},
			},
		},
	}
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func update(t *testing.T, m dashboard, msg tea.Msg) (dashboard, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	d, ok := next.(dashboard)
	require.True(t, ok)
	return d, cmd
}

func loadedDashboard(t *testing.T) dashboard {
	m := newDashboard(&mockSource{}, "nats://localhost:4222", time.Second)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = update(t, m, dataMsg{snapshot: sampleSnapshot()})
	return m
}

func TestDashboard(t *testing.T) {
	t.Run("fetches from the source", func(t *testing.T) {
		source := &mockSource{}
		source.On("Snapshot", mock.Anything).Return(sampleSnapshot(), nil)

		m := newDashboard(source, "nats://localhost:4222", time.Second)
		msg := m.fetchData()()

		data, ok := msg.(dataMsg)
		require.True(t, ok)
		assert.NoError(t, data.err)
		assert.Equal(t, int64(7), data.snapshot.Stats.Calls)
		source.AssertExpectations(t)
	})

	t.Run("loading until sized", func(t *testing.T) {
		m := newDashboard(&mockSource{}, "x", 0)
		assert.Equal(t, "Loading...", m.View())
		assert.Equal(t, time.Second, m.interval)
	})

	t.Run("overview", func(t *testing.T) {
		view := loadedDashboard(t).View()
		assert.Contains(t, view, "nats://localhost:4222")
		assert.Contains(t, view, "Calls: 7")
		assert.Contains(t, view, "Pending: 2")
		assert.Contains(t, view, "Breaker: closed")
	})

	t.Run("tabs cycle both ways", func(t *testing.T) {
		m := loadedDashboard(t)

		m, _ = update(t, m, keyPress("tab"))
		assert.Equal(t, activityTab, m.activeTab)
		assert.Contains(t, m.View(), "boom")

		m, _ = update(t, m, keyPress("tab"))
		assert.Equal(t, handlersTab, m.activeTab)
		assert.Contains(t, m.View(), "Registered: greet, ready")

		m, _ = update(t, m, keyPress("tab"))
		assert.Equal(t, healthTab, m.activeTab)
		assert.Contains(t, m.View(), "Bridge is running")

		m, _ = update(t, m, keyPress("tab"))
		assert.Equal(t, overviewTab, m.activeTab)

		m, _ = update(t, m, keyPress("shift+tab"))
		assert.Equal(t, healthTab, m.activeTab)
	})

	t.Run("selection stays in range", func(t *testing.T) {
		m := loadedDashboard(t)
		m, _ = update(t, m, keyPress("tab"))

		m, _ = update(t, m, keyPress("down"))
		m, _ = update(t, m, keyPress("down"))
		assert.Equal(t, 1, m.selected)

		m, _ = update(t, m, keyPress("up"))
		m, _ = update(t, m, keyPress("up"))
		assert.Equal(t, 0, m.selected)
	})

	t.Run("auto refresh toggles", func(t *testing.T) {
		m := loadedDashboard(t)

		m, cmd := update(t, m, keyPress(" "))
		assert.False(t, m.autoRefresh)
		assert.Nil(t, cmd)
		assert.Contains(t, m.View(), "Auto-refresh: OFF")

		_, cmd = update(t, m, tickMsg{})
		assert.Nil(t, cmd)

		m, cmd = update(t, m, keyPress(" "))
		assert.True(t, m.autoRefresh)
		assert.NotNil(t, cmd)
	})

	t.Run("errors keep the last data", func(t *testing.T) {
		m := loadedDashboard(t)
		m, _ = update(t, m, dataMsg{err: errors.New("broker gone")})

		assert.Equal(t, int64(7), m.data.Stats.Calls)
		assert.Contains(t, m.View(), "broker gone")
	})

	t.Run("quit", func(t *testing.T) {
		_, cmd := update(t, loadedDashboard(t), keyPress("q"))
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
	})
}

func TestKeyMap(t *testing.T) {
	keys := newKeyMap()
	for _, binding := range keys.ShortHelp() {
		assert.NotEmpty(t, binding.Help().Key)
		assert.NotEmpty(t, binding.Help().Desc)
	}

	view := loadedDashboard(t).View()
	assert.Contains(t, view, "q: quit")
	assert.Contains(t, view, "r: refresh")
}
