package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/glimte/msgbridge"
	"github.com/glimte/msgbridge/bridge"
	"github.com/glimte/msgbridge/health"
	"github.com/glimte/msgbridge/monitor"
	"github.com/spf13/cobra"
)

func newMonitorCommand(opts *globalOptions) *cobra.Command {
	var (
		interval time.Duration
		demo     bool
		delay    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve calls and watch the bridge in a terminal dashboard",
		Long: `Runs a bridge like serve does and shows its counters, recent handler
activity, per-handler latency and health checks. Needs a broker transport,
standard streams are taken by the dashboard.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, io.Discard)
			if err != nil {
				return err
			}
			if a.isStdio() {
				return errors.New("monitor needs an amqp or nats transport, set --url")
			}

			client, err := a.connect()
			if err != nil {
				return err
			}
			defer client.Close()

			if demo {
				if err := newDemoHandlers(delay, a.logger).register(client.Bridge()); err != nil {
					return fmt.Errorf("failed to register handlers: %w", err)
				}
				if err := demoSchemas(a.validator); err != nil {
					return err
				}
			}

			source := &liveSource{
				client:   client,
				recorder: a.recorder,
				registry: newHealthRegistry(client, false),
			}

			p := tea.NewProgram(newDashboard(source, redactURL(a.config.Transport.URL), interval), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "refresh interval")
	cmd.Flags().BoolVar(&demo, "demo", true, "register the demo handlers")
	cmd.Flags().DurationVar(&delay, "delay", 2*time.Second, "how long delay and greet take to answer")

	return cmd
}

// snapshot is everything the dashboard shows at one refresh
type snapshot struct {
	Stats    bridge.Stats
	Breaker  string
	Names    []string
	Activity []monitor.Activity
	Summary  []monitor.HandlerStats
	Health   health.OverallHealth
}

// snapshotSource produces dashboard data
type snapshotSource interface {
	Snapshot(ctx context.Context) (snapshot, error)
}

// liveSource reads a running client
type liveSource struct {
	client   *msgbridge.Client
	recorder *monitor.Recorder
	registry *health.Registry
}

func (s *liveSource) Snapshot(ctx context.Context) (snapshot, error) {
	b := s.client.Bridge()

	snap := snapshot{
		Stats:    b.Stats(),
		Breaker:  "none",
		Names:    b.Dispatcher().Names(),
		Activity: s.recorder.Recent(50),
		Summary:  s.recorder.Summary(),
		Health:   s.registry.Check(ctx),
	}
	sort.Strings(snap.Names)

	if cb := b.CircuitBreaker(); cb != nil {
		snap.Breaker = cb.State().String()
	}
	return snap, nil
}

type tab int

const (
	overviewTab tab = iota
	activityTab
	handlersTab
	healthTab
	tabCount
)

var tabTitles = [tabCount]string{"Overview", "Activity", "Handlers", "Health"}

type keyMap struct {
	Next    key.Binding
	Prev    key.Binding
	Up      key.Binding
	Down    key.Binding
	Refresh key.Binding
	Toggle  key.Binding
	Quit    key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Next:    key.NewBinding(key.WithKeys("tab", "right"), key.WithHelp("tab/→", "next tab")),
		Prev:    key.NewBinding(key.WithKeys("shift+tab", "left"), key.WithHelp("shift+tab/←", "previous tab")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Toggle:  key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "toggle auto-refresh")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp lists the bindings shown in the footer
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Prev, k.Up, k.Down, k.Refresh, k.Toggle, k.Quit}
}

type tickMsg struct{}

type dataMsg struct {
	snapshot snapshot
	err      error
}

// dashboard is the bubbletea model of the monitor command
type dashboard struct {
	source      snapshotSource
	keys        keyMap
	target      string
	interval    time.Duration
	activeTab   tab
	width       int
	height      int
	autoRefresh bool
	lastUpdate  time.Time
	loaded      bool
	data        snapshot
	selected    int
	err         error
}

func newDashboard(source snapshotSource, target string, interval time.Duration) dashboard {
	if interval <= 0 {
		interval = time.Second
	}
	return dashboard{
		source:      source,
		keys:        newKeyMap(),
		target:      target,
		interval:    interval,
		activeTab:   overviewTab,
		autoRefresh: true,
	}
}

func (m dashboard) Init() tea.Cmd {
	return tea.Batch(m.fetchData(), m.tickCmd())
}

func (m dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Next):
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selected = 0
			return m, nil

		case key.Matches(msg, m.keys.Prev):
			m.activeTab = (m.activeTab + tabCount - 1) % tabCount
			m.selected = 0
			return m, nil

		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetchData()

		case key.Matches(msg, m.keys.Toggle):
			m.autoRefresh = !m.autoRefresh
			if m.autoRefresh {
				return m, m.tickCmd()
			}
			return m, nil

		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
			return m, nil

		case key.Matches(msg, m.keys.Down):
			if m.selected < m.rowCount()-1 {
				m.selected++
			}
			return m, nil
		}

	case tickMsg:
		if m.autoRefresh {
			return m, tea.Batch(m.fetchData(), m.tickCmd())
		}

	case dataMsg:
		m.err = msg.err
		if msg.err == nil {
			m.data = msg.snapshot
			m.loaded = true
			m.lastUpdate = time.Now()
			if rows := m.rowCount(); m.selected >= rows && rows > 0 {
				m.selected = rows - 1
			}
		}
		return m, nil
	}

	return m, nil
}

// rowCount is the number of selectable rows on the active tab
func (m dashboard) rowCount() int {
	switch m.activeTab {
	case activityTab:
		return len(m.data.Activity)
	case handlersTab:
		return len(m.data.Summary)
	default:
		return 0
	}
}

func (m dashboard) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := headerStyle.Width(m.width - 2).Render("msgbridge monitor  " + m.target)

	var content string
	switch {
	case !m.loaded:
		content = cardStyle.Render("Loading...")
	case m.activeTab == overviewTab:
		content = m.renderOverview()
	case m.activeTab == activityTab:
		content = m.renderActivity()
	case m.activeTab == handlersTab:
		content = m.renderHandlers()
	case m.activeTab == healthTab:
		content = m.renderHealth()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.renderTabs(),
		content,
		m.renderStatusBar(),
		m.renderHelp(),
	)
}

func (m dashboard) renderTabs() string {
	tabs := make([]string, 0, tabCount)
	for i, title := range tabTitles {
		if tab(i) == m.activeTab {
			tabs = append(tabs, activeTabStyle.Render(title))
		} else {
			tabs = append(tabs, tabStyle.Render(title))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, tabs...)
}

func (m dashboard) renderOverview() string {
	s := m.data.Stats

	calls := fmt.Sprintf(
		"Calls: %d\nNotifications: %d\nResponses: %d\nTimeouts: %d\nPending: %d",
		s.Calls, s.Notifications, s.Responses, s.Timeouts, s.Pending,
	)
	requests := fmt.Sprintf(
		"Handled: %d\nUnregistered: %d\nDropped: %d\nBreaker: %s",
		s.Handled, s.Unregistered, s.Dropped, m.data.Breaker,
	)

	return lipgloss.JoinHorizontal(lipgloss.Top,
		cardStyle.Render("Outbound\n\n"+calls),
		" ",
		cardStyle.Render("Inbound\n\n"+requests),
	)
}

func (m dashboard) renderActivity() string {
	if len(m.data.Activity) == 0 {
		return cardStyle.Render("No requests handled yet")
	}

	rows := []string{
		fmt.Sprintf("%-10s %-24s %-8s %10s  %s", "Time", "Name", "Outcome", "Duration", "Error"),
		strings.Repeat("─", 72),
	}

	for i, entry := range m.data.Activity {
		outcome := healthyStyle.Render(fmt.Sprintf("%-8s", entry.Outcome))
		if entry.Outcome == monitor.OutcomeError {
			outcome = errorStyle.Render(fmt.Sprintf("%-8s", entry.Outcome))
		}

		row := fmt.Sprintf("%-10s %-24s %s %10s  %s",
			entry.Time.Format("15:04:05"),
			truncateString(entry.Name, 24),
			outcome,
			formatDuration(entry.Duration),
			truncateString(entry.Error, 30),
		)
		rows = append(rows, m.rowStyle(i).Render(row))
	}

	return cardStyle.Render("Recent Activity\n\n" + strings.Join(rows, "\n"))
}

func (m dashboard) renderHandlers() string {
	registered := "Registered: " + strings.Join(m.data.Names, ", ")
	if len(m.data.Names) == 0 {
		registered = "Registered: none"
	}

	if len(m.data.Summary) == 0 {
		return cardStyle.Render(registered + "\n\nNo requests handled yet")
	}

	rows := []string{
		fmt.Sprintf("%-24s %8s %8s %8s %8s %8s", "Name", "Count", "Errors", "Avg", "P95", "Max"),
		strings.Repeat("─", 70),
	}
	for i, hs := range m.data.Summary {
		row := fmt.Sprintf("%-24s %8d %8d %6dms %6dms %6dms",
			truncateString(hs.Name, 24),
			hs.Count,
			hs.Errors,
			hs.AvgMs,
			hs.P95Ms,
			hs.MaxMs,
		)
		rows = append(rows, m.rowStyle(i).Render(row))
	}

	return cardStyle.Render(registered + "\n\n" + strings.Join(rows, "\n"))
}

func (m dashboard) renderHealth() string {
	return cardStyle.Render(strings.TrimRight(renderHealth(m.data.Health), "\n"))
}

func (m dashboard) rowStyle(i int) lipgloss.Style {
	if i == m.selected {
		return lipgloss.NewStyle().Background(selectedColor)
	}
	return lipgloss.NewStyle()
}

func (m dashboard) renderStatusBar() string {
	parts := []string{"Auto-refresh: ON"}
	if !m.autoRefresh {
		parts[0] = "Auto-refresh: OFF"
	}
	if !m.lastUpdate.IsZero() {
		parts = append(parts, "Last update: "+m.lastUpdate.Format("15:04:05"))
	}
	if m.err != nil {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}
	return helpStyle.Render(strings.Join(parts, " | "))
}

func (m dashboard) renderHelp() string {
	bindings := m.keys.ShortHelp()
	parts := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		help := binding.Help()
		parts = append(parts, help.Key+": "+help.Desc)
	}
	return helpStyle.Render(strings.Join(parts, " | "))
}

func (m dashboard) fetchData() tea.Cmd {
	source := m.source
	timeout := m.interval
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		snap, err := source.Snapshot(ctx)
		return dataMsg{snapshot: snap, err: err}
	}
}

func (m dashboard) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}
