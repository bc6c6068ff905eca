package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/glimte/msgbridge/health"
	"github.com/glimte/msgbridge/internal/rabbitmq"
	"github.com/sanity-io/litter"
)

const (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	selectedColor  = lipgloss.Color("#374151")
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Bold(true).
			Padding(0, 1).
			Margin(0, 0, 1, 0)

	tabStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 2).
			Margin(0, 1, 0, 0)

	activeTabStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Background(selectedColor).
			Bold(true).
			Padding(0, 2).
			Margin(0, 1, 0, 0)

	healthyStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2).
			Margin(1, 0)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Margin(1, 0)
)

// parsePayload reads a command line payload. Valid JSON is decoded, anything
// else is sent as a plain string. No argument means no payload.
func parsePayload(args []string) any {
	if len(args) == 0 {
		return nil
	}

	raw := strings.Join(args, " ")
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw
	}
	return payload
}

// formatValue renders a result as indented JSON, or as a Go literal dump
func formatValue(v any, dump bool) string {
	if dump {
		return litter.Sdump(v)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func statusStyle(status health.Status) lipgloss.Style {
	switch status {
	case health.StatusHealthy:
		return healthyStyle
	case health.StatusDegraded:
		return warningStyle
	case health.StatusUnhealthy:
		return errorStyle
	default:
		return lipgloss.NewStyle()
	}
}

// renderHealth formats a health report, one block per check
func renderHealth(h health.OverallHealth) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Overall Status: %s (%s)\n",
		statusStyle(h.Status).Render(strings.ToUpper(string(h.Status))),
		formatDuration(h.Duration),
	)

	for _, name := range h.Names() {
		check := h.Checks[name]
		fmt.Fprintf(&b, "\n%s: %s\n", name, statusStyle(check.Status).Render(strings.ToUpper(string(check.Status))))
		if check.Message != "" {
			fmt.Fprintf(&b, "  %s\n", check.Message)
		}
		if check.Error != "" {
			fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("error:"), check.Error)
		}
	}

	return b.String()
}

func printHealth(w io.Writer, h health.OverallHealth) {
	fmt.Fprint(w, renderHealth(h))
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1fm", d.Minutes())
	default:
		return fmt.Sprintf("%.1fh", d.Hours())
	}
}

func truncateString(s string, length int) string {
	if len(s) <= length {
		return s
	}
	if length <= 3 {
		return s[:length]
	}
	return s[:length-3] + "..."
}

// redactURL hides credentials before a URL is shown or logged
func redactURL(raw string) string {
	if strings.HasPrefix(raw, "stdio:") {
		return raw
	}
	return rabbitmq.SanitizeURL(raw)
}
