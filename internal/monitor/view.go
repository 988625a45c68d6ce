package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	successColor = lipgloss.Color("#00FF87")
	errorColor   = lipgloss.Color("#FF5555")
	mutedColor   = lipgloss.Color("#6272A4")

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Bold(true)

	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)

	channelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")).Bold(true)
)

func (m Model) View() string {
	if m.width == 0 {
		return "connecting...\n"
	}

	header := m.renderHeader()
	counts := m.renderCounts()
	logView := m.renderLog()
	help := mutedStyle.Render("q: quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, counts, logView, help)
}

func (m Model) renderHeader() string {
	title := titleStyle.Render(fmt.Sprintf("tradeforge monitor — %s", m.addr))

	conn := errorStyle.Render("ws: disconnected")
	if m.connected {
		conn = successStyle.Render("ws: connected")
	} else if m.connErr != nil {
		conn = errorStyle.Render("ws: " + m.connErr.Error())
	}

	health := mutedStyle.Render("health: unknown")
	if !m.lastHealth.IsZero() {
		if m.healthy {
			health = successStyle.Render("health: ok")
		} else {
			health = errorStyle.Render("health: down")
		}
	}

	return boxStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", conn, "  ", health))
}

func (m Model) renderCounts() string {
	if len(m.counts) == 0 {
		return boxStyle.Render(mutedStyle.Render("no events yet"))
	}
	var parts []string
	for _, ch := range []string{"candles.close", "orders.events", "snapshots.events", "deployments.events"} {
		if n, ok := m.counts[ch]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", channelStyle.Render(ch), n))
		}
	}
	return boxStyle.Render(strings.Join(parts, "  "))
}

func (m Model) renderLog() string {
	n := m.height - 10
	if n < 5 {
		n = 5
	}
	lines := m.log
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s %s %s\n", mutedStyle.Render(l.At.Format("15:04:05")), channelStyle.Render(l.Channel), l.Text)
	}
	if b.Len() == 0 {
		b.WriteString(mutedStyle.Render("waiting for events..."))
	}
	return boxStyle.Width(m.width - 4).Height(n + 2).Render(strings.TrimRight(b.String(), "\n"))
}
