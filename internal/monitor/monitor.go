// Package monitor implements a terminal dashboard for a running backend
// orchestrator: a live tail of orders.events/snapshots.events/
// deployments.events frames read off its /ws endpoint, plus a periodic
// /healthz poll, rendered with bubbletea/lipgloss.
//
// Grounded on guyghost-constantine/internal/tui's Model/Update/View split
// (tea.Model with a periodic tickMsg driving a refresh, a bounded message
// log, dedicated message types per event source) adapted from a
// multi-exchange trading bot's live dashboard onto this system's own
// event shapes; the WebSocket frame it consumes is internal/wsfan.Frame.
package monitor

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nitinkhare/tradeforge/internal/wsfan"
)

const (
	maxLogLines  = 200
	healthPeriod = 3 * time.Second
)

// LogLine is one rendered row in the scrolling event log.
type LogLine struct {
	At      time.Time
	Channel string
	Text    string
}

// FrameMsg wraps a wsfan.Frame read off the backend's WebSocket feed.
type FrameMsg wsfan.Frame

// ConnStateMsg reports a change in WebSocket connection state.
type ConnStateMsg struct {
	Connected bool
	Err       error
}

// HealthMsg reports the outcome of a /healthz poll.
type HealthMsg struct {
	Healthy bool
	Err     error
}

type healthTickMsg time.Time

func healthTickCmd() tea.Cmd {
	return tea.Tick(healthPeriod, func(t time.Time) tea.Msg { return healthTickMsg(t) })
}

// PollHealth is supplied by the caller (cmd/monitor) since the HTTP client
// and target address live outside this package.
type PollHealth func() HealthMsg

// Model is the bubbletea model for the dashboard.
type Model struct {
	addr       string
	pollHealth PollHealth

	width, height int

	connected  bool
	connErr    error
	healthy    bool
	healthErr  error
	lastHealth time.Time

	log    []LogLine
	counts map[string]int
}

// New builds the initial model. poll is called once per healthPeriod from
// inside the bubbletea event loop (Update), never directly by callers.
func New(addr string, poll PollHealth) Model {
	return Model{
		addr:       addr,
		pollHealth: poll,
		counts:     make(map[string]int),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(healthTickCmd(), tea.EnterAltScreen)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case healthTickMsg:
		return m, tea.Batch(m.pollHealthCmd(), healthTickCmd())

	case HealthMsg:
		m.healthy = msg.Healthy
		m.healthErr = msg.Err
		m.lastHealth = time.Now()
		return m, nil

	case ConnStateMsg:
		m.connected = msg.Connected
		m.connErr = msg.Err
		return m, nil

	case FrameMsg:
		m.counts[msg.Channel]++
		m.appendLog(LogLine{At: time.Now(), Channel: msg.Channel, Text: summarize(msg)})
		return m, nil
	}
	return m, nil
}

func (m Model) pollHealthCmd() tea.Cmd {
	return func() tea.Msg { return m.pollHealth() }
}

func (m *Model) appendLog(l LogLine) {
	m.log = append(m.log, l)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// summarize renders a frame's raw JSON payload as text, cut to 120 bytes
// (plus "...") when longer; the payload is not decoded.
func summarize(f FrameMsg) string {
	return truncate(string(f.Payload), 120)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
