package monitor

import (
	"encoding/json"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

func TestUpdate_FrameIncrementsCount(t *testing.T) {
	m := New("localhost:8080", func() HealthMsg { return HealthMsg{Healthy: true} })

	frame := FrameMsg{Channel: "orders.events", Payload: json.RawMessage(`{"order_id":"ORD-1"}`)}
	updated, cmd := m.Update(frame)
	mm := updated.(Model)

	require.Nil(t, cmd)
	require.Equal(t, 1, mm.counts["orders.events"])
	require.Len(t, mm.log, 1)
	require.Equal(t, "orders.events", mm.log[0].Channel)
}

func TestUpdate_LogBounded(t *testing.T) {
	m := New("localhost:8080", func() HealthMsg { return HealthMsg{Healthy: true} })

	for i := 0; i < maxLogLines+50; i++ {
		updated, _ := m.Update(FrameMsg{Channel: "candles.close", Payload: json.RawMessage(`{}`)})
		m = updated.(Model)
	}

	require.Len(t, m.log, maxLogLines)
	require.Equal(t, maxLogLines+50, m.counts["candles.close"])
}

func TestUpdate_ConnStateAndHealth(t *testing.T) {
	m := New("localhost:8080", func() HealthMsg { return HealthMsg{Healthy: true} })

	updated, _ := m.Update(ConnStateMsg{Connected: true})
	mm := updated.(Model)
	require.True(t, mm.connected)
	require.Nil(t, mm.connErr)

	updated, _ = mm.Update(HealthMsg{Healthy: false})
	mm = updated.(Model)
	require.False(t, mm.healthy)
	require.False(t, mm.lastHealth.IsZero())
}

func TestUpdate_QuitOnKey(t *testing.T) {
	m := New("localhost:8080", func() HealthMsg { return HealthMsg{Healthy: true} })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
}

func TestUpdate_WindowSize(t *testing.T) {
	m := New("localhost:8080", func() HealthMsg { return HealthMsg{Healthy: true} })

	updated, cmd := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	mm := updated.(Model)

	require.Nil(t, cmd)
	require.Equal(t, 100, mm.width)
	require.Equal(t, 40, mm.height)
}
