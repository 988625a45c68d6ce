// Command monitor is a terminal dashboard for a running "backend run"
// orchestrator: it dials the admin API's /ws endpoint and tails every
// orders/candles/snapshots/deployments frame it relays, alongside a
// periodic /healthz poll, rendered with bubbletea/lipgloss.
//
// Grounded on cmd/bot/main.go's wiring of a tui.Model into a
// tea.NewProgram run loop, fed here by a background goroutine dialing
// internal/wsfan's WebSocket endpoint instead of an in-process bot.
package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/nitinkhare/tradeforge/internal/monitor"
	"github.com/nitinkhare/tradeforge/internal/wsfan"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "backend admin API address (host:port)")
	flag.Parse()

	httpClient := resty.New().SetTimeout(2 * time.Second)
	pollHealth := func() monitor.HealthMsg {
		resp, err := httpClient.R().Get(fmt.Sprintf("http://%s/healthz", *addr))
		if err != nil {
			return monitor.HealthMsg{Healthy: false, Err: err}
		}
		return monitor.HealthMsg{Healthy: resp.IsSuccess()}
	}

	m := monitor.New(*addr, pollHealth)
	program := tea.NewProgram(m, tea.WithAltScreen())

	go dialAndRelay(*addr, program)

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}

// dialAndRelay connects to the backend's WebSocket fan-out and forwards
// every frame to the bubbletea program as a monitor.FrameMsg, retrying
// with a fixed backoff on disconnect until the program exits.
func dialAndRelay(addr string, program *tea.Program) {
	wsURL := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}

	for {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
		if err != nil {
			program.Send(monitor.ConnStateMsg{Connected: false, Err: err})
			time.Sleep(2 * time.Second)
			continue
		}
		program.Send(monitor.ConnStateMsg{Connected: true})

		for {
			var frame wsfan.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				program.Send(monitor.ConnStateMsg{Connected: false, Err: err})
				break
			}
			program.Send(monitor.FrameMsg(frame))
		}
		conn.Close()
		time.Sleep(2 * time.Second)
	}
}
