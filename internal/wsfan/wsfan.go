// Package wsfan fans bus events out to WebSocket-connected UI clients.
//
// Grounded on internal/dashboard/broadcaster.go's Client/Broadcaster hub
// (register/unregister channels, non-blocking per-client send, shutdown)
// and cmd/dashboard/websocket.go's gorilla/websocket upgrade,
// writePump/readPump pair. Generalized from a dashboard-specific metrics
// push into a generic relay: a Hub subscribes to one or more bus channels
// and republishes every message it receives to every connected client as
// a Frame, instead of a single hardcoded "metrics" message type.
package wsfan

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nitinkhare/tradeforge/internal/bus"
)

const (
	clientSendBuffer = 256
	pingInterval     = 30 * time.Second
	writeTimeout     = 10 * time.Second
	readTimeout      = 60 * time.Second
)

// Frame is what every connected client receives, one per bus message.
type Frame struct {
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// Client is one connected UI subscriber.
type Client struct {
	ID   string
	Send chan Frame
}

// Hub relays messages from a set of bus channels to every registered
// Client. Per-client sends never block the relay: a client too slow to
// drain its Send channel is dropped.
type Hub struct {
	bus      bus.Bus
	channels []string
	log      zerolog.Logger

	register   chan *Client
	unregister chan *Client
	clients    map[*Client]bool

	shutdown chan struct{}
}

// NewHub builds a hub that will relay the given bus channels once Run
// is started.
func NewHub(b bus.Bus, channels []string, log zerolog.Logger) *Hub {
	return &Hub{
		bus:        b,
		channels:   channels,
		log:        log.With().Str("component", "wsfan").Logger(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		shutdown:   make(chan struct{}),
	}
}

// Register admits a client to the broadcast set.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister removes a client from the broadcast set. Safe to call more
// than once for the same client.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// ClientCount returns the number of currently registered clients. Racy
// by nature (the count may change before the caller observes it); used
// for metrics/logging only.
func (h *Hub) ClientCount() int {
	return len(h.clients)
}

// Run subscribes to the configured bus channels and relays every
// message received to all registered clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	msgs, teardown, err := h.bus.Subscribe(ctx, h.channels...)
	if err != nil {
		return err
	}
	defer teardown()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case <-h.shutdown:
			h.closeAll()
			return nil
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug().Str("client", c.ID).Int("clients", len(h.clients)).Msg("wsfan: client registered")
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.Send)
			}
		case m, ok := <-msgs:
			if !ok {
				return bus.ErrSubscribeLost
			}
			frame := Frame{
				Channel:   m.Channel,
				Payload:   json.RawMessage(m.Payload),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}
			for c := range h.clients {
				select {
				case c.Send <- frame:
				default:
					h.log.Warn().Str("client", c.ID).Msg("wsfan: client send buffer full, dropping")
					delete(h.clients, c)
					close(c.Send)
				}
			}
		}
	}
}

// Shutdown stops Run and closes every registered client's Send channel.
func (h *Hub) Shutdown() {
	close(h.shutdown)
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		delete(h.clients, c)
		close(c.Send)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a WebSocket connection, registers a
// client with the hub, and pumps frames to it until the connection
// closes or the hub shuts the client down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("wsfan: upgrade failed")
		return
	}
	defer conn.Close()

	client := &Client{ID: r.RemoteAddr, Send: make(chan Frame, clientSendBuffer)}
	h.Register(client)
	defer h.Unregister(client)

	go h.readPump(conn, client)
	h.writePump(conn, client)
}

func (h *Hub) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.Send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to detect disconnection and service pong frames;
// UI clients never send application messages upstream.
func (h *Hub) readPump(conn *websocket.Conn, c *Client) {
	defer h.Unregister(c)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
