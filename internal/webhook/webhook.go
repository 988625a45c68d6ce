// Package webhook provides an HTTP server that receives order postback
// notifications pushed by a venue whenever an order's status changes out
// of band (e.g. pending -> filled, pending -> rejected) rather than
// waiting for the next GetOrderStatus poll.
//
// This package:
//   - Starts a lightweight HTTP server on a configurable port and path.
//   - Parses the venue's postback payload into a broker-agnostic
//     OrderUpdate.
//   - Invokes registered callback functions so the orchestrator can react
//     (typically: publish an order_modified event onto the bus).
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nitinkhare/tradeforge/internal/market"
)

// Config holds webhook server settings.
type Config struct {
	Port    int    `mapstructure:"port" json:"port"`
	Path    string `mapstructure:"path" json:"path"`
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
}

// Postback is the JSON body a venue sends when an order status changes.
// Field names follow the common shape live.go's REST adapter already
// expects from a venue (order id, correlation/client id, status, side,
// quantity, fill info).
type Postback struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Status        string  `json:"status"`
	Side          string  `json:"side"`
	Symbol        string  `json:"symbol"`
	Quantity      int64   `json:"quantity"`
	FilledQty     int64   `json:"filled_qty"`
	RemainingQty  int64   `json:"remaining_qty"`
	AvgPrice      float64 `json:"avg_price"`
	ErrorCode     string  `json:"error_code"`
	ErrorMessage  string  `json:"error_message"`
}

// OrderUpdate is the broker-agnostic representation of a postback. Callbacks
// receive this instead of the raw venue payload so upstream code is not
// coupled to any one venue's wire format.
type OrderUpdate struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Status        market.OrderStatus
	Side          string
	Quantity      int64
	FilledQty     int64
	PendingQty    int64
	AveragePrice  float64
	ErrorCode     string
	ErrorMessage  string
	ReceivedAt    time.Time
}

// OrderUpdateHandler is called whenever a valid postback is received.
type OrderUpdateHandler func(update OrderUpdate)

// Server is the HTTP webhook receiver.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	srv      *http.Server
	mu       sync.RWMutex
	handlers []OrderUpdateHandler
	updates  []OrderUpdate // ring buffer of recent updates, for /status
}

// NewServer creates a new webhook server. It does not start listening
// until Start is called.
func NewServer(cfg Config, log zerolog.Logger) *Server {
	return &Server{cfg: cfg, log: log.With().Str("component", "webhook").Logger()}
}

// OnOrderUpdate registers a handler invoked for every validated postback.
// Multiple handlers may be registered.
func (s *Server) OnOrderUpdate(h OrderUpdateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// RecentUpdates returns a copy of the last n order updates, for status/debug.
func (s *Server) RecentUpdates(n int) []OrderUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.updates) {
		n = len(s.updates)
	}
	out := make([]OrderUpdate, n)
	copy(out, s.updates[len(s.updates)-n:])
	return out
}

// Start begins listening for postback HTTP requests. It returns
// immediately; the server runs in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	path := s.cfg.Path
	if path == "" {
		path = "/webhook/orders"
	}
	mux.HandleFunc(path, s.handlePostback)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Str("path", path).Msg("webhook server starting")
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("webhook server error")
		}
	}()
	return nil
}

// Shutdown gracefully stops the webhook server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.log.Info().Msg("webhook server shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var pb Postback
	if err := json.NewDecoder(r.Body).Decode(&pb); err != nil {
		s.log.Warn().Err(err).Msg("invalid postback payload")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if pb.OrderID == "" {
		s.log.Warn().Msg("postback missing order_id")
		http.Error(w, "missing order_id", http.StatusBadRequest)
		return
	}

	update := OrderUpdate{
		OrderID:       pb.OrderID,
		ClientOrderID: pb.ClientOrderID,
		Symbol:        pb.Symbol,
		Status:        mapPostbackStatus(pb.Status),
		Side:          pb.Side,
		Quantity:      pb.Quantity,
		FilledQty:     pb.FilledQty,
		PendingQty:    pb.RemainingQty,
		AveragePrice:  pb.AvgPrice,
		ErrorCode:     pb.ErrorCode,
		ErrorMessage:  pb.ErrorMessage,
		ReceivedAt:    time.Now(),
	}

	s.log.Info().Str("order_id", update.OrderID).Str("status", string(update.Status)).
		Int64("filled", update.FilledQty).Int64("quantity", update.Quantity).Msg("order postback received")

	s.mu.Lock()
	s.updates = append(s.updates, update)
	if len(s.updates) > 100 {
		s.updates = s.updates[len(s.updates)-100:]
	}
	handlers := make([]OrderUpdateHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(update)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"received":true}`)
}

// mapPostbackStatus maps a venue's free-form status string to the
// canonical market.OrderStatus, covering the vocabulary common REST
// brokers use for pending/filled/partial/rejected/cancelled/expired.
func mapPostbackStatus(s string) market.OrderStatus {
	switch s {
	case "FILLED", "TRADED", "COMPLETE", "COMPLETED":
		return market.StatusFilled
	case "CANCELLED", "CANCELED":
		return market.StatusCancelled
	case "REJECTED":
		return market.StatusRejected
	case "PENDING", "TRANSIT", "OPEN", "SUBMITTED":
		return market.StatusSubmitted
	case "PARTIALLY_FILLED", "PART_TRADED", "PARTIAL":
		return market.StatusPartiallyFilled
	case "EXPIRED":
		return market.StatusExpired
	default:
		return market.StatusPending
	}
}
