package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/tradeforge/internal/market"
)

func newTestServer() *Server {
	return NewServer(Config{Path: "/webhook/orders", Enabled: true}, zerolog.Nop())
}

func postJSON(s *Server, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/webhook/orders", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handlePostback(w, req)
	return w
}

func captureUpdate(s *Server) *OrderUpdate {
	var received OrderUpdate
	var mu sync.Mutex
	s.OnOrderUpdate(func(u OrderUpdate) {
		mu.Lock()
		defer mu.Unlock()
		received = u
	})
	return &received
}

func TestPostback_Filled(t *testing.T) {
	s := newTestServer()
	received := captureUpdate(s)

	resp := postJSON(s, Postback{
		OrderID:      "ORD-123456",
		Status:       "FILLED",
		Side:         "BUY",
		Symbol:       "RELIANCE",
		Quantity:     10,
		FilledQty:    10,
		RemainingQty: 0,
		AvgPrice:     1249.80,
	})

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "ORD-123456", received.OrderID)
	require.Equal(t, market.StatusFilled, received.Status)
	require.Equal(t, "RELIANCE", received.Symbol)
	require.Equal(t, "BUY", received.Side)
	require.EqualValues(t, 10, received.FilledQty)
	require.InDelta(t, 1249.80, received.AveragePrice, 0.001)
}

func TestPostback_Rejected(t *testing.T) {
	s := newTestServer()
	received := captureUpdate(s)

	resp := postJSON(s, Postback{
		OrderID:      "ORD-789",
		Status:       "REJECTED",
		Side:         "BUY",
		Symbol:       "TCS",
		Quantity:     5,
		ErrorCode:    "OMS-001",
		ErrorMessage: "insufficient margin",
	})

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, market.StatusRejected, received.Status)
	require.Equal(t, "OMS-001", received.ErrorCode)
	require.Equal(t, "insufficient margin", received.ErrorMessage)
}

func TestPostback_PartialFill(t *testing.T) {
	s := newTestServer()
	received := captureUpdate(s)

	resp := postJSON(s, Postback{
		OrderID:      "ORD-PART-200",
		Status:       "PARTIALLY_FILLED",
		Symbol:       "HDFCBANK",
		Quantity:     100,
		FilledQty:    40,
		RemainingQty: 60,
		AvgPrice:     1650.25,
	})

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, market.StatusPartiallyFilled, received.Status)
	require.EqualValues(t, 40, received.FilledQty)
	require.EqualValues(t, 60, received.PendingQty)
}

func TestPostback_Expired(t *testing.T) {
	s := newTestServer()
	received := captureUpdate(s)

	resp := postJSON(s, Postback{OrderID: "ORD-EXP-300", Status: "EXPIRED", Symbol: "SBIN", Quantity: 50})

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, market.StatusExpired, received.Status)
}

func TestPostback_InvalidJSON(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/webhook/orders", bytes.NewReader([]byte(`{not valid json`)))
	w := httptest.NewRecorder()
	s.handlePostback(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostback_MissingOrderID(t *testing.T) {
	s := newTestServer()

	resp := postJSON(s, Postback{Status: "FILLED", Symbol: "RELIANCE"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPostback_WrongMethod(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/webhook/orders", nil)
	w := httptest.NewRecorder()
	s.handlePostback(w, req)

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestPostback_MultipleHandlers(t *testing.T) {
	s := newTestServer()

	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 3; i++ {
		wg.Add(1)
		s.OnOrderUpdate(func(_ OrderUpdate) {
			mu.Lock()
			count++
			mu.Unlock()
			wg.Done()
		})
	}

	postJSON(s, Postback{OrderID: "ORD-MULTI-600", Status: "FILLED", Symbol: "ITC", Quantity: 100})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, count)
}

func TestRecentUpdates(t *testing.T) {
	s := newTestServer()

	for i := 1; i <= 5; i++ {
		postJSON(s, Postback{OrderID: fmt.Sprintf("ORD-%d", i), Status: "FILLED", Symbol: "RELIANCE", Quantity: 10})
	}

	recent := s.RecentUpdates(3)
	require.Len(t, recent, 3)
	require.Equal(t, "ORD-3", recent[0].OrderID)
	require.Equal(t, "ORD-5", recent[2].OrderID)
}

func TestServerStartShutdown(t *testing.T) {
	s := NewServer(Config{Port: 18923, Path: "/webhook/orders", Enabled: true}, zerolog.Nop())

	require.NoError(t, s.Start())
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://localhost:18923/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
