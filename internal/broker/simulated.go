package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradeforge/internal/market"
)

// Simulated is a deterministic broker over a fed candle stream with a
// pending-order matching engine. Structurally grounded on PaperBroker
// (mutex-guarded maps), with random UUID order IDs, but the fill algorithm
// itself follows original_source/src/lib/brokers/backtest.py's
// placement-time validation and per-candle trigger scan rather than
// PaperBroker's immediate-fill simplification.
type Simulated struct {
	mu sync.Mutex

	cash        decimal.Decimal
	openQty     decimal.Decimal // net long quantity currently held (no shorting)
	costBasis   decimal.Decimal // cost basis of openQty, weighted-average method
	realisedPnL decimal.Decimal // accumulated (sellPrice-avgCost)*qty over every sell fill

	current *market.OHLCV
	orders  map[string]*simOrder
	pending []string // order IDs in insertion order

	candleCh chan market.OHLCV
}

type simOrder struct {
	req   market.OrderRequest
	resp  market.OrderResponse
	trail trailingState
}

// trailingState tracks the best price seen since placement for a
// trailing_stop order, per the supplement resolving its fill semantics:
// ratchet the trigger toward the market on every candle, trigger like a
// stop once touched.
type trailingState struct {
	active      bool
	triggerPrice decimal.Decimal
}

func NewSimulated(startingBalance decimal.Decimal) *Simulated {
	return &Simulated{
		cash:   startingBalance,
		orders: make(map[string]*simOrder),
	}
}

func (s *Simulated) GetAccount(_ context.Context) (market.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return market.Account{AccountID: "simulated", Cash: s.cash, Equity: s.equityLocked()}, nil
}

func (s *Simulated) equityLocked() decimal.Decimal {
	if s.current == nil {
		return s.cash
	}
	return s.cash.Add(s.openQty.Mul(s.current.Close))
}

// Equity exposes the same computation without the ctx/error ceremony, used
// by the backtest engine's per-candle equity-curve sampling.
func (s *Simulated) Equity() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.equityLocked()
}

func (s *Simulated) Cash() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// SubmitOrder validates at placement time per the placement-time validation
// rules and either fills immediately (market), or adds to the pending set.
func (s *Simulated) SubmitOrder(_ context.Context, req market.OrderRequest) (market.OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return market.OrderResponse{}, fmt.Errorf("broker: %w: %v", ErrInvalidOrderParameters, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil && req.Type != market.OrderTypeLimit && req.Type != market.OrderTypeStop {
		return market.OrderResponse{}, ErrNoPriceData
	}
	pRef := decimal.Zero
	if s.current != nil {
		pRef = s.current.Close
	}

	if req.Type == market.OrderTypeLimit {
		if s.current == nil {
			return market.OrderResponse{}, ErrNoPriceData
		}
		if req.Side == market.SideBuy && req.LimitPrice.GreaterThanOrEqual(pRef) {
			return market.OrderResponse{}, fmt.Errorf("broker: %w: buy-limit at or above reference price", ErrInvalidOrderParameters)
		}
		if req.Side == market.SideSell && req.LimitPrice.LessThanOrEqual(pRef) {
			return market.OrderResponse{}, fmt.Errorf("broker: %w: sell-limit at or below reference price", ErrInvalidOrderParameters)
		}
	}
	if req.Type == market.OrderTypeStop {
		if s.current == nil {
			return market.OrderResponse{}, ErrNoPriceData
		}
		if req.Side == market.SideBuy && req.StopPrice.LessThanOrEqual(pRef) {
			return market.OrderResponse{}, fmt.Errorf("broker: %w: buy-stop must be above reference price", ErrInvalidOrderParameters)
		}
		if req.Side == market.SideSell && req.StopPrice.GreaterThanOrEqual(pRef) {
			return market.OrderResponse{}, fmt.Errorf("broker: %w: sell-stop must be below reference price", ErrInvalidOrderParameters)
		}
	}

	qty := req.Quantity
	if qty.IsZero() && req.Notional.IsPositive() && s.current != nil {
		qty = req.Notional.Div(pRef)
	}

	id := uuid.NewString()
	resp := market.OrderResponse{
		OrderID:       id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      qty,
		Status:        market.StatusSubmitted,
		CreatedAt:     time.Now().UTC(),
		TimeInForce:   req.TimeInForce,
	}
	so := &simOrder{req: req, resp: resp}

	if req.Type == market.OrderTypeMarket {
		if err := s.fillLocked(so, pRef); err != nil {
			so.resp.Status = market.StatusRejected
			s.orders[id] = so
			return so.resp, nil
		}
		s.orders[id] = so
		return so.resp, nil
	}

	if req.Type == market.OrderTypeTrailingStop {
		pct := req.TrailPercent.Div(decimal.NewFromInt(100))
		trigger := pRef.Mul(decimal.NewFromInt(1).Sub(pct))
		if req.Side == market.SideBuy {
			trigger = pRef.Mul(decimal.NewFromInt(1).Add(pct))
		}
		so.trail = trailingState{active: true, triggerPrice: trigger}
	}

	s.orders[id] = so
	s.pending = append(s.pending, id)
	return so.resp, nil
}

func (s *Simulated) ModifyOrder(_ context.Context, orderID string, newLimitPrice, newStopPrice *string) (market.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.orders[orderID]
	if !ok {
		return market.OrderResponse{}, ErrOrderNotFound
	}
	if so.resp.Status.Terminal() {
		return market.OrderResponse{}, fmt.Errorf("broker: %w: order already terminal", ErrInvalidOrderParameters)
	}
	if newLimitPrice != nil {
		p, err := decimal.NewFromString(*newLimitPrice)
		if err != nil {
			return market.OrderResponse{}, fmt.Errorf("broker: %w: %v", ErrInvalidOrderParameters, err)
		}
		so.resp.LimitPrice = &p
		so.req.LimitPrice = &p
	}
	if newStopPrice != nil {
		p, err := decimal.NewFromString(*newStopPrice)
		if err != nil {
			return market.OrderResponse{}, fmt.Errorf("broker: %w: %v", ErrInvalidOrderParameters, err)
		}
		so.resp.StopPrice = &p
		so.req.StopPrice = &p
	}
	return so.resp, nil
}

func (s *Simulated) CancelOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if so.resp.Status.Terminal() {
		return fmt.Errorf("broker: order %s already terminal", orderID)
	}
	so.resp.Status = market.StatusCancelled
	s.removePendingLocked(orderID)
	return nil
}

func (s *Simulated) GetOrderStatus(_ context.Context, orderID string) (market.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.orders[orderID]
	if !ok {
		return market.OrderResponse{}, ErrOrderNotFound
	}
	return so.resp, nil
}

// Feed is the candle loop entry point called by the backtest engine and
// deployment runner: set the current candle, then scan pending orders in
// insertion order applying the fill table, transitioning triggered orders
// and removing them from the pending set.
func (s *Simulated) Feed(c market.OHLCV) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := c
	s.current = &cc

	remaining := s.pending[:0:0]
	for _, id := range s.pending {
		so := s.orders[id]
		if so.resp.Status.Terminal() {
			continue
		}
		if so.req.Type == market.OrderTypeTrailingStop {
			s.ratchetTrailing(so, c)
		}
		if s.triggered(so, c) {
			triggerPrice := s.fillPriceFor(so, c)
			if err := s.fillLocked(so, triggerPrice); err != nil {
				so.resp.Status = market.StatusRejected
			}
			continue
		}
		remaining = append(remaining, id)
	}
	s.pending = remaining
}

func (s *Simulated) ratchetTrailing(so *simOrder, c market.OHLCV) {
	trail := so.req.TrailPercent
	if so.req.Side == market.SideSell {
		if c.Close.GreaterThan(so.trail.triggerPrice.Div(decimal.NewFromInt(1).Sub(trail.Div(decimal.NewFromInt(100))))) {
			so.trail.triggerPrice = c.Close.Mul(decimal.NewFromInt(1).Sub(trail.Div(decimal.NewFromInt(100))))
		}
	} else {
		if c.Close.LessThan(so.trail.triggerPrice.Div(decimal.NewFromInt(1).Add(trail.Div(decimal.NewFromInt(100))))) || so.trail.triggerPrice.IsZero() {
			so.trail.triggerPrice = c.Close.Mul(decimal.NewFromInt(1).Add(trail.Div(decimal.NewFromInt(100))))
		}
	}
}

func (s *Simulated) triggered(so *simOrder, c market.OHLCV) bool {
	switch so.req.Type {
	case market.OrderTypeLimit:
		if so.req.Side == market.SideBuy {
			return c.Low.LessThanOrEqual(*so.req.LimitPrice)
		}
		return c.High.GreaterThanOrEqual(*so.req.LimitPrice)
	case market.OrderTypeStop, market.OrderTypeStopLimit:
		if so.req.Side == market.SideBuy {
			return c.High.GreaterThanOrEqual(*so.req.StopPrice)
		}
		return c.Low.LessThanOrEqual(*so.req.StopPrice)
	case market.OrderTypeTrailingStop:
		if so.req.Side == market.SideSell {
			return c.Low.LessThanOrEqual(so.trail.triggerPrice)
		}
		return c.High.GreaterThanOrEqual(so.trail.triggerPrice)
	default:
		return false
	}
}

func (s *Simulated) fillPriceFor(so *simOrder, c market.OHLCV) decimal.Decimal {
	switch so.req.Type {
	case market.OrderTypeLimit:
		return *so.req.LimitPrice
	case market.OrderTypeStop:
		return *so.req.StopPrice
	case market.OrderTypeStopLimit:
		return *so.req.LimitPrice
	case market.OrderTypeTrailingStop:
		return so.trail.triggerPrice
	default:
		return c.Close
	}
}

// fillLocked executes the balance-discipline rule: buys require sufficient
// cash, sells require sufficient open quantity; a pending order that would
// overdraw transitions to rejected rather than cancelled. Must be called
// with s.mu held.
func (s *Simulated) fillLocked(so *simOrder, price decimal.Decimal) error {
	qty := so.resp.Quantity
	if qty.IsZero() && so.req.Notional.IsPositive() {
		qty = so.req.Notional.Div(price)
		so.resp.Quantity = qty
	}
	cost := qty.Mul(price)

	if so.req.Side == market.SideBuy {
		if s.cash.LessThan(cost) {
			return ErrInsufficientFunds
		}
		s.cash = s.cash.Sub(cost)
		s.openQty = s.openQty.Add(qty)
		s.costBasis = s.costBasis.Add(cost)
	} else {
		if s.openQty.LessThan(qty) {
			return ErrPositionShort
		}
		// Weighted-average cost method: realise (sellPrice-avgCost)*qty
		// against the current average cost of the open position, then
		// retire that same share of cost basis so AvgEntryPrice keeps
		// reflecting only what remains open.
		avgCost := s.costBasis.Div(s.openQty)
		s.realisedPnL = s.realisedPnL.Add(qty.Mul(price.Sub(avgCost)))
		s.costBasis = s.costBasis.Sub(qty.Mul(avgCost))
		s.openQty = s.openQty.Sub(qty)
		s.cash = s.cash.Add(cost)
	}

	now := time.Now().UTC()
	so.resp.Status = market.StatusFilled
	so.resp.FilledQuantity = qty
	so.resp.FilledAt = &now
	avg := price
	so.resp.AvgFillPrice = &avg
	return nil
}

func (s *Simulated) removePendingLocked(orderID string) {
	for i, id := range s.pending {
		if id == orderID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// AvgEntryPrice returns the weighted-average cost of the currently open
// position, used by the backtest engine's unrealised_pnl calculation.
func (s *Simulated) AvgEntryPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openQty.IsZero() {
		return decimal.Zero
	}
	return s.costBasis.Div(s.openQty)
}

func (s *Simulated) NetOpenQty() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openQty
}

// RealisedPnL returns the P&L booked against matched sell fills so far:
// for each sell, (sellPrice-avgCostAtFillTime)*qty against the weighted
// average cost of the position then open. A position that is never sold
// contributes nothing here, however far the mark has moved.
func (s *Simulated) RealisedPnL() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realisedPnL
}

// StreamCandles is not used by the backtest driver (which calls Feed
// directly in lock-step); it exists to satisfy the Broker interface for
// callers that want a uniform streaming contract across variants.
func (s *Simulated) StreamCandles(ctx context.Context, symbol string, tf market.Timeframe) (<-chan market.OHLCV, error) {
	ch := make(chan market.OHLCV)
	close(ch)
	return ch, nil
}
