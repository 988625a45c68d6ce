// Package market defines the canonical value types shared by every other
// component: candles, ticks, timeframes, order requests/responses and
// account state. Nothing in this package talks to a network or a database;
// it only carries data and enforces the invariants attached to it.
package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is a closed enumeration of bucket widths. The aggregator
// iterates every member for every tick, so adding one here means every
// candle consumer sees it too.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// AllTimeframes is the closed set the aggregator folds every tick into.
var AllTimeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1h, Timeframe4h, Timeframe1d,
}

// Seconds returns the bucket width in seconds, or 0 for an unknown timeframe.
func (tf Timeframe) Seconds() int64 {
	switch tf {
	case Timeframe1m:
		return 60
	case Timeframe5m:
		return 5 * 60
	case Timeframe15m:
		return 15 * 60
	case Timeframe30m:
		return 30 * 60
	case Timeframe1h:
		return 60 * 60
	case Timeframe4h:
		return 4 * 60 * 60
	case Timeframe1d:
		return 24 * 60 * 60
	default:
		return 0
	}
}

// Valid reports whether tf is a member of the closed set.
func (tf Timeframe) Valid() bool {
	return tf.Seconds() > 0
}

// BucketStart rounds a unix-seconds timestamp down to the start of the
// bucket it falls in: bucket_start = (ts / tf.seconds) * tf.seconds.
func (tf Timeframe) BucketStart(ts int64) int64 {
	sec := tf.Seconds()
	if sec <= 0 {
		return ts
	}
	return (ts / sec) * sec
}

// OHLCV is an aggregated price-and-volume summary over one bucket of one
// timeframe for one (source, symbol) pair. Zero value is not a valid candle.
type OHLCV struct {
	Source    string
	Symbol    string
	Timeframe Timeframe
	Timestamp int64 // start of bucket, UTC seconds
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CreatedAt time.Time
}

// Validate checks the invariants spec'd for every emitted candle:
// low <= open,close,high, high >= all, volume >= 0, timestamp aligned.
func (c OHLCV) Validate() error {
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) || c.Low.GreaterThan(c.High) {
		return fmt.Errorf("market: candle low %s exceeds open/close/high", c.Low)
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) || c.High.LessThan(c.Low) {
		return fmt.Errorf("market: candle high %s below open/close/low", c.High)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("market: candle volume %s is negative", c.Volume)
	}
	if c.Timeframe.Valid() && c.Timestamp%c.Timeframe.Seconds() != 0 {
		return fmt.Errorf("market: candle timestamp %d not aligned to %s", c.Timestamp, c.Timeframe)
	}
	return nil
}

// OHLCVKey is the uniqueness tuple used by the historical store and by
// subscriber-side dedup: (source, symbol, timeframe, timestamp).
type OHLCVKey struct {
	Source    string
	Symbol    string
	Timeframe Timeframe
	Timestamp int64
}

func (c OHLCV) Key() OHLCVKey {
	return OHLCVKey{Source: c.Source, Symbol: c.Symbol, Timeframe: c.Timeframe, Timestamp: c.Timestamp}
}

// MarketType distinguishes the instrument class a tick belongs to.
type MarketType string

const (
	MarketTypeEquity  MarketType = "equity"
	MarketTypeFuture  MarketType = "future"
	MarketTypeOption  MarketType = "option"
	MarketTypeCrypto  MarketType = "crypto"
)

// Tick is a single executed trade observation from a venue. Insert-only;
// uniqueness is on (source, key).
type Tick struct {
	Source     string
	Symbol     string
	MarketType MarketType
	Price      decimal.Decimal
	Size       decimal.Decimal
	Timestamp  int64
}

// Key deduplicates identical trades: "timestamp:price:size".
func (t Tick) Key() string {
	return fmt.Sprintf("%d:%s:%s", t.Timestamp, t.Price.String(), t.Size.String())
}

// OrderSide is buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType enumerates the order shapes the broker interface accepts.
// trailing_stop is a supplement beyond the plain source spec: see the
// simulated broker's trailingState (internal/broker/simulated.go) for its
// fill semantics.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// TimeInForce enumerates how long an order remains eligible to trigger.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
)

// OrderStatus values form a DAG: pending -> submitted -> {partially_filled ->
// filled | cancelled | rejected | expired}. filled/cancelled/rejected/expired
// are terminal.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusSubmitted       OrderStatus = "submitted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// Terminal reports whether a status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// statusRank gives the DAG a total order so CanTransition can reject
// backward moves; branches (submitted -> partially_filled vs submitted ->
// cancelled) share no rank relationship beyond "forward of submitted".
var statusRank = map[OrderStatus]int{
	StatusPending:         0,
	StatusSubmitted:       1,
	StatusPartiallyFilled: 2,
	StatusFilled:          3,
	StatusCancelled:       3,
	StatusRejected:        3,
	StatusExpired:         3,
}

// CanTransition reports whether moving from `from` to `to` is a legal
// forward step in the order-status DAG (never backward, never out of a
// terminal state).
func CanTransition(from, to OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	if !ok1 || !ok2 {
		return false
	}
	return tr > fr || (from == StatusSubmitted && to == StatusPartiallyFilled)
}

// OrderRequest describes an order the caller wants placed. Exactly one of
// Quantity or Notional must be set (> 0).
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Notional      decimal.Decimal
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	TrailPercent  *decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
}

// Validate enforces the type-specific shape rules from the data model.
func (r OrderRequest) Validate() error {
	hasQty := r.Quantity.IsPositive()
	hasNotional := r.Notional.IsPositive()
	if hasQty == hasNotional {
		return fmt.Errorf("market: order requires exactly one of quantity or notional")
	}
	switch r.Type {
	case OrderTypeMarket:
		if r.LimitPrice != nil || r.StopPrice != nil {
			return fmt.Errorf("market: market order must not carry limit/stop price")
		}
	case OrderTypeLimit:
		if r.LimitPrice == nil || !r.LimitPrice.IsPositive() {
			return fmt.Errorf("market: limit order requires limit_price > 0")
		}
	case OrderTypeStop:
		if r.StopPrice == nil || !r.StopPrice.IsPositive() {
			return fmt.Errorf("market: stop order requires stop_price > 0")
		}
	case OrderTypeStopLimit:
		if r.StopPrice == nil || !r.StopPrice.IsPositive() {
			return fmt.Errorf("market: stop_limit order requires stop_price > 0")
		}
		if r.LimitPrice == nil || !r.LimitPrice.IsPositive() {
			return fmt.Errorf("market: stop_limit order requires limit_price > 0")
		}
	case OrderTypeTrailingStop:
		if r.TrailPercent == nil || !r.TrailPercent.IsPositive() {
			return fmt.Errorf("market: trailing_stop order requires trail_percent > 0")
		}
	default:
		return fmt.Errorf("market: unknown order type %q", r.Type)
	}
	return nil
}

// OrderResponse is the broker's view of an order after submission.
type OrderResponse struct {
	OrderID        string
	ClientOrderID  string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	LimitPrice     *decimal.Decimal
	StopPrice      *decimal.Decimal
	Status         OrderStatus
	CreatedAt      time.Time
	FilledAt       *time.Time
	AvgFillPrice   *decimal.Decimal
	TimeInForce    TimeInForce
	BrokerMetadata map[string]string
}

// Account is cash plus derived equity. Equity is always computed at read
// time from cash and open positions; it is never itself mutated directly.
type Account struct {
	AccountID string
	Cash      decimal.Decimal
	Equity    decimal.Decimal
}

// SnapshotType distinguishes an equity sample from a cash/balance sample in
// account_snapshots.
type SnapshotType string

const (
	SnapshotTypeEquity  SnapshotType = "equity"
	SnapshotTypeBalance SnapshotType = "balance"
)
