// Package events defines the JSON payload shapes carried on every bus
// channel named in the external interface: ticks.raw, candles.close,
// orders.events, snapshots.events and deployments.events.
package events

import "github.com/shopspring/decimal"

// Channel names as published/subscribed on the bus.
const (
	ChannelTicksRaw         = "ticks.raw"
	ChannelCandlesClose     = "candles.close"
	ChannelOrdersEvents     = "orders.events"
	ChannelSnapshotsEvents  = "snapshots.events"
	ChannelDeploymentEvents = "deployments.events"
)

// Tick is the payload published on ticks.raw.
type Tick struct {
	Broker     string          `json:"broker"`
	MarketType string          `json:"market_type"`
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Timestamp  int64           `json:"timestamp"`
}

// CandleClose is the payload published on candles.close.
type CandleClose struct {
	Broker    string          `json:"broker"`
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Timestamp string          `json:"timestamp"` // ISO-8601
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// OrderEventType enumerates the order-lifecycle event types carried on
// orders.events.
type OrderEventType string

const (
	OrderEventPlaced    OrderEventType = "order_placed"
	OrderEventCancelled OrderEventType = "order_cancelled"
	OrderEventModified  OrderEventType = "order_modified"
)

// OrderEvent is the envelope published on orders.events. Fields not
// relevant to Type are left zero-valued; consumers switch on Type.
type OrderEvent struct {
	ID             string          `json:"id"`
	Type           OrderEventType  `json:"type"`
	DeploymentID   string          `json:"deployment_id"`
	Timestamp      int64           `json:"timestamp"`
	OrderID        string          `json:"order_id,omitempty"`
	ClientOrderID  string          `json:"client_order_id,omitempty"`
	Symbol         string          `json:"symbol,omitempty"`
	Side           string          `json:"side,omitempty"`
	OrderType      string          `json:"order_type,omitempty"`
	Quantity       decimal.Decimal `json:"quantity,omitempty"`
	FilledQuantity decimal.Decimal `json:"filled_quantity,omitempty"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	AvgFillPrice   *decimal.Decimal `json:"avg_fill_price,omitempty"`
	Status         string          `json:"status,omitempty"`
	TimeInForce    string          `json:"time_in_force,omitempty"`
	Success        bool            `json:"success,omitempty"`
}

// SnapshotType distinguishes equity vs balance snapshots.
type SnapshotType string

const (
	SnapshotTypeEquity  SnapshotType = "equity"
	SnapshotTypeBalance SnapshotType = "balance"
)

// SnapshotEvent is the payload published on snapshots.events.
type SnapshotEvent struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"` // always "snapshot_created"
	DeploymentID string          `json:"deployment_id"`
	SnapshotType SnapshotType    `json:"snapshot_type"`
	Value        decimal.Decimal `json:"value"`
	Timestamp    int64           `json:"timestamp"`
}

// DeploymentEventType enumerates deployments.events types.
type DeploymentEventType string

const (
	DeploymentEventStop          DeploymentEventType = "stop"
	DeploymentEventStrategyError DeploymentEventType = "strategy_error"
)

// DeploymentEvent is the payload published on deployments.events.
type DeploymentEvent struct {
	ID           string              `json:"id"`
	Type         DeploymentEventType `json:"type"`
	DeploymentID string              `json:"deployment_id"`
	Timestamp    int64               `json:"timestamp"`
	Message      string              `json:"message,omitempty"`
}
