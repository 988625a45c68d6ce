// Package storage defines the relational store contract for orders,
// backtests, strategy deployments and account snapshots, and its
// Postgres/pgx implementation. Grounded on the original internal/storage
// package shape (a single Store interface backed by a Postgres struct),
// filled in against the table shapes this platform needs rather than the
// original stock-picking-specific trade/signal/AI-score types (those
// belong to the LLM-driven strategy-scoring layer this substrate treats
// as an external collaborator).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradeforge/internal/market"
)

var (
	ErrRowNotFound         = errors.New("storage: row not found")
	ErrUniquenessViolation = errors.New("storage: uniqueness violation")
	ErrTransactionConflict = errors.New("storage: transaction conflict")
)

// OrderRow mirrors the orders table shape from the external interface.
type OrderRow struct {
	OrderID        string
	Symbol         string
	Side           market.OrderSide
	OrderType      market.OrderType
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	LimitPrice     *decimal.Decimal
	StopPrice      *decimal.Decimal
	AvgFillPrice   *decimal.Decimal
	Status         market.OrderStatus
	TimeInForce    market.TimeInForce
	SubmittedAt    time.Time
	FilledAt       *time.Time
	BrokerOrderID  string
	ClientOrderID  string
	BrokerMetadata map[string]string
	BacktestID     *string
	DeploymentID   *string
}

// DeploymentStatus enumerates strategy_deployments.status.
type DeploymentStatus string

const (
	DeploymentPending       DeploymentStatus = "pending"
	DeploymentRunning       DeploymentStatus = "running"
	DeploymentStopRequested DeploymentStatus = "stop_requested"
	DeploymentStopped       DeploymentStatus = "stopped"
	DeploymentError         DeploymentStatus = "error"
)

// DeploymentRow mirrors strategy_deployments.
type DeploymentRow struct {
	DeploymentID       string
	StrategyID         string
	BrokerConnectionID string
	Symbol             string
	Timeframe          market.Timeframe
	StartingBalance    *decimal.Decimal
	Status             DeploymentStatus
	ErrorMessage       *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	StoppedAt          *time.Time
}

// BacktestStatus enumerates backtests.status.
type BacktestStatus string

const (
	BacktestPending   BacktestStatus = "pending"
	BacktestRunning   BacktestStatus = "running"
	BacktestCompleted BacktestStatus = "completed"
	BacktestFailed    BacktestStatus = "failed"
)

// EquityPoint is one (timestamp, value) sample of an equity or cash curve.
type EquityPoint struct {
	Timestamp int64           `json:"ts"`
	Value     decimal.Decimal `json:"value"`
}

// BacktestMetrics is the metrics JSON blob for a completed backtest.
type BacktestMetrics struct {
	RealisedPnL    decimal.Decimal `json:"realised_pnl"`
	UnrealisedPnL  decimal.Decimal `json:"unrealised_pnl"`
	TotalReturnPct decimal.Decimal `json:"total_return_pct"`
	SharpeRatio    float64         `json:"sharpe_ratio"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	TotalTrades    int             `json:"total_trades"`
	EquityCurve    []EquityPoint   `json:"equity_curve"`
}

// BacktestRow mirrors the backtests table.
type BacktestRow struct {
	BacktestID      string
	StrategyID      string
	Symbol          string
	StartDate       time.Time
	EndDate         time.Time
	Timeframe       market.Timeframe
	StartingBalance decimal.Decimal
	Status          BacktestStatus
	FailureMessage  *string
	Metrics         *BacktestMetrics
	CreatedAt       time.Time
}

// SnapshotRow mirrors account_snapshots.
type SnapshotRow struct {
	SnapshotID   string
	DeploymentID string
	Timestamp    time.Time
	SnapshotType market.SnapshotType
	Value        decimal.Decimal
}

// Store is the full relational contract used by the event handler, backtest
// engine and deployment runtime.
type Store interface {
	// Orders. UpsertOrderByBrokerID implements the OrderPlaced mapping:
	// insert, or update status/filled_quantity/avg_fill_price on conflict.
	UpsertOrderByBrokerID(ctx context.Context, row OrderRow) error
	// UpdateOrderByBrokerID applies mutate to the row identified by
	// brokerOrderID; returns ErrRowNotFound if absent (OrderModified/
	// OrderCancelled handling, where a missing row is logged and skipped
	// rather than treated as fatal).
	UpdateOrderByBrokerID(ctx context.Context, brokerOrderID string, mutate func(*OrderRow)) error
	InsertOrder(ctx context.Context, row OrderRow) error
	ListOpenOrdersForDeployment(ctx context.Context, deploymentID string) ([]OrderRow, error)

	// Backtests.
	GetBacktest(ctx context.Context, backtestID string) (BacktestRow, error)
	SetBacktestStatus(ctx context.Context, backtestID string, status BacktestStatus, failureMessage *string) error
	SetBacktestMetrics(ctx context.Context, backtestID string, metrics BacktestMetrics) error
	// ListPendingBacktestIDs feeds the backend orchestrator's backtest
	// worker pool.
	ListPendingBacktestIDs(ctx context.Context, limit int) ([]string, error)

	// Deployments.
	GetDeployment(ctx context.Context, deploymentID string) (DeploymentRow, error)
	SetDeploymentStatus(ctx context.Context, deploymentID string, status DeploymentStatus, errMsg *string) error
	// ListPendingDeploymentIDs feeds the backend orchestrator's
	// deployment-runtime worker pool.
	ListPendingDeploymentIDs(ctx context.Context, limit int) ([]string, error)

	// Snapshots. InsertSnapshot additionally sets starting_balance on the
	// owning deployment the first time a balance snapshot lands, per the
	// data model's "first balance snapshot sets starting_balance" rule.
	InsertSnapshot(ctx context.Context, row SnapshotRow) error
	SetDeploymentStartingBalanceIfNull(ctx context.Context, deploymentID string, value decimal.Decimal) error

	Ping(ctx context.Context) error
}
