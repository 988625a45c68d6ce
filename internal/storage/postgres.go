// postgres.go is the pgx-backed Store implementation, filling in the
// original connection-string stub with real queries against the
// orders / backtests / strategy_deployments / account_snapshots tables.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradeforge/internal/market"
)

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pooled connection using the same pgx driver the
// teacher's scripts/run_migration.go establishes for this codebase.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("postgres store: connection string is required")
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (ps *PostgresStore) Close() {
	ps.pool.Close()
}

func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

func (ps *PostgresStore) UpsertOrderByBrokerID(ctx context.Context, row OrderRow) error {
	const q = `
		INSERT INTO orders (order_id, symbol, side, order_type, quantity, filled_quantity,
			limit_price, stop_price, avg_fill_price, status, time_in_force, submitted_at,
			filled_at, broker_order_id, client_order_id, broker_metadata, backtest_id, deployment_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (broker_order_id) DO UPDATE SET
			status=$10, filled_quantity=$6, avg_fill_price=$9, filled_at=$13`
	meta, err := json.Marshal(row.BrokerMetadata)
	if err != nil {
		return fmt.Errorf("postgres store: marshal broker metadata: %w", err)
	}
	_, err = ps.pool.Exec(ctx, q,
		row.OrderID, row.Symbol, string(row.Side), string(row.OrderType), row.Quantity, row.FilledQuantity,
		row.LimitPrice, row.StopPrice, row.AvgFillPrice, string(row.Status), string(row.TimeInForce), row.SubmittedAt,
		row.FilledAt, row.BrokerOrderID, row.ClientOrderID, meta, row.BacktestID, row.DeploymentID)
	if err != nil {
		return fmt.Errorf("postgres store: upsert order: %w", err)
	}
	return nil
}

func (ps *PostgresStore) InsertOrder(ctx context.Context, row OrderRow) error {
	return ps.UpsertOrderByBrokerID(ctx, row)
}

func (ps *PostgresStore) UpdateOrderByBrokerID(ctx context.Context, brokerOrderID string, mutate func(*OrderRow)) error {
	return pgx.BeginFunc(ctx, ps.pool, func(tx pgx.Tx) error {
		row, err := scanOrderRow(tx.QueryRow(ctx, `
			SELECT order_id, symbol, side, order_type, quantity, filled_quantity,
				limit_price, stop_price, avg_fill_price, status, time_in_force, submitted_at,
				filled_at, broker_order_id, client_order_id, broker_metadata, backtest_id, deployment_id
			FROM orders WHERE broker_order_id=$1 FOR UPDATE`, brokerOrderID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRowNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres store: load order for update: %w", err)
		}
		mutate(&row)
		meta, err := json.Marshal(row.BrokerMetadata)
		if err != nil {
			return fmt.Errorf("postgres store: marshal broker metadata: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE orders SET status=$1, filled_quantity=$2, avg_fill_price=$3, filled_at=$4,
				limit_price=$5, stop_price=$6, broker_metadata=$7
			WHERE broker_order_id=$8`,
			string(row.Status), row.FilledQuantity, row.AvgFillPrice, row.FilledAt,
			row.LimitPrice, row.StopPrice, meta, brokerOrderID)
		if err != nil {
			return fmt.Errorf("postgres store: update order: %w", err)
		}
		return nil
	})
}

func (ps *PostgresStore) ListOpenOrdersForDeployment(ctx context.Context, deploymentID string) ([]OrderRow, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT order_id, symbol, side, order_type, quantity, filled_quantity,
			limit_price, stop_price, avg_fill_price, status, time_in_force, submitted_at,
			filled_at, broker_order_id, client_order_id, broker_metadata, backtest_id, deployment_id
		FROM orders
		WHERE deployment_id=$1 AND status NOT IN ('filled','cancelled','rejected','expired')`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list open orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		row, err := scanOrderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan order: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderRow(r rowScanner) (OrderRow, error) {
	var row OrderRow
	var side, otype, status, tif string
	var metaRaw []byte
	err := r.Scan(&row.OrderID, &row.Symbol, &side, &otype, &row.Quantity, &row.FilledQuantity,
		&row.LimitPrice, &row.StopPrice, &row.AvgFillPrice, &status, &tif, &row.SubmittedAt,
		&row.FilledAt, &row.BrokerOrderID, &row.ClientOrderID, &metaRaw, &row.BacktestID, &row.DeploymentID)
	if err != nil {
		return OrderRow{}, err
	}
	row.Side = market.OrderSide(side)
	row.OrderType = market.OrderType(otype)
	row.Status = market.OrderStatus(status)
	row.TimeInForce = market.TimeInForce(tif)
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &row.BrokerMetadata)
	}
	return row, nil
}

func (ps *PostgresStore) GetBacktest(ctx context.Context, backtestID string) (BacktestRow, error) {
	var row BacktestRow
	var tf, status string
	var metricsRaw []byte
	err := ps.pool.QueryRow(ctx, `
		SELECT backtest_id, strategy_id, symbol, start_date, end_date, timeframe,
			starting_balance, status, metrics, created_at
		FROM backtests WHERE backtest_id=$1`, backtestID).
		Scan(&row.BacktestID, &row.StrategyID, &row.Symbol, &row.StartDate, &row.EndDate, &tf,
			&row.StartingBalance, &status, &metricsRaw, &row.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BacktestRow{}, ErrRowNotFound
	}
	if err != nil {
		return BacktestRow{}, fmt.Errorf("postgres store: get backtest: %w", err)
	}
	row.Timeframe = market.Timeframe(tf)
	row.Status = BacktestStatus(status)
	if len(metricsRaw) > 0 {
		var m BacktestMetrics
		if err := json.Unmarshal(metricsRaw, &m); err == nil {
			row.Metrics = &m
		}
	}
	return row, nil
}

func (ps *PostgresStore) SetBacktestStatus(ctx context.Context, backtestID string, status BacktestStatus, failureMessage *string) error {
	_, err := ps.pool.Exec(ctx, `UPDATE backtests SET status=$1, failure_message=$2 WHERE backtest_id=$3`,
		string(status), failureMessage, backtestID)
	if err != nil {
		return fmt.Errorf("postgres store: set backtest status: %w", err)
	}
	return nil
}

func (ps *PostgresStore) SetBacktestMetrics(ctx context.Context, backtestID string, metrics BacktestMetrics) error {
	raw, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("postgres store: marshal metrics: %w", err)
	}
	_, err = ps.pool.Exec(ctx, `UPDATE backtests SET metrics=$1 WHERE backtest_id=$2`, raw, backtestID)
	if err != nil {
		return fmt.Errorf("postgres store: set backtest metrics: %w", err)
	}
	return nil
}

// ListPendingBacktestIDs returns up to limit backtest_ids still in
// "pending" status, oldest first, for the backend orchestrator's worker
// pool to claim.
func (ps *PostgresStore) ListPendingBacktestIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT backtest_id FROM backtests WHERE status=$1 ORDER BY created_at ASC LIMIT $2`,
		string(BacktestPending), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list pending backtests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres store: scan pending backtest id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListPendingDeploymentIDs returns up to limit deployment_ids still in
// "pending" status, oldest first.
func (ps *PostgresStore) ListPendingDeploymentIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT deployment_id FROM strategy_deployments WHERE status=$1 ORDER BY created_at ASC LIMIT $2`,
		string(DeploymentPending), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list pending deployments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres store: scan pending deployment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (ps *PostgresStore) GetDeployment(ctx context.Context, deploymentID string) (DeploymentRow, error) {
	var row DeploymentRow
	var tf, status string
	err := ps.pool.QueryRow(ctx, `
		SELECT deployment_id, strategy_id, broker_connection_id, symbol, timeframe,
			starting_balance, status, error_message, created_at, updated_at, stopped_at
		FROM strategy_deployments WHERE deployment_id=$1`, deploymentID).
		Scan(&row.DeploymentID, &row.StrategyID, &row.BrokerConnectionID, &row.Symbol, &tf,
			&row.StartingBalance, &status, &row.ErrorMessage, &row.CreatedAt, &row.UpdatedAt, &row.StoppedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeploymentRow{}, ErrRowNotFound
	}
	if err != nil {
		return DeploymentRow{}, fmt.Errorf("postgres store: get deployment: %w", err)
	}
	row.Timeframe = market.Timeframe(tf)
	row.Status = DeploymentStatus(status)
	return row, nil
}

func (ps *PostgresStore) SetDeploymentStatus(ctx context.Context, deploymentID string, status DeploymentStatus, errMsg *string) error {
	var stoppedAt *time.Time
	if status == DeploymentStopped || status == DeploymentError {
		now := time.Now().UTC()
		stoppedAt = &now
	}
	_, err := ps.pool.Exec(ctx, `
		UPDATE strategy_deployments SET status=$1, error_message=$2, updated_at=now(), stopped_at=COALESCE($3, stopped_at)
		WHERE deployment_id=$4`, string(status), errMsg, stoppedAt, deploymentID)
	if err != nil {
		return fmt.Errorf("postgres store: set deployment status: %w", err)
	}
	return nil
}

func (ps *PostgresStore) InsertSnapshot(ctx context.Context, row SnapshotRow) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO account_snapshots (snapshot_id, deployment_id, timestamp, snapshot_type, value)
		VALUES ($1,$2,$3,$4,$5)`,
		row.SnapshotID, row.DeploymentID, row.Timestamp, string(row.SnapshotType), row.Value)
	if err != nil {
		return fmt.Errorf("postgres store: insert snapshot: %w", err)
	}
	if row.SnapshotType == market.SnapshotTypeBalance {
		if err := ps.SetDeploymentStartingBalanceIfNull(ctx, row.DeploymentID, row.Value); err != nil {
			return err
		}
	}
	return nil
}

func (ps *PostgresStore) SetDeploymentStartingBalanceIfNull(ctx context.Context, deploymentID string, value decimal.Decimal) error {
	_, err := ps.pool.Exec(ctx, `
		UPDATE strategy_deployments SET starting_balance=$1
		WHERE deployment_id=$2 AND starting_balance IS NULL`, value, deploymentID)
	if err != nil {
		return fmt.Errorf("postgres store: set starting balance: %w", err)
	}
	return nil
}
