package eventhandler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/tradeforge/internal/events"
	"github.com/nitinkhare/tradeforge/internal/market"
	"github.com/nitinkhare/tradeforge/internal/storage"
)

type fakeStore struct {
	ordersByBrokerID map[string]storage.OrderRow
	snapshots        []storage.SnapshotRow
	startingBalance  map[string]decimal.Decimal
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ordersByBrokerID: make(map[string]storage.OrderRow),
		startingBalance:  make(map[string]decimal.Decimal),
	}
}

func (f *fakeStore) UpsertOrderByBrokerID(ctx context.Context, row storage.OrderRow) error {
	f.ordersByBrokerID[row.BrokerOrderID] = row
	return nil
}

func (f *fakeStore) UpdateOrderByBrokerID(ctx context.Context, brokerOrderID string, mutate func(*storage.OrderRow)) error {
	row, ok := f.ordersByBrokerID[brokerOrderID]
	if !ok {
		return storage.ErrRowNotFound
	}
	mutate(&row)
	f.ordersByBrokerID[brokerOrderID] = row
	return nil
}

func (f *fakeStore) InsertOrder(ctx context.Context, row storage.OrderRow) error { return nil }
func (f *fakeStore) ListOpenOrdersForDeployment(ctx context.Context, deploymentID string) ([]storage.OrderRow, error) {
	return nil, nil
}
func (f *fakeStore) GetBacktest(ctx context.Context, backtestID string) (storage.BacktestRow, error) {
	return storage.BacktestRow{}, nil
}
func (f *fakeStore) SetBacktestStatus(ctx context.Context, backtestID string, status storage.BacktestStatus, failureMessage *string) error {
	return nil
}
func (f *fakeStore) SetBacktestMetrics(ctx context.Context, backtestID string, metrics storage.BacktestMetrics) error {
	return nil
}
func (f *fakeStore) ListPendingBacktestIDs(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) ListPendingDeploymentIDs(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) GetDeployment(ctx context.Context, deploymentID string) (storage.DeploymentRow, error) {
	return storage.DeploymentRow{}, nil
}
func (f *fakeStore) SetDeploymentStatus(ctx context.Context, deploymentID string, status storage.DeploymentStatus, errMsg *string) error {
	return nil
}
func (f *fakeStore) InsertSnapshot(ctx context.Context, row storage.SnapshotRow) error {
	f.snapshots = append(f.snapshots, row)
	return nil
}
func (f *fakeStore) SetDeploymentStartingBalanceIfNull(ctx context.Context, deploymentID string, value decimal.Decimal) error {
	if _, ok := f.startingBalance[deploymentID]; !ok {
		f.startingBalance[deploymentID] = value
	}
	return nil
}
func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func TestHandleOrderPlaced_Idempotent(t *testing.T) {
	store := newFakeStore()
	h := New(nil, store, zerolog.Nop())

	evt := events.OrderEvent{
		Type: events.OrderEventPlaced, DeploymentID: "d1", OrderID: "X",
		Symbol: "AAPL", Side: string(market.SideBuy), OrderType: string(market.OrderTypeMarket),
		Quantity: decimal.NewFromInt(10), Status: string(market.StatusFilled),
	}
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	h.handleOrderEvent(context.Background(), payload)
	h.handleOrderEvent(context.Background(), payload)

	require.Len(t, store.ordersByBrokerID, 1)
	require.Equal(t, "X", store.ordersByBrokerID["X"].BrokerOrderID)
}

func TestHandleSnapshotCreated_SetsStartingBalanceOnce(t *testing.T) {
	store := newFakeStore()
	h := New(nil, store, zerolog.Nop())

	first := events.SnapshotEvent{DeploymentID: "d1", SnapshotType: events.SnapshotTypeBalance, Value: decimal.NewFromInt(50000)}
	second := events.SnapshotEvent{DeploymentID: "d1", SnapshotType: events.SnapshotTypeBalance, Value: decimal.NewFromInt(60000)}

	p1, _ := json.Marshal(first)
	p2, _ := json.Marshal(second)
	h.handleSnapshotEvent(context.Background(), p1)
	h.handleSnapshotEvent(context.Background(), p2)

	require.Len(t, store.snapshots, 2)
	require.True(t, decimal.NewFromInt(50000).Equal(store.startingBalance["d1"]))
}

func TestHandleOrderCancelled_FailedUpstreamNotApplied(t *testing.T) {
	store := newFakeStore()
	store.ordersByBrokerID["X"] = storage.OrderRow{BrokerOrderID: "X", Status: market.StatusSubmitted}
	h := New(nil, store, zerolog.Nop())

	evt := events.OrderEvent{Type: events.OrderEventCancelled, DeploymentID: "d1", OrderID: "X", Success: false}
	payload, _ := json.Marshal(evt)
	h.handleOrderEvent(context.Background(), payload)

	require.Equal(t, market.StatusSubmitted, store.ordersByBrokerID["X"].Status)
}
