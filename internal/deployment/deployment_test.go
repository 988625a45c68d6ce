package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/tradeforge/internal/broker"
	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/events"
	"github.com/nitinkhare/tradeforge/internal/market"
	"github.com/nitinkhare/tradeforge/internal/storage"
	"github.com/nitinkhare/tradeforge/internal/strategy"
)

type fakeStore struct {
	dep        storage.DeploymentRow
	status     storage.DeploymentStatus
	errMsg     *string
	openOrders []storage.OrderRow
	reconciled []string
}

func (f *fakeStore) UpsertOrderByBrokerID(ctx context.Context, row storage.OrderRow) error { return nil }
func (f *fakeStore) UpdateOrderByBrokerID(ctx context.Context, brokerOrderID string, mutate func(*storage.OrderRow)) error {
	for i := range f.openOrders {
		if f.openOrders[i].BrokerOrderID == brokerOrderID {
			mutate(&f.openOrders[i])
			f.reconciled = append(f.reconciled, brokerOrderID)
			return nil
		}
	}
	return storage.ErrRowNotFound
}
func (f *fakeStore) InsertOrder(ctx context.Context, row storage.OrderRow) error { return nil }
func (f *fakeStore) ListOpenOrdersForDeployment(ctx context.Context, deploymentID string) ([]storage.OrderRow, error) {
	return f.openOrders, nil
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
	return f.dep, nil
}
func (f *fakeStore) SetDeploymentStatus(ctx context.Context, deploymentID string, status storage.DeploymentStatus, errMsg *string) error {
	f.status = status
	f.errMsg = errMsg
	return nil
}
func (f *fakeStore) InsertSnapshot(ctx context.Context, row storage.SnapshotRow) error { return nil }
func (f *fakeStore) SetDeploymentStartingBalanceIfNull(ctx context.Context, deploymentID string, value decimal.Decimal) error {
	return nil
}
func (f *fakeStore) Ping(ctx context.Context) error { return nil }

// fakeBus is an in-process pub/sub good enough to drive the stop-event
// race: Publish fans out to every live Subscribe channel.
type fakeBus struct {
	subs []chan bus.Message
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	for _, ch := range f.subs {
		ch <- bus.Message{Channel: channel, Payload: payload}
	}
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channels ...string) (<-chan bus.Message, func() error, error) {
	ch := make(chan bus.Message, 4)
	f.subs = append(f.subs, ch)
	return ch, func() error { return nil }, nil
}

func (f *fakeBus) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (f *fakeBus) Get(ctx context.Context, key string) (string, bool, error)           { return "", false, nil }
func (f *fakeBus) ScanKeys(ctx context.Context, pattern string) ([]string, error)      { return nil, nil }

// neverEndingBroker streams candles forever until ctx is cancelled, so the
// only way runStrategy finishes first is if the stop listener cancels it.
type neverEndingBroker struct{}

func (neverEndingBroker) GetAccount(ctx context.Context) (market.Account, error) {
	return market.Account{}, nil
}
func (neverEndingBroker) SubmitOrder(ctx context.Context, req market.OrderRequest) (market.OrderResponse, error) {
	return market.OrderResponse{}, nil
}
func (neverEndingBroker) ModifyOrder(ctx context.Context, orderID string, newLimitPrice, newStopPrice *string) (market.OrderResponse, error) {
	return market.OrderResponse{}, nil
}
func (neverEndingBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (neverEndingBroker) GetOrderStatus(ctx context.Context, orderID string) (market.OrderResponse, error) {
	return market.OrderResponse{}, nil
}
func (neverEndingBroker) StreamCandles(ctx context.Context, symbol string, tf market.Timeframe) (<-chan market.OHLCV, error) {
	ch := make(chan market.OHLCV)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

var _ broker.Broker = neverEndingBroker{}

// statusOnlyBroker answers GetOrderStatus from a canned map keyed by
// broker_order_id and otherwise behaves like neverEndingBroker; it exists
// to drive reconciliation without needing a live venue connection.
type statusOnlyBroker struct {
	neverEndingBroker
	statuses map[string]market.OrderResponse
}

func (s statusOnlyBroker) GetOrderStatus(ctx context.Context, orderID string) (market.OrderResponse, error) {
	resp, ok := s.statuses[orderID]
	if !ok {
		return market.OrderResponse{}, errors.New("unknown order")
	}
	return resp, nil
}

var _ broker.Broker = statusOnlyBroker{}

func TestReconcile_UpdatesStaleOrderFromBrokerStatus(t *testing.T) {
	store := &fakeStore{openOrders: []storage.OrderRow{
		{BrokerOrderID: "bo-1", Status: market.StatusPending, FilledQuantity: decimal.Zero},
		{BrokerOrderID: "bo-2", Status: market.StatusFilled, FilledQuantity: decimal.NewFromInt(10)},
	}}
	filledAt := time.Now()
	b := statusOnlyBroker{statuses: map[string]market.OrderResponse{
		"bo-1": {Status: market.StatusFilled, FilledQuantity: decimal.NewFromInt(5), FilledAt: &filledAt},
		"bo-2": {Status: market.StatusFilled, FilledQuantity: decimal.NewFromInt(10)},
	}}
	runner := NewRunner(store, &fakeBus{}, strategy.NewRegistry(), nil, zerolog.Nop())

	err := runner.reconcile(context.Background(), "d1", b)
	require.NoError(t, err)

	require.Equal(t, []string{"bo-1"}, store.reconciled)
	require.Equal(t, market.StatusFilled, store.openOrders[0].Status)
	require.True(t, decimal.NewFromInt(5).Equal(store.openOrders[0].FilledQuantity))
	require.Equal(t, market.StatusFilled, store.openOrders[1].Status, "already-agreeing row should not be touched")
}

func TestReconcile_SkipsOrderOnLookupFailure(t *testing.T) {
	store := &fakeStore{openOrders: []storage.OrderRow{
		{BrokerOrderID: "unknown-to-broker", Status: market.StatusPending},
	}}
	b := statusOnlyBroker{statuses: map[string]market.OrderResponse{}}
	runner := NewRunner(store, &fakeBus{}, strategy.NewRegistry(), nil, zerolog.Nop())

	err := runner.reconcile(context.Background(), "d1", b)
	require.NoError(t, err)
	require.Empty(t, store.reconciled)
}

func TestRunner_StopEventCancelsStrategyTask(t *testing.T) {
	store := &fakeStore{dep: storage.DeploymentRow{
		DeploymentID: "d1", StrategyID: "s1", BrokerConnectionID: "b1",
		Symbol: "AAPL", Timeframe: market.Timeframe1m, Status: storage.DeploymentPending,
	}}
	b := &fakeBus{}
	registry := strategy.NewRegistry()
	prog, err := strategy.Compile([]byte(`{"rules":[]}`))
	require.NoError(t, err)
	registry.Register("s1", prog)

	runner := NewRunner(store, b, registry, func(ctx context.Context, connID string) (broker.Broker, error) {
		return neverEndingBroker{}, nil
	}, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background(), "d1") }()

	// Give the runner a moment to subscribe before publishing the stop.
	time.Sleep(20 * time.Millisecond)
	stopEvt := events.DeploymentEvent{Type: events.DeploymentEventStop, DeploymentID: "d1"}
	payload, _ := json.Marshal(stopEvt)
	require.NoError(t, b.Publish(context.Background(), events.ChannelDeploymentEvents, payload))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("deployment did not stop within 5s")
	}

	require.Equal(t, storage.DeploymentStopped, store.status)
}
