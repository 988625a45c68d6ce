package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/tradeforge/internal/broker"
	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/config"
	"github.com/nitinkhare/tradeforge/internal/storage"
	"github.com/nitinkhare/tradeforge/internal/strategy"
)

func TestWorkerPool_BrokerFactory_UnknownConnectionIDErrors(t *testing.T) {
	p := &workerPool{cfg: &config.Config{Brokers: map[string]config.BrokerConfig{}}, bus: &fakeBus{}}
	_, err := p.brokerFactory()(context.Background(), "missing")
	require.Error(t, err)
}

func TestWorkerPool_BrokerFactory_AttachesBusToLiveBroker(t *testing.T) {
	p := &workerPool{
		cfg: &config.Config{Brokers: map[string]config.BrokerConfig{
			"acme": {Type: "live", BaseURL: "https://example.test", AccessToken: "token"},
		}},
		bus: &fakeBus{},
	}
	b, err := p.brokerFactory()(context.Background(), "acme")
	require.NoError(t, err)
	_, ok := b.(*broker.Live)
	require.True(t, ok)
}

type fakeBus struct{}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (b *fakeBus) Subscribe(ctx context.Context, channels ...string) (<-chan bus.Message, func() error, error) {
	ch := make(chan bus.Message)
	close(ch)
	return ch, func() error { return nil }, nil
}
func (b *fakeBus) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (b *fakeBus) Get(ctx context.Context, key string) (string, bool, error)           { return "", false, nil }
func (b *fakeBus) ScanKeys(ctx context.Context, pattern string) ([]string, error)      { return nil, nil }

// fakeStore implements storage.Store in memory for the runBacktest tests:
// GetBacktest returns a row naming an unregistered strategy, and
// SetBacktestStatus records every status it is given.
type fakeStore struct {
	pendingBacktests   []string
	pendingDeployments []string
	statusCalls        []storage.BacktestStatus
}

func (s *fakeStore) UpsertOrderByBrokerID(ctx context.Context, row storage.OrderRow) error { return nil }
func (s *fakeStore) UpdateOrderByBrokerID(ctx context.Context, brokerOrderID string, mutate func(*storage.OrderRow)) error {
	return nil
}
func (s *fakeStore) InsertOrder(ctx context.Context, row storage.OrderRow) error { return nil }
func (s *fakeStore) ListOpenOrdersForDeployment(ctx context.Context, deploymentID string) ([]storage.OrderRow, error) {
	return nil, nil
}
func (s *fakeStore) GetBacktest(ctx context.Context, backtestID string) (storage.BacktestRow, error) {
	return storage.BacktestRow{BacktestID: backtestID, StrategyID: "missing-strategy", StartingBalance: decimal.NewFromInt(1000)}, nil
}
func (s *fakeStore) SetBacktestStatus(ctx context.Context, backtestID string, status storage.BacktestStatus, failureMessage *string) error {
	s.statusCalls = append(s.statusCalls, status)
	return nil
}
func (s *fakeStore) SetBacktestMetrics(ctx context.Context, backtestID string, metrics storage.BacktestMetrics) error {
	return nil
}
func (s *fakeStore) ListPendingBacktestIDs(ctx context.Context, limit int) ([]string, error) {
	return s.pendingBacktests, nil
}
func (s *fakeStore) ListPendingDeploymentIDs(ctx context.Context, limit int) ([]string, error) {
	return s.pendingDeployments, nil
}
func (s *fakeStore) GetDeployment(ctx context.Context, deploymentID string) (storage.DeploymentRow, error) {
	return storage.DeploymentRow{}, storage.ErrRowNotFound
}
func (s *fakeStore) SetDeploymentStatus(ctx context.Context, deploymentID string, status storage.DeploymentStatus, errMsg *string) error {
	return nil
}
func (s *fakeStore) InsertSnapshot(ctx context.Context, row storage.SnapshotRow) error { return nil }
func (s *fakeStore) SetDeploymentStartingBalanceIfNull(ctx context.Context, deploymentID string, value decimal.Decimal) error {
	return nil
}
func (s *fakeStore) Ping(ctx context.Context) error { return nil }

func TestWorkerPool_RunBacktest_SkipsWhenNoHistoricalSourceConfigured(t *testing.T) {
	store := &fakeStore{}
	p := &workerPool{store: store, cfg: &config.Config{}, log: zerolog.Nop()}

	p.runBacktest(context.Background(), "bt-1")

	require.Empty(t, store.statusCalls)
}

func TestWorkerPool_RunBacktest_FailsOnUnknownStrategy(t *testing.T) {
	store := &fakeStore{}
	p := &workerPool{
		store:    store,
		cfg:      &config.Config{HistoricalSource: "alpaca"},
		log:      zerolog.Nop(),
		programs: strategy.NewRegistry(),
	}

	p.runBacktest(context.Background(), "bt-1")

	require.Contains(t, store.statusCalls, storage.BacktestFailed)
}
