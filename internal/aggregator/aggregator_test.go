package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/market"
)

// fakeStore records every inserted candle in order, with no failure
// injection needed for these tests.
type fakeStore struct {
	mu      sync.Mutex
	candles []market.OHLCV
}

func (f *fakeStore) InsertCandle(ctx context.Context, c market.OHLCV) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles = append(f.candles, c)
	return nil
}

func (f *fakeStore) snapshot() []market.OHLCV {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]market.OHLCV, len(f.candles))
	copy(out, f.candles)
	return out
}

// fakeBus is an in-memory bus.Bus good enough for recovery cache and
// publish; Subscribe is unused by the aggregator and returns immediately.
type fakeBus struct {
	mu        sync.Mutex
	cache     map[string]string
	published []bus.Message
}

func newFakeBus() *fakeBus {
	return &fakeBus{cache: make(map[string]string)}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, bus.Message{Channel: channel, Payload: payload})
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channels ...string) (<-chan bus.Message, func() error, error) {
	ch := make(chan bus.Message)
	close(ch)
	return ch, func() error { return nil }, nil
}

func (b *fakeBus) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache[key] = value
	return nil
}

func (b *fakeBus) Get(ctx context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.cache[key]
	return v, ok, nil
}

func (b *fakeBus) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}

func tick(price string, ts int64) market.Tick {
	p, _ := decimal.NewFromString(price)
	return market.Tick{Source: "alpaca", Symbol: "AAPL", MarketType: market.MarketTypeEquity, Price: p, Size: decimal.NewFromInt(1), Timestamp: ts}
}

func TestProcess_EmitsCandleOnBucketBoundaryCrossing(t *testing.T) {
	store := &fakeStore{}
	b := newFakeBus()
	agg := New(store, b, zerolog.Nop())
	ctx := context.Background()

	agg.Process(ctx, tick("100", 0))
	agg.Process(ctx, tick("105", 30))
	agg.Process(ctx, tick("95", 59))
	agg.Process(ctx, tick("110", 60)) // crosses into the next 1m bucket

	var oneMinClosed []market.OHLCV
	for _, c := range store.snapshot() {
		if c.Timeframe == market.Timeframe1m {
			oneMinClosed = append(oneMinClosed, c)
		}
	}
	require.Len(t, oneMinClosed, 1)
	closed := oneMinClosed[0]
	require.True(t, closed.Open.Equal(decimal.NewFromInt(100)))
	require.True(t, closed.High.Equal(decimal.NewFromInt(105)))
	require.True(t, closed.Low.Equal(decimal.NewFromInt(95)))
	require.True(t, closed.Close.Equal(decimal.NewFromInt(95)))
	require.EqualValues(t, 0, closed.Timestamp)
}

func TestProcess_OHLCInvariantsHoldForEveryEmittedCandle(t *testing.T) {
	store := &fakeStore{}
	b := newFakeBus()
	agg := New(store, b, zerolog.Nop())
	ctx := context.Background()

	prices := []string{"100", "102", "98", "101", "99", "103"}
	for i, p := range prices {
		agg.Process(ctx, tick(p, int64(i*10)))
	}
	agg.Process(ctx, tick("100", 60)) // force the 1m bucket closed

	for _, c := range store.snapshot() {
		require.True(t, c.Low.LessThanOrEqual(c.Open), "low <= open")
		require.True(t, c.Low.LessThanOrEqual(c.Close), "low <= close")
		require.True(t, c.High.GreaterThanOrEqual(c.Open), "high >= open")
		require.True(t, c.High.GreaterThanOrEqual(c.Close), "high >= close")
		require.True(t, c.Volume.GreaterThanOrEqual(decimal.Zero), "volume >= 0")
		require.Zero(t, c.Timestamp%c.Timeframe.Seconds(), "timestamp aligned to bucket")
	}
}

func TestProcess_IdenticalTickStreamsProduceByteIdenticalCandles(t *testing.T) {
	ticks := []market.Tick{tick("100", 0), tick("101", 20), tick("99", 45), tick("102", 61)}

	run := func() []market.OHLCV {
		store := &fakeStore{}
		b := newFakeBus()
		agg := New(store, b, zerolog.Nop())
		ctx := context.Background()
		for _, tk := range ticks {
			agg.Process(ctx, tk)
		}
		var oneMin []market.OHLCV
		for _, c := range store.snapshot() {
			if c.Timeframe == market.Timeframe1m {
				oneMin = append(oneMin, c)
			}
		}
		return oneMin
	}

	first := run()
	second := run()
	require.Equal(t, first, second)
}

func TestProcess_LateTickIsDroppedWithoutMutatingClosedCandle(t *testing.T) {
	store := &fakeStore{}
	b := newFakeBus()
	agg := New(store, b, zerolog.Nop())
	ctx := context.Background()

	agg.Process(ctx, tick("100", 0))
	agg.Process(ctx, tick("110", 65)) // closes the first 1m bucket

	before := agg.LatestCandle("alpaca", "AAPL", market.Timeframe1m)
	agg.Process(ctx, tick("999", 5)) // late tick for the closed bucket
	after := agg.LatestCandle("alpaca", "AAPL", market.Timeframe1m)

	require.Equal(t, before, after)
}
