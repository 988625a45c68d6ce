package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/tradeforge/internal/aggregator"
	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/events"
	"github.com/nitinkhare/tradeforge/internal/market"
)

func TestDecoderFor_UnknownBrokerTypeErrors(t *testing.T) {
	_, _, err := decoderFor("unknown-venue", market.MarketTypeEquity, "https://example.test")
	require.Error(t, err)
}

func TestDecoderFor_AlpacaResolves(t *testing.T) {
	decode, url, err := decoderFor("alpaca", market.MarketTypeEquity, "wss://example.test/stream")
	require.NoError(t, err)
	require.NotNil(t, decode)
	require.Equal(t, "wss://example.test/stream", url)
}

type recordingStore struct {
	inserted []market.OHLCV
}

func (s *recordingStore) InsertCandle(ctx context.Context, c market.OHLCV) error {
	s.inserted = append(s.inserted, c)
	return nil
}

type fakeBus struct {
	msgs chan bus.Message
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (b *fakeBus) Subscribe(ctx context.Context, channels ...string) (<-chan bus.Message, func() error, error) {
	return b.msgs, func() error { return nil }, nil
}
func (b *fakeBus) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (b *fakeBus) Get(ctx context.Context, key string) (string, bool, error)           { return "", false, nil }
func (b *fakeBus) ScanKeys(ctx context.Context, pattern string) ([]string, error)      { return nil, nil }

func TestRelayTicksToAggregator_FiltersByBrokerAndSymbol(t *testing.T) {
	store := &recordingStore{}
	b := &fakeBus{msgs: make(chan bus.Message, 4)}
	agg := aggregator.New(store, b, zerolog.Nop())

	match, _ := json.Marshal(events.Tick{Broker: "alpaca", Symbol: "AAPL", MarketType: "equity", Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Timestamp: 0})
	other, _ := json.Marshal(events.Tick{Broker: "alpaca", Symbol: "MSFT", MarketType: "equity", Price: decimal.NewFromInt(200), Size: decimal.NewFromInt(1), Timestamp: 0})
	b.msgs <- bus.Message{Channel: events.ChannelTicksRaw, Payload: match}
	b.msgs <- bus.Message{Channel: events.ChannelTicksRaw, Payload: other}
	close(b.msgs)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := relayTicksToAggregator(ctx, b, agg, "alpaca", "AAPL")
	require.ErrorIs(t, err, bus.ErrSubscribeLost)

	require.Len(t, store.inserted, 0) // a single tick never closes its own bucket
	require.NotNil(t, agg.LatestCandle("alpaca", "AAPL", market.Timeframe1m))
	require.Nil(t, agg.LatestCandle("alpaca", "MSFT", market.Timeframe1m))
}
