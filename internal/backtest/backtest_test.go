package backtest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/tradeforge/internal/market"
	"github.com/nitinkhare/tradeforge/internal/storage"
	"github.com/nitinkhare/tradeforge/internal/strategy"
)

// fakeStore is an in-memory ohlcstore.Store fed with a fixed candle slice,
// enough to drive Engine.Run without a database.
type fakeStore struct {
	candles []market.OHLCV
}

func (f *fakeStore) InsertCandle(ctx context.Context, c market.OHLCV) error { return nil }
func (f *fakeStore) InsertTick(ctx context.Context, t market.Tick) error    { return nil }

func (f *fakeStore) QueryRange(ctx context.Context, source, symbol string, tf market.Timeframe, from, to int64) func(yield func(market.OHLCV, error) bool) {
	return func(yield func(market.OHLCV, error) bool) {
		for _, c := range f.candles {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func closesCandles(closes []float64) []market.OHLCV {
	out := make([]market.OHLCV, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		out[i] = market.OHLCV{
			Source: "test", Symbol: "X", Timeframe: market.Timeframe1m,
			Timestamp: int64(i * 60),
			Open:      d, High: d, Low: d, Close: d,
			Volume: decimal.NewFromInt(100),
		}
	}
	return out
}

// buyOnFirstCandleOnly is rule-tree JSON for "buy 10 on the very first
// candle, never again": it keys off position_qty == 0, which is only true
// before the first fill.
const buyOnFirstCandleOnly = `{"rules":[
  {"when":{"kind":"compare","op":"==","left":{"kind":"position_qty"},"right":{"kind":"const","value":0}},
   "action":{"side":"buy","type":"market","quantity":{"kind":"const","value":10}}}
]}`

func TestEngineRun_BuyHold(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 105, 104, 103, 102, 101}
	store := &fakeStore{candles: closesCandles(closes)}

	registry := strategy.NewRegistry()
	prog, err := strategy.Compile([]byte(buyOnFirstCandleOnly))
	require.NoError(t, err)
	registry.Register("buy-hold", prog)

	engine := NewEngine(store, registry, zerolog.Nop())
	m, err := engine.Run(context.Background(), Request{
		StrategyID: "buy-hold", Source: "test", Symbol: "X", Timeframe: market.Timeframe1m,
		StartingBalance: decimal.NewFromInt(100000),
	})
	require.NoError(t, err)

	require.Equal(t, 1, m.TotalTrades)
	require.True(t, decimal.Zero.Equal(m.RealisedPnL), "realised pnl should be zero, got %s", m.RealisedPnL)
	// Filled at candle 0's close (100), final candle close is 101: unrealised = 10*(101-100) = 10.
	require.True(t, decimal.NewFromInt(10).Equal(m.UnrealisedPnL), "unrealised pnl, got %s", m.UnrealisedPnL)
}

// buyThenSellAtFifth buys 10 on the first candle (position_qty == 0 and
// close == 100, so the flat position left after the exit does not re-enter)
// and sells everything on the candle whose close reaches 105 (index 5); a
// market order fills at the candle that triggers it, so the exit fill price
// is that same 105 close.
const buyThenSellAtFifth = `{"rules":[
  {"when":{"kind":"compare","op":"==","left":{"kind":"close"},"right":{"kind":"const","value":105}},
   "action":{"side":"sell","type":"market","quantity":{"kind":"const","value":10}}},
  {"when":{"kind":"logical","op":"and",
     "left":{"kind":"compare","op":"==","left":{"kind":"position_qty"},"right":{"kind":"const","value":0}},
     "right":{"kind":"compare","op":"==","left":{"kind":"close"},"right":{"kind":"const","value":100}}},
   "action":{"side":"buy","type":"market","quantity":{"kind":"const","value":10}}}
]}`

func TestEngineRun_BuyThenSell(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 105, 104, 103, 102, 101}
	store := &fakeStore{candles: closesCandles(closes)}

	registry := strategy.NewRegistry()
	prog, err := strategy.Compile([]byte(buyThenSellAtFifth))
	require.NoError(t, err)
	registry.Register("buy-sell", prog)

	engine := NewEngine(store, registry, zerolog.Nop())
	m, err := engine.Run(context.Background(), Request{
		StrategyID: "buy-sell", Source: "test", Symbol: "X", Timeframe: market.Timeframe1m,
		StartingBalance: decimal.NewFromInt(100000),
	})
	require.NoError(t, err)

	require.Equal(t, 2, m.TotalTrades)
	require.True(t, decimal.Zero.Equal(m.UnrealisedPnL), "position should be flat, unrealised %s", m.UnrealisedPnL)
	// Bought 10@100, sold 10@105: realised = 10*(105-100) = 50.
	require.True(t, decimal.NewFromInt(50).Equal(m.RealisedPnL), "realised pnl, got %s", m.RealisedPnL)
}

func TestComputeSharpeRatio_ConstantCurveIsZero(t *testing.T) {
	curve := make([]float64, 0)
	for i := 0; i < 5; i++ {
		curve = append(curve, 0)
	}
	require.Equal(t, 0.0, computeSharpeRatio(curve))
}

func TestComputeMaxDrawdown_NonDecreasingIsZero(t *testing.T) {
	curve := []storage.EquityPoint{
		{Timestamp: 0, Value: decimal.NewFromInt(100)},
		{Timestamp: 1, Value: decimal.NewFromInt(101)},
		{Timestamp: 2, Value: decimal.NewFromInt(102)},
	}
	require.True(t, decimal.Zero.Equal(computeMaxDrawdown(curve)))
}

func TestComputeMaxDrawdown_DipIsNegativePercentage(t *testing.T) {
	curve := []storage.EquityPoint{
		{Timestamp: 0, Value: decimal.NewFromInt(100)},
		{Timestamp: 1, Value: decimal.NewFromInt(50)},
		{Timestamp: 2, Value: decimal.NewFromInt(80)},
	}
	require.True(t, decimal.NewFromInt(-50).Equal(computeMaxDrawdown(curve)), "got %s", computeMaxDrawdown(curve))
}
