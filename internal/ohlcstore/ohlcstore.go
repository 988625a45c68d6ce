// Package ohlcstore is the append-only historical candle store. Candles
// are queryable by (source, symbol, timeframe, time-range) and inserts are
// idempotent on that same tuple.
package ohlcstore

import (
	"context"

	"github.com/nitinkhare/tradeforge/internal/market"
)

// Store is implemented by the Postgres-backed store and by any in-memory
// fake used in tests.
type Store interface {
	// InsertCandle is idempotent on (source, symbol, timeframe, timestamp):
	// re-inserting the same key updates the row in place rather than
	// erroring, matching the aggregator's at-least-once emit contract.
	InsertCandle(ctx context.Context, c market.OHLCV) error

	// InsertTick is idempotent on (source, key).
	InsertTick(ctx context.Context, t market.Tick) error

	// QueryRange streams candles for one (source, symbol, timeframe) in
	// ascending timestamp order between [from, to]. It is implemented as a
	// Go 1.23 range-over-func iterator, batched internally, so a backtest
	// never materializes more than one page of candles at a time
	// regardless of the range's length.
	QueryRange(ctx context.Context, source, symbol string, tf market.Timeframe, from, to int64) func(yield func(market.OHLCV, error) bool)
}

// DefaultBatchSize bounds how many rows a single QueryRange page pulls from
// the database at a time.
const DefaultBatchSize = 500
