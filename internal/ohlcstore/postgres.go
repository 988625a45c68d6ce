package ohlcstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nitinkhare/tradeforge/internal/market"
)

// PostgresStore implements Store against the ohlc_levels and ticks tables
// via pgx's connection pool, following the connection pattern
// scripts/run_migration.go already establishes for this codebase (pgx
// driver against a Postgres URL).
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertCandle(ctx context.Context, c market.OHLCV) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("ohlcstore: refusing to persist invalid candle: %w", err)
	}
	const q = `
		INSERT INTO ohlc_levels (source, symbol, open, high, low, close, volume, timeframe, timestamp, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (source, symbol, timeframe, timestamp)
		DO UPDATE SET open=$3, high=$4, low=$5, close=$6, volume=$7`
	_, err := s.pool.Exec(ctx, q, c.Source, c.Symbol, c.Open, c.High, c.Low, c.Close, c.Volume, string(c.Timeframe), c.Timestamp)
	if err != nil {
		return fmt.Errorf("ohlcstore: insert candle: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTick(ctx context.Context, t market.Tick) error {
	const q = `
		INSERT INTO ticks (source, symbol, price, size, timestamp, key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6, now())
		ON CONFLICT (source, key) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, t.Source, t.Symbol, t.Price, t.Size, t.Timestamp, t.Key())
	if err != nil {
		return fmt.Errorf("ohlcstore: insert tick: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryRange(ctx context.Context, source, symbol string, tf market.Timeframe, from, to int64) func(yield func(market.OHLCV, error) bool) {
	return func(yield func(market.OHLCV, error) bool) {
		cursor := from
		for {
			const q = `
				SELECT source, symbol, open, high, low, close, volume, timeframe, timestamp
				FROM ohlc_levels
				WHERE source=$1 AND symbol=$2 AND timeframe=$3 AND timestamp >= $4 AND timestamp <= $5
				ORDER BY timestamp ASC
				LIMIT $6`
			rows, err := s.pool.Query(ctx, q, source, symbol, string(tf), cursor, to, DefaultBatchSize)
			if err != nil {
				yield(market.OHLCV{}, fmt.Errorf("ohlcstore: query range: %w", err))
				return
			}

			var fetched int
			var lastTS int64
			for rows.Next() {
				var c market.OHLCV
				var tfStr string
				if err := rows.Scan(&c.Source, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &tfStr, &c.Timestamp); err != nil {
					rows.Close()
					yield(market.OHLCV{}, fmt.Errorf("ohlcstore: scan candle: %w", err))
					return
				}
				c.Timeframe = market.Timeframe(tfStr)
				fetched++
				lastTS = c.Timestamp
				if !yield(c, nil) {
					rows.Close()
					return
				}
			}
			rowsErr := rows.Err()
			rows.Close()
			if rowsErr != nil {
				yield(market.OHLCV{}, fmt.Errorf("ohlcstore: row iteration: %w", rowsErr))
				return
			}
			if fetched < DefaultBatchSize {
				return
			}
			cursor = lastTS + 1
		}
	}
}
