// Command backtest implements the "backtest run --backtest-id UUID" entry
// point: load one backtests row, replay its candle range through the
// backtest engine, and persist the resulting metrics.
//
// Grounded on cmd/engine/main.go's config/logger bootstrap and exit-code
// discipline (Fatalf on setup failure, plain os.Exit(1) on a run failure).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nitinkhare/tradeforge/internal/backtest"
	"github.com/nitinkhare/tradeforge/internal/config"
	"github.com/nitinkhare/tradeforge/internal/ohlcstore"
	"github.com/nitinkhare/tradeforge/internal/storage"
	"github.com/nitinkhare/tradeforge/internal/strategy"
	"github.com/nitinkhare/tradeforge/internal/telemetry"
)

func main() {
	fs := flag.NewFlagSet("backtest run", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to configuration file")
	backtestID := fs.String("backtest-id", "", "backtest id to run (required)")
	strategiesDir := fs.String("strategies-dir", "strategies", "directory of compiled strategy program JSON files")
	source := fs.String("source", "", "ohlc source id the historical candles were ingested under (required)")

	if len(os.Args) < 2 || os.Args[1] != "run" {
		fmt.Fprintln(os.Stderr, "usage: backtest run --backtest-id UUID")
		os.Exit(1)
	}
	fs.Parse(os.Args[2:])

	if *backtestID == "" || *source == "" {
		fmt.Fprintln(os.Stderr, "backtest run: --backtest-id and --source are required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: load config: %v\n", err)
		os.Exit(1)
	}

	log, err := telemetry.New(cfg.Logging, "backtest")
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to candle database")
	}
	defer pool.Close()
	candles := ohlcstore.NewPostgresStore(pool)

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to relational store")
	}
	defer store.Close()

	programs, err := strategy.LoadDir(*strategiesDir)
	if err != nil {
		log.Fatal().Err(err).Msg("load strategy programs")
	}

	row, err := store.GetBacktest(ctx, *backtestID)
	if err != nil {
		log.Fatal().Err(err).Str("backtest_id", *backtestID).Msg("load backtest row")
	}

	if err := store.SetBacktestStatus(ctx, *backtestID, storage.BacktestRunning, nil); err != nil {
		log.Fatal().Err(err).Msg("mark backtest running")
	}

	engine := backtest.NewEngine(candles, programs, log)
	req := backtest.Request{
		BacktestID:      row.BacktestID,
		StrategyID:      row.StrategyID,
		Source:          *source,
		Symbol:          row.Symbol,
		Timeframe:       row.Timeframe,
		StartDate:       row.StartDate,
		EndDate:         row.EndDate,
		StartingBalance: row.StartingBalance,
	}

	metrics, runErr := engine.Run(ctx, req)
	if runErr != nil {
		msg := runErr.Error()
		if err := store.SetBacktestStatus(ctx, *backtestID, storage.BacktestFailed, &msg); err != nil {
			log.Error().Err(err).Msg("record failed status")
		}
		log.Error().Err(runErr).Msg("backtest run failed")
		os.Exit(1)
	}

	if err := store.SetBacktestMetrics(ctx, *backtestID, storage.BacktestMetrics{
		RealisedPnL:    metrics.RealisedPnL,
		UnrealisedPnL:  metrics.UnrealisedPnL,
		TotalReturnPct: metrics.TotalReturnPct,
		SharpeRatio:    metrics.SharpeRatio,
		MaxDrawdown:    metrics.MaxDrawdown,
		TotalTrades:    metrics.TotalTrades,
		EquityCurve:    metrics.EquityCurve,
	}); err != nil {
		log.Fatal().Err(err).Msg("persist backtest metrics")
	}
	if err := store.SetBacktestStatus(ctx, *backtestID, storage.BacktestCompleted, nil); err != nil {
		log.Fatal().Err(err).Msg("mark backtest completed")
	}

	log.Info().Str("backtest_id", *backtestID).Int("trades", metrics.TotalTrades).Msg("backtest completed")
}
