// Package backtest replays a strategy against historical candles through
// the simulated broker and computes a performance report. The per-candle
// loop (feed into broker, call strategy.on_candle, record equity/cash curve)
// is structurally modeled on internal/analytics for the metrics half; the
// engine loop itself has no existing analogue in this codebase (historical
// backtesting previously replayed CSVs through the same PaperBroker used
// live) so it is written fresh in the same style: plain functions over
// injected dependencies, no package-level state.
package backtest

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradeforge/internal/broker"
	"github.com/nitinkhare/tradeforge/internal/market"
	"github.com/nitinkhare/tradeforge/internal/ohlcstore"
	"github.com/nitinkhare/tradeforge/internal/storage"
	"github.com/nitinkhare/tradeforge/internal/strategy"
	"github.com/nitinkhare/tradeforge/internal/stratrun"
)

// Request bundles the parameters a backtest run needs, mirroring the
// backtests table row that drives it.
type Request struct {
	BacktestID      string
	StrategyID      string
	Source          string
	Symbol          string
	Timeframe       market.Timeframe
	StartDate       time.Time
	EndDate         time.Time
	StartingBalance decimal.Decimal
}

// Engine runs backtests by replaying the historical candle store through a
// fresh simulated broker per run.
type Engine struct {
	candles  ohlcstore.Store
	programs *strategy.Registry
	log      zerolog.Logger
}

func NewEngine(candles ohlcstore.Store, programs *strategy.Registry, log zerolog.Logger) *Engine {
	return &Engine{candles: candles, programs: programs, log: log.With().Str("component", "backtest_engine").Logger()}
}

// Run executes the full algorithm: instantiate a simulated broker, host the
// strategy on it, stream candles from the store in ascending order, feed
// each into the broker before evaluating the strategy on it (so pending
// orders from the previous candle settle before new ones are placed), and
// sample the equity/cash curve once per candle.
func (e *Engine) Run(ctx context.Context, req Request) (Metrics, error) {
	program, ok := e.programs.Get(req.StrategyID)
	if !ok {
		return Metrics{}, fmt.Errorf("backtest: unknown strategy_id %q", req.StrategyID)
	}

	sim := broker.NewSimulated(req.StartingBalance)
	host := stratrun.New(program, sim, e.log)
	if err := host.Startup(ctx); err != nil {
		return Metrics{}, fmt.Errorf("backtest: strategy startup: %w", err)
	}
	defer func() {
		if err := host.Shutdown(ctx); err != nil {
			e.log.Warn().Err(err).Msg("strategy shutdown hook failed during backtest")
		}
	}()

	var equityCurve, cashCurve []storage.EquityPoint
	trades := 0
	var lastCandle market.OHLCV
	var sawCandle bool

	next, stop := iter.Pull2(e.candles.QueryRange(ctx, req.Source, req.Symbol, req.Timeframe, req.StartDate.Unix(), req.EndDate.Unix()))
	defer stop()

	for {
		c, err, ok := next()
		if !ok {
			break
		}
		if err != nil {
			return Metrics{}, fmt.Errorf("backtest: reading candle history: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return Metrics{}, err
		}

		before := sim.NetOpenQty()
		sim.Feed(c)
		host.EvalCandle(ctx, c)
		after := sim.NetOpenQty()
		if !before.Equal(after) {
			trades++
		}
		lastCandle, sawCandle = c, true

		equityCurve = append(equityCurve, storage.EquityPoint{Timestamp: c.Timestamp, Value: sim.Equity()})
		cashCurve = append(cashCurve, storage.EquityPoint{Timestamp: c.Timestamp, Value: sim.Cash()})
	}

	realised := sim.RealisedPnL()
	unrealised := decimal.Zero
	if netQty := sim.NetOpenQty(); !netQty.IsZero() && sawCandle {
		unrealised = netQty.Mul(lastCandle.Close.Sub(sim.AvgEntryPrice()))
	}

	return Metrics{
		RealisedPnL:    realised,
		UnrealisedPnL:  unrealised,
		TotalReturnPct: computeTotalReturnPct(equityCurve, req.StartingBalance),
		SharpeRatio:    computeSharpeRatio(computeReturns(equityCurve)),
		MaxDrawdown:    computeMaxDrawdown(equityCurve),
		TotalTrades:    trades,
		EquityCurve:    equityCurve,
		CashCurve:      cashCurve,
	}, nil
}
