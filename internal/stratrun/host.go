// Package stratrun hosts a compiled strategy.Program against a live candle
// channel: startup/shutdown hooks, panic/error capture so one bad bar never
// kills a long-running deployment or backtest, and the (ctx, candle)
// plumbing into the DSL interpreter. Grounded on internal/strategy's
// original Strategy interface shape (Evaluate over a bundled input),
// generalized from a pure scoring function to something that also submits
// orders through a broker.
package stratrun

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nitinkhare/tradeforge/internal/broker"
	"github.com/nitinkhare/tradeforge/internal/market"
	"github.com/nitinkhare/tradeforge/internal/strategy"
)

// MaxHistory bounds how many candles the host keeps in memory for indicator
// lookback; older candles are dropped.
const MaxHistory = 500

// Host feeds candles from a channel into a compiled strategy.Program,
// submitting whatever order the program decides through the wrapped broker.
type Host struct {
	program *strategy.Program
	broker  broker.Broker
	log     zerolog.Logger

	history []market.OHLCV
}

func New(program *strategy.Program, b broker.Broker, log zerolog.Logger) *Host {
	return &Host{program: program, broker: b, log: log.With().Str("component", "strategy_host").Logger()}
}

// Startup is a no-op hook kept for symmetry with Shutdown and with the
// source platform's startup()/shutdown() lifecycle; a future DSL extension
// may add startup-only actions (e.g. warm-up indicator seeding).
func (h *Host) Startup(ctx context.Context) error { return nil }

func (h *Host) Shutdown(ctx context.Context) error { return nil }

// Run drives candles from in until the channel closes or ctx is cancelled.
// A panic or error from evaluating one candle is logged and the loop
// continues — the calling runtime only treats a *framework* error (broker,
// not-a-strategy-bug) as fatal, per the propagation policy.
func (h *Host) Run(ctx context.Context, in <-chan market.OHLCV) error {
	if err := h.Startup(ctx); err != nil {
		return fmt.Errorf("stratrun: startup: %w", err)
	}
	defer func() {
		if err := h.Shutdown(ctx); err != nil {
			h.log.Warn().Err(err).Msg("strategy shutdown hook failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-in:
			if !ok {
				return nil
			}
			h.EvalCandle(ctx, c)
		}
	}
}

// EvalCandle evaluates the program against one closed candle and submits
// whatever order it decides on through the wrapped broker. Exported so the
// backtest engine can drive candles in lock-step with the simulated
// broker's Feed, rather than through the channel Run consumes.
func (h *Host) EvalCandle(ctx context.Context, c market.OHLCV) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("symbol", c.Symbol).Msg("strategy panicked evaluating candle, continuing")
		}
	}()

	h.history = append(h.history, c)
	if len(h.history) > MaxHistory {
		h.history = h.history[len(h.history)-MaxHistory:]
	}

	acct, err := h.broker.GetAccount(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("could not read account before evaluating strategy")
	}

	// Every broker variant maintains equity = cash + net_open_qty*last_close;
	// back out the position size from that rather than widening Broker with
	// a position-query method no variant other than Simulated needs.
	var openQty float64
	if !c.Close.IsZero() {
		qty := acct.Equity.Sub(acct.Cash).Div(c.Close)
		openQty, _ = qty.Float64()
	}

	evalCtx := strategy.EvalContext{Candles: h.history, HasOpenQty: openQty != 0, OpenQty: openQty}
	req := h.program.Decide(evalCtx)
	if req == nil {
		return
	}
	if _, err := h.broker.SubmitOrder(ctx, *req); err != nil {
		h.log.Warn().Err(err).Str("symbol", req.Symbol).Msg("strategy order submission failed")
	}
}
