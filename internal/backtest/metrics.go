// metrics.go adapts internal/analytics's Sharpe-ratio and max-drawdown
// formulas from a closed-trade-record input to an equity-curve input,
// since the backtest engine samples equity once per candle rather than
// once per closed trade. Profit factor and per-strategy breakdown are
// dropped: a single backtest run has exactly one strategy.
package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradeforge/internal/storage"
)

// Metrics mirrors storage.BacktestMetrics plus CashCurve, the per-candle
// cash samples that the stored metrics blob does not carry.
type Metrics struct {
	RealisedPnL    decimal.Decimal
	UnrealisedPnL  decimal.Decimal
	TotalReturnPct decimal.Decimal
	SharpeRatio    float64
	MaxDrawdown    decimal.Decimal
	TotalTrades    int
	EquityCurve    []storage.EquityPoint
	CashCurve      []storage.EquityPoint
}

// computeReturns derives the per-sample percentage return series from an
// equity curve, the input computeSharpeRatio expects.
func computeReturns(curve []storage.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Value.Float64()
		cur, _ := curve[i].Value.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	return returns
}

// computeSharpeRatio is internal/analytics's annualized-Sharpe formula
// (zero risk-free rate, sqrt(252) annualization factor), ported from
// computePnLs-of-trades to computeReturns-of-equity-samples.
func computeSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return (mean / stdDev) * math.Sqrt(252)
}

// computeMaxDrawdown walks the equity curve tracking the running peak, the
// same peak-then-drawdown loop internal/analytics runs over cumulative
// trade PnL, but reports a non-positive percentage
// (dd_pct = -100*(peak-trough)/peak) per the fixed interpretation of the
// source's ambiguous sign/unit convention.
func computeMaxDrawdown(curve []storage.EquityPoint) decimal.Decimal {
	if len(curve) == 0 {
		return decimal.Zero
	}
	peak := curve[0].Value
	maxDDPct := decimal.Zero
	for _, p := range curve {
		if p.Value.GreaterThan(peak) {
			peak = p.Value
		}
		if peak.IsZero() {
			continue
		}
		ddPct := peak.Sub(p.Value).Div(peak).Mul(decimal.NewFromInt(100))
		if ddPct.GreaterThan(maxDDPct) {
			maxDDPct = ddPct
		}
	}
	return maxDDPct.Neg()
}

// computeTotalReturnPct expresses final equity vs the starting balance as a
// percentage, zero if the run never sampled equity.
func computeTotalReturnPct(curve []storage.EquityPoint, startingBalance decimal.Decimal) decimal.Decimal {
	if len(curve) == 0 || startingBalance.IsZero() {
		return decimal.Zero
	}
	final := curve[len(curve)-1].Value
	return final.Sub(startingBalance).Div(startingBalance).Mul(decimal.NewFromInt(100))
}
