// indicators.go provides shared technical indicator calculations exposed
// to the embedded DSL as builtin functions. Adapted from the original
// indicator set (same formulas), ported from strategy.Candle/float64 onto
// market.OHLCV/decimal so they operate on the candle history the strategy
// host actually threads through (ctx, candle).
package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradeforge/internal/market"
)

func f(d decimal.Decimal) float64 { v, _ := d.Float64(); return v }

// SMA computes the simple moving average of closes over the last `period`
// candles. Returns 0 if insufficient data.
func SMA(candles []market.OHLCV, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		sum += f(candles[i].Close)
	}
	return sum / float64(period)
}

// EMA computes the exponential moving average of closes over `period`,
// seeded by the SMA of the first `period` candles.
func EMA(candles []market.OHLCV, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := SMA(candles[:period], period)
	for i := period; i < len(candles); i++ {
		ema = f(candles[i].Close)*k + ema*(1-k)
	}
	return ema
}

// RSI computes the Wilder-smoothed Relative Strength Index over `period`.
// Returns 50 (neutral) if insufficient data.
func RSI(candles []market.OHLCV, period int) float64 {
	if len(candles) < period+1 {
		return 50
	}
	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := f(candles[i].Close) - f(candles[i-1].Close)
		if change > 0 {
			gainSum += change
		} else {
			lossSum += math.Abs(change)
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	for i := period + 1; i < len(candles); i++ {
		change := f(candles[i].Close) - f(candles[i-1].Close)
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = math.Abs(change)
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ATR computes the Average True Range over `period`.
func ATR(candles []market.OHLCV, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) < period+1 {
		last := candles[len(candles)-1]
		return f(last.High) - f(last.Low)
	}
	var total float64
	for i := len(candles) - period; i < len(candles); i++ {
		curr, prev := candles[i], candles[i-1]
		tr1 := f(curr.High) - f(curr.Low)
		tr2 := math.Abs(f(curr.High) - f(prev.Close))
		tr3 := math.Abs(f(curr.Low) - f(prev.Close))
		total += math.Max(tr1, math.Max(tr2, tr3))
	}
	return total / float64(period)
}

// ROC computes the rate of change over `period` as a fraction (0.05 for a
// 5% rise).
func ROC(candles []market.OHLCV, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 0
	}
	current := f(candles[len(candles)-1].Close)
	past := f(candles[len(candles)-1-period].Close)
	if past == 0 {
		return 0
	}
	return (current - past) / past
}

// HighestHigh returns the highest high over the last `period` candles.
func HighestHigh(candles []market.OHLCV, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}
	start := max(0, len(candles)-period)
	highest := f(candles[start].High)
	for i := start + 1; i < len(candles); i++ {
		if h := f(candles[i].High); h > highest {
			highest = h
		}
	}
	return highest
}

// LowestLow returns the lowest low over the last `period` candles.
func LowestLow(candles []market.OHLCV, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}
	start := max(0, len(candles)-period)
	lowest := f(candles[start].Low)
	for i := start + 1; i < len(candles); i++ {
		if l := f(candles[i].Low); l < lowest {
			lowest = l
		}
	}
	return lowest
}

// AverageVolume computes the mean traded volume over the last `period`
// candles.
func AverageVolume(candles []market.OHLCV, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}
	start := max(0, len(candles)-period)
	var total float64
	count := 0
	for i := start; i < len(candles); i++ {
		total += f(candles[i].Volume)
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
