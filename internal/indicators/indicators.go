// Package indicators computes the derived columns the backtester consumes.
// All functions return full candle-aligned series; NaN marks warmup bars so
// downstream gates can tell "no value yet" from a real reading.
package indicators

import (
	"math"

	"elliott-backtester/internal/market"
)

// ============================================================================
// TRUE RANGE / ATR
// ============================================================================

// CalculateTrueRange calculates the True Range series. The first bar has no
// previous close and falls back to high-low.
func CalculateTrueRange(candles []market.Candle) []float64 {
	tr := make([]float64, len(candles))
	for i, c := range candles {
		hl := math.Abs(c.High - c.Low)
		if i == 0 {
			tr[i] = hl
			continue
		}
		prevClose := candles[i-1].Close
		hc := math.Abs(c.High - prevClose)
		lc := math.Abs(c.Low - prevClose)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// CalculateATR calculates Average True Range as a rolling mean of True Range.
// Early bars average over however many values exist so the series has no
// warmup gap.
func CalculateATR(candles []market.Candle, period int) []float64 {
	tr := CalculateTrueRange(candles)
	atr := make([]float64, len(tr))
	sum := 0.0
	for i := range tr {
		sum += tr[i]
		if i >= period {
			sum -= tr[i-period]
			atr[i] = sum / float64(period)
		} else {
			atr[i] = sum / float64(i+1)
		}
	}
	return atr
}

// CalculateATRPct expresses ATR as a percentage of the close.
func CalculateATRPct(atr []float64, candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = atr[i] / candles[i].Close * 100.0
	}
	return out
}

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateEMA calculates an Exponential Moving Average series seeded at the
// first value, with multiplier 2/(span+1).
func CalculateEMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// CalculateSMA calculates a Simple Moving Average series. Bars before the
// window fills are NaN.
func CalculateSMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i := range values {
		sum += values[i]
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// CalculateRSI calculates the Relative Strength Index from rolling mean gains
// and losses. Bars before the window fills are NaN.
func CalculateRSI(values []float64, period int) []float64 {
	n := len(values)
	out := make([]float64, n)
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	gainSum, lossSum := 0.0, 0.0
	for i := 0; i < n; i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i >= period {
			gainSum -= gains[i-period]
			lossSum -= losses[i-period]
		}
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		avgGain := gainSum / float64(period)
		avgLoss := lossSum / float64(period)
		rs := avgGain / (avgLoss + 1e-12)
		out[i] = 100.0 - 100.0/(1.0+rs)
	}
	return out
}

// ============================================================================
// ADX (Average Directional Index)
// ============================================================================

// CalculateADX calculates the Average Directional Index using Wilder
// smoothing (alpha = 1/period) on directional movement and true range.
func CalculateADX(candles []market.Candle, period int) []float64 {
	n := len(candles)
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	tr := CalculateTrueRange(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	alpha := 1.0 / float64(period)
	atr := wilderEMA(tr, alpha)
	plusSm := wilderEMA(plusDM, alpha)
	minusSm := wilderEMA(minusDM, alpha)

	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		plusDI := 100.0 * plusSm[i] / (atr[i] + 1e-12)
		minusDI := 100.0 * minusSm[i] / (atr[i] + 1e-12)
		dx[i] = 100.0 * math.Abs(plusDI-minusDI) / (math.Abs(plusDI+minusDI) + 1e-12)
	}
	copy(out, wilderEMA(dx, alpha))
	return out
}

func wilderEMA(values []float64, alpha float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// ============================================================================
// REALIZED VOLATILITY
// ============================================================================

// CalculateRealizedVol calculates the annualized rolling standard deviation
// of simple returns. Bars before the window fills are NaN.
func CalculateRealizedVol(values []float64, window int, periodsPerYear float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	rets := make([]float64, n)
	rets[0] = math.NaN()
	for i := 1; i < n; i++ {
		rets[i] = values[i]/values[i-1] - 1.0
	}

	annFactor := math.Sqrt(periodsPerYear)
	for i := 0; i < n; i++ {
		if i < window {
			out[i] = math.NaN()
			continue
		}
		out[i] = sampleStd(rets[i-window+1:i+1]) * annFactor
	}
	return out
}

// sampleStd is the n-1 denominator standard deviation.
func sampleStd(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return math.NaN()
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	ss := 0.0
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// ============================================================================
// SERIES ENRICHMENT
// ============================================================================

// Apply attaches the common indicator columns to a series.
func Apply(s *market.Series, atrPeriod, emaFast, emaSlow int) {
	if s.Empty() {
		return
	}
	closes := s.Closes()
	s.ATR = CalculateATR(s.Candles, atrPeriod)
	s.ATRPct = CalculateATRPct(s.ATR, s.Candles)
	s.EMAFast = CalculateEMA(closes, emaFast)
	s.EMASlow = CalculateEMA(closes, emaSlow)
	s.RSI = CalculateRSI(closes, 14)
}

// ApplyDaily attaches the daily-only regime columns.
func ApplyDaily(s *market.Series) {
	if s.Empty() {
		return
	}
	closes := s.Closes()
	s.ADX = CalculateADX(s.Candles, 14)
	s.SMA100 = CalculateSMA(closes, 100)
	s.Vol20 = CalculateRealizedVol(closes, 20, 252)
}
