// Package ml trains and calibrates the trade classifier. The model is a
// gradient-boosted ensemble of decision stumps fit walk-forward: the oldest
// slice of trades trains the model, the rest is scored out of sample. The
// acceptance threshold comes from a quantile search on the validation slice,
// with a floor on the out-of-sample pass rate so the gate cannot starve the
// strategy.
package ml

import (
	"math"

	"elliott-backtester/internal/elliott"
	"elliott-backtester/internal/market"
	"elliott-backtester/internal/setups"
)

// NumFeatures is the length of every feature vector.
const NumFeatures = 14

// FeatureNames lists the model inputs in column order.
func FeatureNames() []string {
	return []string{
		"dir_up",
		"setup_w3",
		"setup_w5",
		"setup_c",
		"atr_pct",
		"ema_fast_slow_pct",
		"price_above_ema_fast",
		"zone_width_pct",
		"dist_to_zone_center_pct",
		"rsi",
		"hour_sin",
		"hour_cos",
		"dow_sin",
		"dow_cos",
	}
}

// BuildFeatures extracts the model inputs at an entry bar. Ratios are
// normalized by the close; indicator gaps fall back to neutral values so the
// vector is always finite.
func BuildFeatures(s *market.Series, i int, d elliott.Direction, tag setups.Tag, zone elliott.Zone) []float64 {
	c := s.Candles[i]
	cl := c.Close

	pct := func(v float64) float64 {
		if cl == 0 {
			return 0
		}
		return v / cl
	}

	emaDiff := 0.0
	priceAboveFast := 0.0
	if ef, ok := columnValue(s.EMAFast, i); ok {
		if es, ok2 := columnValue(s.EMASlow, i); ok2 {
			emaDiff = pct(ef - es)
		}
		priceAboveFast = pct(cl - ef)
	}

	atrPct := 0.0
	if v, ok := columnValue(s.ATRPct, i); ok {
		atrPct = v
	}
	rsi := 50.0
	if v, ok := columnValue(s.RSI, i); ok {
		rsi = v
	}

	// Time-of-day and day-of-week on the unit circle; Monday maps to zero.
	hour := float64(c.Time.Hour()) + float64(c.Time.Minute())/60.0
	dow := float64((int(c.Time.Weekday()) + 6) % 7)

	return []float64{
		boolFeature(d.IsUp()),
		boolFeature(tag == setups.TagW3),
		boolFeature(tag == setups.TagW5),
		boolFeature(tag == setups.TagC),
		atrPct,
		emaDiff,
		priceAboveFast,
		pct(zone.High - zone.Low),
		pct(cl - zone.Center()),
		rsi,
		math.Sin(2 * math.Pi * hour / 24),
		math.Cos(2 * math.Pi * hour / 24),
		math.Sin(2 * math.Pi * dow / 7),
		math.Cos(2 * math.Pi * dow / 7),
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func columnValue(col []float64, i int) (float64, bool) {
	if i < 0 || i >= len(col) {
		return 0, false
	}
	if math.IsNaN(col[i]) {
		return 0, false
	}
	return col[i], true
}
