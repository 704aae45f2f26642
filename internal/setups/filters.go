package setups

import (
	"math"
	"time"

	"elliott-backtester/config"
	"elliott-backtester/internal/elliott"
	"elliott-backtester/internal/market"
)

// Filters evaluates the pre-trade gates for a setup. Each gate passes when
// its flag is disabled or its inputs are unavailable; only a definite
// violation rejects.
type Filters struct {
	cfg   config.Config
	daily *market.Series
}

// NewFilters creates the gate evaluator over the daily regime series.
func NewFilters(cfg config.Config, daily *market.Series) *Filters {
	return &Filters{cfg: cfg, daily: daily}
}

// RegimeOK checks the daily ADX reading at or before the anchor against the
// trend threshold. Choppy regimes (low ADX) are rejected.
func (f *Filters) RegimeOK(anchor time.Time) bool {
	if !f.cfg.Filters.UseADX {
		return true
	}
	i := f.daily.LastIndexAtOrBefore(anchor)
	if i < 0 || len(f.daily.ADX) <= i {
		return true
	}
	adx := f.daily.ADX[i]
	if math.IsNaN(adx) {
		return true
	}
	return adx >= f.cfg.Filters.ADXTrendThreshold
}

// DailyTrendOK checks that the daily EMA pair at or before the anchor agrees
// with the trade direction.
func (f *Filters) DailyTrendOK(anchor time.Time, d elliott.Direction) bool {
	if !f.cfg.Filters.UseDailyEMA {
		return true
	}
	i := f.daily.LastIndexAtOrBefore(anchor)
	if i < 0 || len(f.daily.EMAFast) <= i || len(f.daily.EMASlow) <= i {
		return true
	}
	if d.IsUp() {
		return f.daily.EMAFast[i] > f.daily.EMASlow[i]
	}
	return f.daily.EMAFast[i] < f.daily.EMASlow[i]
}

// TrendOK checks the trading-timeframe EMA alignment at bar i, optionally
// also requiring price on the right side of the fast EMA.
func (f *Filters) TrendOK(s *market.Series, i int, d elliott.Direction) bool {
	if !f.cfg.Filters.UseEMATrend {
		return true
	}
	ef := s.EMAFast[i]
	es := s.EMASlow[i]
	cl := s.Candles[i].Close
	if f.cfg.Filters.RequirePriceAboveEMAFast {
		if d.IsUp() {
			return ef > es && cl > ef
		}
		return ef < es && cl < ef
	}
	if d.IsUp() {
		return ef > es
	}
	return ef < es
}

// VolOK checks that the ATR percentage at bar i sits inside the tradeable
// band. NaN readings reject.
func (f *Filters) VolOK(s *market.Series, i int) bool {
	p := s.ATRPct[i]
	return f.cfg.Filters.ATRPctMin <= p && p <= f.cfg.Filters.ATRPctMax
}
