// Package risk sizes positions from the account state. The base risk
// fraction is scaled by the drawdown ladder, the volatility target, the
// classifier probability and the short discount, and only the final product
// is clamped to the configured band.
package risk

import (
	"math"

	"github.com/rs/zerolog"

	"elliott-backtester/config"
	"elliott-backtester/internal/elliott"
)

// minRecentTrades is the smallest R-multiple window the volatility target
// will act on.
const minRecentTrades = 5

// Sizer converts risk budget into share counts.
type Sizer struct {
	cfg    config.Config
	logger zerolog.Logger
}

// NewSizer creates a position sizer for one run configuration.
func NewSizer(cfg config.Config, logger zerolog.Logger) *Sizer {
	return &Sizer{
		cfg:    cfg,
		logger: logger.With().Str("component", "sizer").Logger(),
	}
}

// Inputs is the account and trade state a sizing call works from. CurrentDD
// is the drawdown in percent (zero or negative), RecentR the trailing
// R-multiples of closed trades, and Prob the classifier probability when
// HasProb is set.
type Inputs struct {
	Capital      float64
	RiskPerShare float64
	CurrentDD    float64
	RecentR      []float64
	Direction    elliott.Direction
	Prob         float64
	HasProb      bool
	Threshold    float64
}

// Decision breaks a sizing call into its factors, for telemetry.
type Decision struct {
	Shares       float64
	RiskFraction float64 // effective fraction after scaling and clamping
	DDMult       float64
	VolMult      float64
	ProbMult     float64
	ShortMult    float64
}

// Size returns the share count for a trade. RiskPerShare must be positive.
func (s *Sizer) Size(in Inputs) Decision {
	dec := Decision{
		DDMult:    s.drawdownMultiplier(in.CurrentDD),
		VolMult:   s.volTargetMultiplier(in.RecentR),
		ProbMult:  s.probMultiplier(in.Prob, in.HasProb, in.Threshold),
		ShortMult: 1.0,
	}
	if !in.Direction.IsUp() && s.cfg.Risk.SizeShortFactor > 0 {
		dec.ShortMult = s.cfg.Risk.SizeShortFactor
	}

	eff := s.cfg.Risk.PerTrade * dec.DDMult * dec.VolMult * dec.ProbMult * dec.ShortMult
	eff = math.Min(math.Max(eff, s.cfg.Risk.PerTradeMin), s.cfg.Risk.PerTradeMax)
	dec.RiskFraction = eff

	dec.Shares = math.Floor(math.Max(1, eff*in.Capital/math.Max(in.RiskPerShare, 1e-9)))
	s.logger.Debug().
		Float64("shares", dec.Shares).
		Float64("risk_fraction", eff).
		Float64("dd_mult", dec.DDMult).
		Float64("vol_mult", dec.VolMult).
		Float64("prob_mult", dec.ProbMult).
		Msg("Sized position")
	return dec
}

// drawdownMultiplier walks the risk ladder and applies the most severe tier
// the current drawdown has breached.
func (s *Sizer) drawdownMultiplier(currentDD float64) float64 {
	if !s.cfg.Risk.DynamicDDRisk {
		return 1.0
	}
	mult := 1.0
	worst := 0.0
	for _, step := range s.cfg.Risk.DDRiskSteps {
		if currentDD <= step.DrawdownPct && step.DrawdownPct < worst {
			worst = step.DrawdownPct
			mult = step.Multiplier
		}
	}
	return mult
}

// volTargetMultiplier scales risk toward the annual volatility target using
// the dispersion of recent trade outcomes. Thin or degenerate windows leave
// the size unchanged.
func (s *Sizer) volTargetMultiplier(recentR []float64) float64 {
	if !s.cfg.Risk.UseVolTarget {
		return 1.0
	}
	window := s.cfg.Risk.VolWindowTrades
	if window > 0 && len(recentR) > window {
		recentR = recentR[len(recentR)-window:]
	}
	if len(recentR) < minRecentTrades {
		return 1.0
	}
	sd := sampleStd(recentR)
	if sd <= 1e-9 {
		return 1.0
	}
	mult := s.cfg.Risk.TargetAnnualVol / (sd * 4)
	return math.Min(math.Max(mult, 0.4), 1.6)
}

// probMultiplier maps the classifier edge over its threshold onto the
// configured size band.
func (s *Sizer) probMultiplier(prob float64, hasProb bool, threshold float64) float64 {
	if !s.cfg.ML.SizeByProb || !hasProb {
		return 1.0
	}
	frac := (prob - threshold) / math.Max(1e-6, 1-threshold)
	if frac < 0 {
		frac = 0
	}
	return s.cfg.ML.ProbSizeMin + (s.cfg.ML.ProbSizeMax-s.cfg.ML.ProbSizeMin)*frac
}

// HardStopHit reports whether the drawdown kill switch blocks new trades.
func (s *Sizer) HardStopHit(currentDD float64) bool {
	if !s.cfg.HardStopEnabled() {
		return false
	}
	return currentDD <= s.cfg.Risk.MaxDrawdownStop
}

func sampleStd(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(n-1))
}
