// Package equity turns simulated trades into an account history. Trades are
// replayed in order through the classifier gate, the drawdown kill switch
// and the position sizer, compounding one shared capital base.
package equity

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"elliott-backtester/config"
	"elliott-backtester/internal/market"
	"elliott-backtester/internal/ml"
	"elliott-backtester/internal/risk"
	"elliott-backtester/internal/sim"
)

// AcceptedTrade is a simulated trade that survived the gates, with its
// sizing and the capital it left behind.
type AcceptedTrade struct {
	sim.Trade
	Shares       float64 `json:"shares"`
	PnL          float64 `json:"pnl"`
	CapitalAfter float64 `json:"capital_after"`
	RiskFraction float64 `json:"risk_fraction"`
	Prob         float64 `json:"prob"`
	HasProb      bool    `json:"has_prob"`
	OutOfSample  bool    `json:"out_of_sample"`
}

// RMultiple is the trade outcome in units of its initial risk.
func (t AcceptedTrade) RMultiple() float64 {
	if t.RiskPerShare <= 0 {
		return 0
	}
	return t.PerShare / t.RiskPerShare
}

// Snapshot is one point on the equity curve.
type Snapshot struct {
	Time        time.Time `json:"time"`
	Equity      float64   `json:"equity"`
	DrawdownPct float64   `json:"drawdown_pct"`
}

// Result is the account history after replaying all trades.
type Result struct {
	Accepted         []AcceptedTrade `json:"accepted"`
	Curve            []Snapshot      `json:"curve"`
	FinalCapital     float64         `json:"final_capital"`
	PeakCapital      float64         `json:"peak_capital"`
	MaxDrawdownPct   float64         `json:"max_drawdown_pct"`
	RejectedByGate   int             `json:"rejected_by_gate"`
	RejectedHardStop int             `json:"rejected_hard_stop"`
}

// Accountant replays trades against one capital base.
type Accountant struct {
	cfg    config.Config
	sizer  *risk.Sizer
	logger zerolog.Logger
}

// NewAccountant creates an accountant for one run configuration.
func NewAccountant(cfg config.Config, sizer *risk.Sizer, logger zerolog.Logger) *Accountant {
	return &Accountant{
		cfg:    cfg,
		sizer:  sizer,
		logger: logger.With().Str("component", "accountant").Logger(),
	}
}

// exitMark is one capital step on the curve, keyed to the hourly bar the
// trade's exit maps onto.
type exitMark struct {
	at      time.Time
	capital float64
}

// Process replays the trades in order. Out-of-sample trades must clear the
// classifier threshold and only they receive probability-based sizing;
// training-slice trades pass ungated so the in-sample segment of the curve
// stays comparable. The drawdown kill switch is checked per trade against
// the capital at that moment, so a recovered account resumes trading. When
// h1 is present the curve carries one snapshot per hourly bar with capital
// forward-filled between exits; without it the curve degrades to one point
// per exit.
func (a *Accountant) Process(trades []sim.Trade, model ml.Model, h1 *market.Series) Result {
	capital := a.cfg.StartCapital
	peak := capital
	res := Result{FinalCapital: capital, PeakCapital: peak}
	var recentR []float64
	var exits []exitMark

	for _, tr := range trades {
		currentDD := (capital - peak) / math.Max(peak, 1e-9) * 100
		if a.sizer.HardStopHit(currentDD) {
			res.RejectedHardStop++
			continue
		}

		prob, hasProb := 0.0, false
		outOfSample := model.Active() && tr.TimeIn.After(model.TrainUntil)
		if outOfSample {
			p, _ := model.Predict(tr.Features)
			if p < model.Threshold {
				res.RejectedByGate++
				continue
			}
			prob, hasProb = p, true
		}

		dec := a.sizer.Size(risk.Inputs{
			Capital:      capital,
			RiskPerShare: tr.RiskPerShare,
			CurrentDD:    currentDD,
			RecentR:      recentR,
			Direction:    tr.Direction,
			Prob:         prob,
			HasProb:      hasProb,
			Threshold:    model.Threshold,
		})
		pnl := dec.Shares * tr.PerShare
		capital += pnl
		if tr.RiskPerShare > 0 {
			recentR = append(recentR, tr.PerShare/tr.RiskPerShare)
		}
		if capital > peak {
			peak = capital
		}

		res.Accepted = append(res.Accepted, AcceptedTrade{
			Trade:        tr,
			Shares:       dec.Shares,
			PnL:          pnl,
			CapitalAfter: capital,
			RiskFraction: dec.RiskFraction,
			Prob:         prob,
			HasProb:      hasProb,
			OutOfSample:  outOfSample,
		})

		exits = append(exits, exitMark{at: snapshotTime(tr.TimeOut, h1), capital: capital})
	}

	res.FinalCapital = capital
	res.PeakCapital = peak
	res.Curve, res.MaxDrawdownPct = buildCurve(a.cfg.StartCapital, exits, h1)
	a.logger.Info().
		Int("accepted", len(res.Accepted)).
		Int("gated", res.RejectedByGate).
		Int("hard_stopped", res.RejectedHardStop).
		Float64("final_capital", res.FinalCapital).
		Float64("max_drawdown_pct", res.MaxDrawdownPct).
		Msg("Equity replay complete")
	return res
}

// snapshotTime aligns an exit to the first hourly close at or after it.
func snapshotTime(exit time.Time, h1 *market.Series) time.Time {
	if h1 == nil || h1.Empty() {
		return exit
	}
	if i := h1.FirstIndexAtOrAfter(exit); i >= 0 {
		return h1.Candles[i].Time
	}
	return h1.Candles[h1.Len()-1].Time
}

// buildCurve walks every hourly bar with capital forward-filled from the
// exit steps, so flat stretches still weigh into the drawdown statistics.
// Peak tracking restarts from the starting capital; the reported maximum
// drawdown is the deepest point of this curve. Several exits on the same
// bar collapse into the last one.
func buildCurve(start float64, exits []exitMark, h1 *market.Series) ([]Snapshot, float64) {
	if len(exits) == 0 {
		return nil, 0
	}

	var maxDD float64
	cur, high := start, start

	if h1 == nil || h1.Empty() {
		curve := make([]Snapshot, 0, len(exits))
		for _, e := range exits {
			cur = e.capital
			if cur > high {
				high = cur
			}
			dd := (cur - high) / math.Max(high, 1e-9) * 100
			if dd < maxDD {
				maxDD = dd
			}
			curve = append(curve, Snapshot{Time: e.at, Equity: cur, DrawdownPct: dd})
		}
		return curve, maxDD
	}

	steps := make(map[time.Time]float64, len(exits))
	for _, e := range exits {
		steps[e.at] = e.capital
	}
	curve := make([]Snapshot, 0, h1.Len())
	for _, c := range h1.Candles {
		if v, ok := steps[c.Time]; ok {
			cur = v
		}
		if cur > high {
			high = cur
		}
		dd := (cur - high) / math.Max(high, 1e-9) * 100
		if dd < maxDD {
			maxDD = dd
		}
		curve = append(curve, Snapshot{Time: c.Time, Equity: cur, DrawdownPct: dd})
	}
	return curve, maxDD
}
