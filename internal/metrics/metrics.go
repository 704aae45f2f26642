// Package metrics distills an equity replay into the usual performance
// statistics. Ratios with an empty denominator (no losses, no downside
// bars, zero variance) are reported as zero rather than infinities so the
// summary stays JSON-clean.
package metrics

import (
	"math"
	"sort"
	"time"

	"elliott-backtester/internal/equity"
)

// riskFreeAnnual is the annual risk-free rate used by Sharpe, Sortino and
// the Ulcer performance index.
const riskFreeAnnual = 0.02

// GroupStats aggregates outcomes for one setup tag or trade direction.
type GroupStats struct {
	Count    int     `json:"count"`
	Wins     int     `json:"wins"`
	WinRate  float64 `json:"win_rate"`
	TotalPnL float64 `json:"total_pnl"`
	AvgR     float64 `json:"avg_r"`
}

// Summary is the full statistics block for one run.
type Summary struct {
	Trades         int     `json:"trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	TotalPnL       float64 `json:"total_pnl"`
	TotalReturnPct float64 `json:"total_return_pct"`
	CAGRPct        float64 `json:"cagr_pct"`

	AvgR          float64 `json:"avg_r"`
	MedianR       float64 `json:"median_r"`
	BestR         float64 `json:"best_r"`
	WorstR        float64 `json:"worst_r"`
	AvgWinR       float64 `json:"avg_win_r"`
	AvgLossR      float64 `json:"avg_loss_r"`
	ExpectancyR   float64 `json:"expectancy_r"`
	ExpectancyUSD float64 `json:"expectancy_usd"`
	PayoffRatio   float64 `json:"payoff_ratio"` // zero when there are no losing trades
	AvgMAER       float64 `json:"avg_mae_r"`
	AvgMFER       float64 `json:"avg_mfe_r"`

	ProfitFactor float64 `json:"profit_factor"` // zero when there are no losing trades
	GainToPain   float64 `json:"gain_to_pain"`
	Sharpe       float64 `json:"sharpe"`
	Sortino      float64 `json:"sortino"`

	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	UlcerIndex       float64 `json:"ulcer_index"`
	UlcerPerformance float64 `json:"ulcer_performance"`
	KellyFraction    float64 `json:"kelly_fraction"`
	ExposurePct      float64 `json:"exposure_pct"`
	TradesPerYear    float64 `json:"trades_per_year"`
	AvgShares        float64 `json:"avg_shares"`
	AvgHoldHours     float64 `json:"avg_hold_hours"`
	MaxWinStreak     int     `json:"max_win_streak"`
	MaxLossStreak    int     `json:"max_loss_streak"`

	ByTag            map[string]GroupStats `json:"by_tag"`
	ByDirection      map[string]GroupStats `json:"by_direction"`
	MonthlyReturnPct map[string]float64    `json:"monthly_return_pct"`
}

// Calculate builds the summary for a replay that started from startCapital.
func Calculate(startCapital float64, res equity.Result) Summary {
	s := Summary{
		MaxDrawdownPct:   res.MaxDrawdownPct,
		ByTag:            map[string]GroupStats{},
		ByDirection:      map[string]GroupStats{},
		MonthlyReturnPct: map[string]float64{},
	}
	trades := res.Accepted
	s.Trades = len(trades)
	if s.Trades == 0 {
		return s
	}

	rMult := make([]float64, s.Trades)
	rets := make([]float64, s.Trades)
	var grossWin, grossLoss, holdHours float64
	var maeSum, mfeSum, sharesSum float64
	var winStreak, lossStreak int
	var winR, lossR []float64

	monthPnL := map[string]float64{}
	monthStartCap := map[string]float64{}

	for i, tr := range trades {
		r := tr.RMultiple()
		rMult[i] = r
		capBefore := tr.CapitalAfter - tr.PnL
		rets[i] = tr.PnL / math.Max(capBefore, 1e-9)
		s.TotalPnL += tr.PnL
		holdHours += tr.TimeOut.Sub(tr.TimeIn).Hours()
		maeSum += tr.MAER
		mfeSum += tr.MFER
		sharesSum += tr.Shares

		if tr.PnL > 0 {
			s.Wins++
			grossWin += tr.PnL
			winR = append(winR, r)
			winStreak++
			lossStreak = 0
			if winStreak > s.MaxWinStreak {
				s.MaxWinStreak = winStreak
			}
		} else {
			s.Losses++
			if tr.PnL < 0 {
				grossLoss -= tr.PnL
			}
			lossR = append(lossR, r)
			lossStreak++
			winStreak = 0
			if lossStreak > s.MaxLossStreak {
				s.MaxLossStreak = lossStreak
			}
		}

		month := tr.TimeOut.Format("2006-01")
		if _, seen := monthStartCap[month]; !seen {
			monthStartCap[month] = capBefore
		}
		monthPnL[month] += tr.PnL

		addGroup(s.ByTag, string(tr.Tag), tr.PnL, r)
		addGroup(s.ByDirection, string(tr.Direction), tr.PnL, r)
	}

	s.WinRate = float64(s.Wins) / float64(s.Trades)
	s.TotalReturnPct = s.TotalPnL / startCapital * 100
	s.AvgR = mean(rMult)
	s.MedianR = median(rMult)
	s.BestR = maxOf(rMult)
	s.WorstR = minOf(rMult)
	s.AvgWinR = mean(winR)
	s.AvgLossR = mean(lossR)
	s.ExpectancyR = s.WinRate*s.AvgWinR + (1-s.WinRate)*s.AvgLossR
	s.ExpectancyUSD = s.TotalPnL / float64(s.Trades)
	s.AvgMAER = maeSum / float64(s.Trades)
	s.AvgMFER = mfeSum / float64(s.Trades)
	s.AvgShares = sharesSum / float64(s.Trades)
	s.AvgHoldHours = holdHours / float64(s.Trades)

	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
		s.GainToPain = s.TotalPnL / grossLoss
	}
	if s.AvgLossR < 0 {
		s.PayoffRatio = s.AvgWinR / -s.AvgLossR
	}

	firstIn := trades[0].TimeIn
	lastOut := trades[0].TimeOut
	for _, tr := range trades {
		if tr.TimeIn.Before(firstIn) {
			firstIn = tr.TimeIn
		}
		if tr.TimeOut.After(lastOut) {
			lastOut = tr.TimeOut
		}
	}
	span := lastOut.Sub(firstIn)
	spanYears := span.Hours() / 24 / 365.25

	if span > 0 {
		s.ExposurePct = holdHours / span.Hours() * 100
	}
	if spanYears > 0 && res.FinalCapital > 0 && startCapital > 0 {
		s.CAGRPct = (math.Pow(res.FinalCapital/startCapital, 1/spanYears) - 1) * 100
	}
	if s.MaxDrawdownPct < 0 {
		s.CalmarRatio = s.CAGRPct / -s.MaxDrawdownPct
	}
	if spanYears > 0 {
		s.TradesPerYear = float64(s.Trades) / spanYears
		periodsPerYear := float64(s.Trades) / spanYears
		rfPerPeriod := riskFreeAnnual / periodsPerYear
		if sd := sampleStd(rets); sd > 0 {
			s.Sharpe = (mean(rets) - rfPerPeriod) / sd * math.Sqrt(periodsPerYear)
		}
		var downside []float64
		for _, r := range rets {
			if r < 0 {
				downside = append(downside, r)
			}
		}
		if dsd := sampleStd(downside); dsd > 0 {
			s.Sortino = (mean(rets) - rfPerPeriod) / dsd * math.Sqrt(periodsPerYear)
		}
	}

	if ulcer := ulcerIndex(res.Curve); ulcer > 0 {
		s.UlcerIndex = ulcer
		s.UlcerPerformance = (s.CAGRPct - riskFreeAnnual*100) / ulcer
	}

	if s.PayoffRatio > 0 {
		s.KellyFraction = s.WinRate - (1-s.WinRate)/s.PayoffRatio
	} else if s.Losses == 0 {
		s.KellyFraction = s.WinRate
	}

	for month, pnl := range monthPnL {
		s.MonthlyReturnPct[month] = pnl / math.Max(monthStartCap[month], 1e-9) * 100
	}

	finalizeGroups(s.ByTag)
	finalizeGroups(s.ByDirection)
	return s
}

func addGroup(groups map[string]GroupStats, key string, pnl, r float64) {
	g := groups[key]
	g.Count++
	if pnl > 0 {
		g.Wins++
	}
	g.TotalPnL += pnl
	g.AvgR += r // running sum until finalizeGroups
	groups[key] = g
}

func finalizeGroups(groups map[string]GroupStats) {
	for key, g := range groups {
		g.WinRate = float64(g.Wins) / float64(g.Count)
		g.AvgR /= float64(g.Count)
		groups[key] = g
	}
}

// ulcerIndex is the root mean square of the drawdown series.
func ulcerIndex(curve []equity.Snapshot) float64 {
	if len(curve) == 0 {
		return 0
	}
	var ss float64
	for _, p := range curve {
		ss += p.DrawdownPct * p.DrawdownPct
	}
	return math.Sqrt(ss / float64(len(curve)))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleStd(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(n-1))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func maxOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v > out {
			out = v
		}
	}
	return out
}

func minOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}

// HoldSpan is a convenience for reports: the wall-clock span covered by the
// replay, zero when there are no trades.
func HoldSpan(trades []equity.AcceptedTrade) time.Duration {
	if len(trades) == 0 {
		return 0
	}
	firstIn := trades[0].TimeIn
	lastOut := trades[0].TimeOut
	for _, tr := range trades {
		if tr.TimeIn.Before(firstIn) {
			firstIn = tr.TimeIn
		}
		if tr.TimeOut.After(lastOut) {
			lastOut = tr.TimeOut
		}
	}
	return lastOut.Sub(firstIn)
}
