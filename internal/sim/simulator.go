package sim

import (
	"time"

	"elliott-backtester/internal/elliott"
	"elliott-backtester/internal/market"
	"elliott-backtester/internal/setups"
)

// Position is the open fraction of a managed trade.
type Position string

const (
	PositionFull   Position = "FULL"
	PositionHalf   Position = "HALF"
	PositionClosed Position = "CLOSED"
)

// Fraction returns the share of the original size still open.
func (p Position) Fraction() float64 {
	switch p {
	case PositionFull:
		return 1.0
	case PositionHalf:
		return 0.5
	default:
		return 0.0
	}
}

// Outcome is the result of managing one trade to its exit.
type Outcome struct {
	ExitIndex int
	ExitPrice float64
	PerShare  float64 // realized PnL per share across all exits
	MAER      float64 // worst adverse excursion in R multiples, <= 0
	MFER      float64 // best favorable excursion in R multiples, >= 0
}

// Trade is one simulated trade with its entry snapshot and outcome.
type Trade struct {
	Timeframe    market.Timeframe  `json:"timeframe"`
	EntryIndex   int               `json:"entry_index"`
	ExitIndex    int               `json:"exit_index"`
	Entry        float64           `json:"entry"`
	Exit         float64           `json:"exit"`
	PerShare     float64           `json:"per_share"`
	RiskPerShare float64           `json:"risk_per_share"`
	Tag          setups.Tag        `json:"tag"`
	Direction    elliott.Direction `json:"direction"`
	TimeIn       time.Time         `json:"time_in"`
	TimeOut      time.Time         `json:"time_out"`
	Stop         float64           `json:"stop"`
	Target1      float64           `json:"target1"`
	Target2      float64           `json:"target2"`
	MAER         float64           `json:"mae_r"`
	MFER         float64           `json:"mfe_r"`
	Features     []float64         `json:"features,omitempty"`
	Label        int               `json:"label"`
}

// Simulate manages a position bar by bar from the entry bar forward. Half the
// position exits at the first target and the stop moves to break even; the
// stop also moves to break even once the move reaches one initial risk. The
// remainder exits at the second target, at the stop, or at the close of the
// last bar inside the horizon. MAE and MFE are tracked in R multiples of the
// initial risk.
//
// Within a single bar the checks run in a fixed order: break-even promotion,
// first target, stop, second target. The caller guarantees a positive risk
// per share.
func Simulate(s *market.Series, entryIdx int, entry float64, d elliott.Direction, stop, tp1, tp2 float64, horizon int) Outcome {
	rps := entry - stop
	if !d.IsUp() {
		rps = stop - entry
	}

	pos := PositionFull
	realized := 0.0
	extreme := entry
	maeR := 0.0
	mfeR := 0.0
	endIdx := min(entryIdx+horizon, s.Len()-1)

	out := Outcome{ExitIndex: endIdx}
	for i := entryIdx + 1; i <= endIdx; i++ {
		hi := s.Candles[i].High
		lo := s.Candles[i].Low

		if d.IsUp() {
			extreme = max(extreme, hi)
			maeR = min(maeR, (lo-entry)/rps)
			mfeR = max(mfeR, (hi-entry)/rps)
			if pos == PositionFull && extreme-entry >= rps {
				stop = max(stop, entry)
			}
			if pos == PositionFull && hi >= tp1 {
				realized += (tp1 - entry) * 0.5
				pos = PositionHalf
				stop = entry
			}
			if lo <= stop {
				realized += (stop - entry) * pos.Fraction()
				out.ExitIndex = i
				out.ExitPrice = stop
				pos = PositionClosed
				break
			}
			if pos == PositionHalf && hi >= tp2 {
				realized += (tp2 - entry) * 0.5
				out.ExitIndex = i
				out.ExitPrice = tp2
				pos = PositionClosed
				break
			}
		} else {
			extreme = min(extreme, lo)
			maeR = min(maeR, (entry-hi)/rps)
			mfeR = max(mfeR, (entry-lo)/rps)
			if pos == PositionFull && entry-extreme >= rps {
				stop = min(stop, entry)
			}
			if pos == PositionFull && lo <= tp1 {
				realized += (entry - tp1) * 0.5
				pos = PositionHalf
				stop = entry
			}
			if hi >= stop {
				realized += (entry - stop) * pos.Fraction()
				out.ExitIndex = i
				out.ExitPrice = stop
				pos = PositionClosed
				break
			}
			if pos == PositionHalf && lo <= tp2 {
				realized += (entry - tp2) * 0.5
				out.ExitIndex = i
				out.ExitPrice = tp2
				pos = PositionClosed
				break
			}
		}
	}

	if pos != PositionClosed {
		last := s.Candles[endIdx].Close
		if d.IsUp() {
			realized += (last - entry) * pos.Fraction()
			mfeR = max(mfeR, (last-entry)/rps)
		} else {
			realized += (entry - last) * pos.Fraction()
			mfeR = max(mfeR, (entry-last)/rps)
		}
		out.ExitIndex = endIdx
		out.ExitPrice = last
	}

	out.PerShare = realized
	out.MAER = maeR
	out.MFER = mfeR
	return out
}
