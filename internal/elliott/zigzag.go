package elliott

import (
	"math"
	"sort"
)

// Engine runs structure detection with one parameter set. The daily and
// hourly series each get their own engine.
type Engine struct {
	pct           float64
	atrMult       float64
	minImpulseATR float64

	Stats RejectionStats
}

// NewEngine creates an Engine. pct is the reversal threshold as a fraction of
// the last pivot price, atrMult the same threshold in ATR multiples; the
// larger of the two applies. minImpulseATR is the wave-3 significance floor.
func NewEngine(pct, atrMult, minImpulseATR float64) *Engine {
	return &Engine{pct: pct, atrMult: atrMult, minImpulseATR: minImpulseATR}
}

// ResetStats clears the accumulated rejection counters.
func (e *Engine) ResetStats() {
	e.Stats = RejectionStats{}
}

// threshold is the adaptive reversal distance at one bar. With no ATR
// reading only the percentage term applies.
func (e *Engine) threshold(base, atr float64) float64 {
	if math.IsNaN(atr) {
		return base * e.pct
	}
	return math.Max(base*e.pct, atr*e.atrMult)
}

// Zigzag detects alternating swing pivots on a close series. A pivot is
// emitted at the running extreme once price retreats from it by the adaptive
// threshold; the scan then flips direction. A final pass collapses any
// same-kind neighbors, keeping the more extreme pivot, so the result strictly
// alternates H and L. Fewer than three bars yield no pivots.
func (e *Engine) Zigzag(close, atr []float64) []Pivot {
	var piv []Pivot
	if len(close) < 3 {
		return piv
	}

	last := close[0]
	hi, lo := last, last
	hiIdx, loIdx := 0, 0
	var dir Direction

	for i := 1; i < len(close); i++ {
		p := close[i]
		atrAt := math.NaN()
		if i < len(atr) {
			atrAt = atr[i]
		}
		thr := e.threshold(last, atrAt)

		if dir == "" || dir == DirectionUp {
			if p > hi {
				hi, hiIdx = p, i
			}
			if hi-p >= thr {
				piv = append(piv, Pivot{Index: hiIdx, Price: hi, Kind: PivotHigh})
				last = hi
				lo, loIdx = p, i
				dir = DirectionDown
			}
		}
		if dir == "" || dir == DirectionDown {
			if p < lo {
				lo, loIdx = p, i
			}
			if p-lo >= thr {
				piv = append(piv, Pivot{Index: loIdx, Price: lo, Kind: PivotLow})
				last = lo
				hi, hiIdx = p, i
				dir = DirectionUp
			}
		}
	}

	sort.SliceStable(piv, func(a, b int) bool { return piv[a].Index < piv[b].Index })

	var cleaned []Pivot
	for _, p := range piv {
		if len(cleaned) == 0 || cleaned[len(cleaned)-1].Kind != p.Kind {
			cleaned = append(cleaned, p)
			continue
		}
		prev := &cleaned[len(cleaned)-1]
		if (p.Kind == PivotHigh && p.Price >= prev.Price) || (p.Kind == PivotLow && p.Price <= prev.Price) {
			*prev = p
		}
	}
	return cleaned
}
