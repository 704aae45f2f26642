package elliott

import "math"

// DetectImpulses scans the pivot sequence for six-pivot impulse windows.
// An UP window reads LHLHLH (p0..p5) and must clear three gates:
//
//   - wave 2 holds above the wave-1 origin (p2 > p0) and wave 1 points up
//   - wave 3 reaches at least 0.6x wave 1
//   - wave 4 stays above 98% of the wave-1 top (2% overlap tolerance)
//
// plus an ATR significance floor on wave 3, measured at the p3 bar. DOWN
// windows mirror every gate with the overlap tolerance at 102%. Accepted
// windows advance the scan by three pivots so consecutive impulses can share
// their tail structure; rejected windows advance by one.
func (e *Engine) DetectImpulses(piv []Pivot, atr []float64) []Impulse {
	var res []Impulse
	i := 0
	for i <= len(piv)-6 {
		s := piv[i : i+6]
		switch kinds(s) {
		case "LHLHLH":
			p0, p1, p2, p3, p4 := s[0], s[1], s[2], s[3], s[4]
			w1 := p1.Price - p0.Price
			w3 := p3.Price - p2.Price
			if p2.Price <= p0.Price || w1 <= 0 {
				e.Stats.ImpulseWave2Overlap++
				i++
				continue
			}
			if w3 < 0.6*w1 {
				e.Stats.ImpulseWave3Ratio++
				i++
				continue
			}
			if p4.Price <= p1.Price*0.98 {
				e.Stats.ImpulseWave4Overlap++
				i++
				continue
			}
			atrAt := atrAtIndex(atr, p3.Index)
			if atrAt > 0 && w3/atrAt < e.minImpulseATR {
				e.Stats.ImpulseATRFloor++
				i++
				continue
			}
			res = append(res, Impulse{Direction: DirectionUp, Points: [6]Pivot(s)})
			i += 3
		case "HLHLHL":
			p0, p1, p2, p3, p4 := s[0], s[1], s[2], s[3], s[4]
			w1 := p0.Price - p1.Price
			w3 := p2.Price - p3.Price
			if p2.Price >= p0.Price || w1 <= 0 {
				e.Stats.ImpulseWave2Overlap++
				i++
				continue
			}
			if w3 < 0.6*w1 {
				e.Stats.ImpulseWave3Ratio++
				i++
				continue
			}
			if p4.Price >= p1.Price*1.02 {
				e.Stats.ImpulseWave4Overlap++
				i++
				continue
			}
			atrAt := atrAtIndex(atr, p3.Index)
			if atrAt > 0 && math.Abs(w3)/atrAt < e.minImpulseATR {
				e.Stats.ImpulseATRFloor++
				i++
				continue
			}
			res = append(res, Impulse{Direction: DirectionDown, Points: [6]Pivot(s)})
			i += 3
		default:
			i++
		}
	}
	return res
}

func atrAtIndex(atr []float64, idx int) float64 {
	if len(atr) == 0 {
		return 0
	}
	if idx >= len(atr) {
		idx = len(atr) - 1
	}
	return atr[idx]
}
