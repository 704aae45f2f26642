package elliott

// DetectABCs scans the pivot sequence for four-pivot corrections. A DOWN
// correction reads HLHL: wave A falls from h0 to l1, wave B retraces 30-86%
// of it, and wave C closes below the wave-A low. UP corrections mirror the
// shape (LHLH) with wave C above the wave-B high. Accepted windows advance
// the scan by two pivots, rejected ones by one.
func (e *Engine) DetectABCs(piv []Pivot) []ABC {
	var out []ABC
	i := 0
	for i <= len(piv)-4 {
		s := piv[i : i+4]
		switch kinds(s) {
		case "HLHL":
			h0, l1, h1, l2 := s[0], s[1], s[2], s[3]
			a := h0.Price - l1.Price
			b := h1.Price - l1.Price
			if a <= 0 || b/a < 0.3 || b/a > 0.86 || l2.Price >= l1.Price {
				e.Stats.CorrectionShape++
				i++
				continue
			}
			out = append(out, ABC{Direction: DirectionDown, Points: [4]Pivot(s)})
			i += 2
		case "LHLH":
			l0, h1, l1, h2 := s[0], s[1], s[2], s[3]
			a := h1.Price - l0.Price
			b := h1.Price - l1.Price
			if a <= 0 || b/a < 0.3 || b/a > 0.86 || h2.Price <= h1.Price {
				e.Stats.CorrectionShape++
				i++
				continue
			}
			out = append(out, ABC{Direction: DirectionUp, Points: [4]Pivot(s)})
			i += 2
		default:
			i++
		}
	}
	return out
}
