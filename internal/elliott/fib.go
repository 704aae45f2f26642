package elliott

import "math"

// Zone is a price band with Low <= High.
type Zone struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Contains reports whether price lies inside the zone.
func (z Zone) Contains(price float64) bool {
	return z.Low <= price && price <= z.High
}

// Width returns the zone height.
func (z Zone) Width() float64 {
	return z.High - z.Low
}

// Center returns the zone midpoint.
func (z Zone) Center() float64 {
	return (z.Low + z.High) / 2
}

// FibZone projects a retracement band of the leg A->B. The ratio pair is
// sorted before use, and the result always has Low <= High regardless of
// direction.
func FibZone(a, b float64, d Direction, rLo, rHi float64) Zone {
	lo := math.Min(rLo, rHi)
	hi := math.Max(rLo, rHi)

	var zL, zH float64
	if d == DirectionUp {
		leg := b - a
		zL = b - leg*hi
		zH = b - leg*lo
	} else {
		leg := a - b
		zL = b + leg*lo
		zH = b + leg*hi
	}
	return Zone{Low: math.Min(zL, zH), High: math.Max(zL, zH)}
}

// FibExt projects an extension of the leg A->B beyond B. Ratio 1.0 returns
// exactly B.
func FibExt(a, b float64, d Direction, ratio float64) float64 {
	if d == DirectionUp {
		return b + (b-a)*(ratio-1.0)
	}
	return b - (a-b)*(ratio-1.0)
}
