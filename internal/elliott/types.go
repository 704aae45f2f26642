// Package elliott detects the price structures the backtester trades:
// adaptive zigzag pivots, five-wave impulses and ABC corrections, plus the
// fib zone and extension math derived from them.
package elliott

// PivotKind marks a pivot as a swing high or swing low.
type PivotKind string

const (
	PivotHigh PivotKind = "H"
	PivotLow  PivotKind = "L"
)

// Direction is the trend direction of a detected structure.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// IsUp reports whether the direction is upward.
func (d Direction) IsUp() bool {
	return d == DirectionUp
}

// Pivot is a confirmed swing point on a close series.
type Pivot struct {
	Index int       `json:"index"`
	Price float64   `json:"price"`
	Kind  PivotKind `json:"kind"`
}

// Impulse is a six-pivot five-wave structure. Points run p0..p5 with
// alternating kinds; direction UP means LHLHLH.
type Impulse struct {
	Direction Direction `json:"direction"`
	Points    [6]Pivot  `json:"points"`
}

// ABC is a four-pivot three-wave correction. Points run A0,A1,B1,C1.
type ABC struct {
	Direction Direction `json:"direction"`
	Points    [4]Pivot  `json:"points"`
}

// RejectionStats counts candidate windows discarded by the structural gates.
// The engine is single-threaded; counts accumulate across Detect calls until
// Reset.
type RejectionStats struct {
	ImpulseWave2Overlap int `json:"impulse_wave2_overlap"`
	ImpulseWave3Ratio   int `json:"impulse_wave3_ratio"`
	ImpulseWave4Overlap int `json:"impulse_wave4_overlap"`
	ImpulseATRFloor     int `json:"impulse_atr_floor"`
	CorrectionShape     int `json:"correction_shape"`
}

// Total returns the combined rejection count.
func (r RejectionStats) Total() int {
	return r.ImpulseWave2Overlap + r.ImpulseWave3Ratio + r.ImpulseWave4Overlap +
		r.ImpulseATRFloor + r.CorrectionShape
}

func kinds(piv []Pivot) string {
	b := make([]byte, len(piv))
	for i, p := range piv {
		b[i] = p.Kind[0]
	}
	return string(b)
}
