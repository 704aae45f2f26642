package elliott

import "testing"

func TestDetectABCsUp(t *testing.T) {
	e := NewEngine(0.01, 0.5, 2.0)
	piv := pivots([]struct {
		idx   int
		price float64
		kind  PivotKind
	}{
		{0, 100, PivotLow}, {1, 110, PivotHigh}, {2, 105, PivotLow}, {3, 112, PivotHigh},
	})

	abcs := e.DetectABCs(piv)
	if len(abcs) != 1 {
		t.Fatalf("got %d corrections, want 1", len(abcs))
	}
	if abcs[0].Direction != DirectionUp {
		t.Errorf("direction = %s, want UP", abcs[0].Direction)
	}
}

func TestDetectABCsDown(t *testing.T) {
	e := NewEngine(0.01, 0.5, 2.0)
	piv := pivots([]struct {
		idx   int
		price float64
		kind  PivotKind
	}{
		{0, 120, PivotHigh}, {1, 110, PivotLow}, {2, 115, PivotHigh}, {3, 108, PivotLow},
	})

	abcs := e.DetectABCs(piv)
	if len(abcs) != 1 {
		t.Fatalf("got %d corrections, want 1", len(abcs))
	}
	if abcs[0].Direction != DirectionDown {
		t.Errorf("direction = %s, want DOWN", abcs[0].Direction)
	}
}

func TestDetectABCsRetraceBand(t *testing.T) {
	tests := []struct {
		name string
		b1   float64 // wave-B pivot price in an UP correction off 100->110
		want int
	}{
		{"retrace 50% passes", 105, 1},
		{"retrace 30% boundary passes", 107, 1},
		{"retrace 86% boundary passes", 101.4, 1},
		{"retrace 20% too shallow", 108, 0},
		{"retrace 90% too deep", 101, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(0.01, 0.5, 2.0)
			piv := pivots([]struct {
				idx   int
				price float64
				kind  PivotKind
			}{
				{0, 100, PivotLow}, {1, 110, PivotHigh}, {2, tt.b1, PivotLow}, {3, 115, PivotHigh},
			})
			abcs := e.DetectABCs(piv)
			if len(abcs) != tt.want {
				t.Errorf("b1=%v: got %d corrections, want %d", tt.b1, len(abcs), tt.want)
			}
			if tt.want == 0 && e.Stats.CorrectionShape != 1 {
				t.Errorf("rejection not counted: %+v", e.Stats)
			}
		})
	}
}

func TestDetectABCsRequiresBreak(t *testing.T) {
	e := NewEngine(0.01, 0.5, 2.0)
	// Wave C fails to clear the wave-B high.
	piv := pivots([]struct {
		idx   int
		price float64
		kind  PivotKind
	}{
		{0, 100, PivotLow}, {1, 110, PivotHigh}, {2, 105, PivotLow}, {3, 109, PivotHigh},
	})
	if abcs := e.DetectABCs(piv); len(abcs) != 0 {
		t.Errorf("got %d corrections, want 0 when C does not break", len(abcs))
	}
}

func TestDetectABCsOverlapAdvance(t *testing.T) {
	// Accepting advances by two pivots, so the next window reuses the tail.
	e := NewEngine(0.01, 0.5, 2.0)
	piv := pivots([]struct {
		idx   int
		price float64
		kind  PivotKind
	}{
		{0, 120, PivotHigh}, {1, 110, PivotLow}, {2, 115, PivotHigh},
		{3, 108, PivotLow}, {4, 113, PivotHigh}, {5, 106, PivotLow},
	})

	abcs := e.DetectABCs(piv)
	if len(abcs) != 2 {
		t.Fatalf("got %d corrections, want 2 overlapping", len(abcs))
	}
	if abcs[1].Points[0].Index != 2 {
		t.Errorf("second correction starts at pivot %d, want 2", abcs[1].Points[0].Index)
	}
}
