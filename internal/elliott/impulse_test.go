package elliott

import "testing"

func flatATR(n int, v float64) []float64 {
	atr := make([]float64, n)
	for i := range atr {
		atr[i] = v
	}
	return atr
}

func pivots(rows []struct {
	idx   int
	price float64
	kind  PivotKind
}) []Pivot {
	out := make([]Pivot, len(rows))
	for i, r := range rows {
		out[i] = Pivot{Index: r.idx, Price: r.price, Kind: r.kind}
	}
	return out
}

func TestDetectImpulsesUp(t *testing.T) {
	e := NewEngine(0.01, 0.5, 2.0)
	piv := pivots([]struct {
		idx   int
		price float64
		kind  PivotKind
	}{
		{0, 100, PivotLow}, {1, 110, PivotHigh}, {2, 105, PivotLow},
		{3, 115, PivotHigh}, {4, 108, PivotLow}, {5, 120, PivotHigh},
	})

	imps := e.DetectImpulses(piv, flatATR(6, 1.0))
	if len(imps) != 1 {
		t.Fatalf("got %d impulses, want exactly 1", len(imps))
	}
	imp := imps[0]
	if imp.Direction != DirectionUp {
		t.Errorf("direction = %s, want UP", imp.Direction)
	}
	if imp.Points[0].Price != 100 || imp.Points[5].Price != 120 {
		t.Errorf("points anchor wrong: %+v", imp.Points)
	}
}

func TestDetectImpulsesDown(t *testing.T) {
	e := NewEngine(0.01, 0.5, 2.0)
	piv := pivots([]struct {
		idx   int
		price float64
		kind  PivotKind
	}{
		{0, 120, PivotHigh}, {1, 110, PivotLow}, {2, 115, PivotHigh},
		{3, 105, PivotLow}, {4, 112, PivotHigh}, {5, 100, PivotLow},
	})

	imps := e.DetectImpulses(piv, flatATR(6, 1.0))
	if len(imps) != 1 {
		t.Fatalf("got %d impulses, want exactly 1", len(imps))
	}
	if imps[0].Direction != DirectionDown {
		t.Errorf("direction = %s, want DOWN", imps[0].Direction)
	}
}

func TestDetectImpulsesGates(t *testing.T) {
	type row = struct {
		idx   int
		price float64
		kind  PivotKind
	}
	tests := []struct {
		name   string
		rows   []row
		atr    float64
		minImp float64
		want   int
		check  func(RejectionStats) bool
	}{
		{
			name: "wave 2 overlaps wave 1 origin",
			rows: []row{
				{0, 100, PivotLow}, {1, 110, PivotHigh}, {2, 99, PivotLow},
				{3, 115, PivotHigh}, {4, 108, PivotLow}, {5, 120, PivotHigh},
			},
			atr: 1, minImp: 2, want: 0,
			check: func(s RejectionStats) bool { return s.ImpulseWave2Overlap == 1 },
		},
		{
			name: "wave 3 below 0.6x wave 1",
			rows: []row{
				{0, 100, PivotLow}, {1, 110, PivotHigh}, {2, 105, PivotLow},
				{3, 110.5, PivotHigh}, {4, 108, PivotLow}, {5, 120, PivotHigh},
			},
			atr: 1, minImp: 2, want: 0,
			check: func(s RejectionStats) bool { return s.ImpulseWave3Ratio == 1 },
		},
		{
			name: "wave 4 dips below the overlap tolerance",
			rows: []row{
				{0, 100, PivotLow}, {1, 110, PivotHigh}, {2, 105, PivotLow},
				{3, 115, PivotHigh}, {4, 107, PivotLow}, {5, 120, PivotHigh},
			},
			atr: 1, minImp: 2, want: 0,
			check: func(s RejectionStats) bool { return s.ImpulseWave4Overlap == 1 },
		},
		{
			name: "wave 3 too small in ATR units",
			rows: []row{
				{0, 100, PivotLow}, {1, 110, PivotHigh}, {2, 105, PivotLow},
				{3, 115, PivotHigh}, {4, 108, PivotLow}, {5, 120, PivotHigh},
			},
			atr: 8, minImp: 2, want: 0,
			check: func(s RejectionStats) bool { return s.ImpulseATRFloor == 1 },
		},
		{
			name: "wave 4 just inside the tolerance",
			rows: []row{
				{0, 100, PivotLow}, {1, 110, PivotHigh}, {2, 105, PivotLow},
				{3, 115, PivotHigh}, {4, 107.9, PivotLow}, {5, 120, PivotHigh},
			},
			atr: 1, minImp: 2, want: 1,
			check: func(s RejectionStats) bool { return s.Total() == 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(0.01, 0.5, tt.minImp)
			imps := e.DetectImpulses(pivots(tt.rows), flatATR(6, tt.atr))
			if len(imps) != tt.want {
				t.Errorf("got %d impulses, want %d", len(imps), tt.want)
			}
			if !tt.check(e.Stats) {
				t.Errorf("rejection stats = %+v", e.Stats)
			}
		})
	}
}

func TestDetectImpulsesAdvancesPastAccepted(t *testing.T) {
	// Nine alternating pivots: an accepted impulse advances by three, so the
	// second window starts at p3 and shares the first impulse's tail.
	e := NewEngine(0.01, 0.5, 0.5)
	piv := pivots([]struct {
		idx   int
		price float64
		kind  PivotKind
	}{
		{0, 100, PivotLow}, {1, 110, PivotHigh}, {2, 105, PivotLow},
		{3, 115, PivotHigh}, {4, 110, PivotLow}, {5, 122, PivotHigh},
		{6, 116, PivotLow}, {7, 130, PivotHigh}, {8, 121, PivotLow},
	})

	imps := e.DetectImpulses(piv, flatATR(9, 1.0))
	if len(imps) != 1 {
		// Window 2 (p3..p8) reads HLHLHL but runs against the up sequence,
		// so only the first window matches.
		t.Fatalf("got %d impulses, want 1", len(imps))
	}
	if imps[0].Points[0].Index != 0 {
		t.Errorf("first impulse starts at %d, want 0", imps[0].Points[0].Index)
	}
}
