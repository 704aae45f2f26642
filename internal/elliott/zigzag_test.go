package elliott

import (
	"math"
	"testing"
)

func TestZigzagDetectsSwings(t *testing.T) {
	// 5% reversal threshold, no ATR term: swings of 6+ points around the
	// 100 level flip the scan each time.
	e := NewEngine(0.05, 0, 2.0)
	close := []float64{100, 110, 104, 112, 106}

	piv := e.Zigzag(close, nil)

	want := []Pivot{
		{Index: 0, Price: 100, Kind: PivotLow},
		{Index: 1, Price: 110, Kind: PivotHigh},
		{Index: 2, Price: 104, Kind: PivotLow},
		{Index: 3, Price: 112, Kind: PivotHigh},
	}
	if len(piv) != len(want) {
		t.Fatalf("got %d pivots, want %d: %+v", len(piv), len(want), piv)
	}
	for i := range want {
		if piv[i] != want[i] {
			t.Errorf("pivot %d = %+v, want %+v", i, piv[i], want[i])
		}
	}
}

func TestZigzagTooFewSamples(t *testing.T) {
	e := NewEngine(0.05, 0, 2.0)
	if piv := e.Zigzag([]float64{100, 105}, nil); len(piv) != 0 {
		t.Errorf("expected no pivots for 2 bars, got %d", len(piv))
	}
}

func TestZigzagAlternation(t *testing.T) {
	// Pseudo-random walk; whatever comes out must strictly alternate H/L.
	e := NewEngine(0.02, 0.5, 2.0)
	n := 500
	close := make([]float64, n)
	atr := make([]float64, n)
	price := 100.0
	seed := uint64(42)
	for i := 0; i < n; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		step := float64(int64(seed>>33)%200-100) / 50.0
		price += step
		close[i] = price
		atr[i] = 1.5
	}

	piv := e.Zigzag(close, atr)
	if len(piv) < 2 {
		t.Fatalf("random walk produced only %d pivots", len(piv))
	}
	for i := 1; i < len(piv); i++ {
		if piv[i].Kind == piv[i-1].Kind {
			t.Fatalf("pivots %d and %d share kind %s", i-1, i, piv[i].Kind)
		}
		if piv[i].Index <= piv[i-1].Index {
			t.Fatalf("pivot indices not increasing at %d", i)
		}
	}
}

func TestZigzagATRDominatesThreshold(t *testing.T) {
	// With a huge ATR multiple the same swings are too small to register.
	loose := NewEngine(0.05, 0, 2.0)
	strict := NewEngine(0.05, 50, 2.0)
	close := []float64{100, 110, 104, 112, 106}
	atr := []float64{1, 1, 1, 1, 1}

	if len(loose.Zigzag(close, atr)) == 0 {
		t.Fatal("loose engine should find pivots")
	}
	if got := strict.Zigzag(close, atr); len(got) != 0 {
		t.Errorf("strict engine should find no pivots, got %+v", got)
	}
}

func TestZigzagNaNATRFallsBackToPct(t *testing.T) {
	e := NewEngine(0.05, 100, 2.0)
	close := []float64{100, 110, 104, 112, 106}
	atr := []float64{math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN()}

	piv := e.Zigzag(close, atr)
	if len(piv) != 4 {
		t.Errorf("NaN ATR should fall back to pct threshold, got %d pivots", len(piv))
	}
}
