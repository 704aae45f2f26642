package ml

import (
	"math"
	"testing"
	"time"

	"elliott-backtester/internal/elliott"
	"elliott-backtester/internal/market"
	"elliott-backtester/internal/setups"
)

func TestBuildFeaturesVector(t *testing.T) {
	// Monday 15:30 UTC so the day-of-week encoding lands on zero.
	s := &market.Series{
		Symbol:    "QQQ",
		Timeframe: market.TimeframeH1,
		Candles: []market.Candle{{
			Time: time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC),
			Open: 199, High: 201, Low: 198.5, Close: 200,
		}},
		ATRPct:  []float64{1.5},
		EMAFast: []float64{198},
		EMASlow: []float64{202},
		RSI:     []float64{math.NaN()},
	}
	zone := elliott.Zone{Low: 190, High: 194}

	got := BuildFeatures(s, 0, elliott.DirectionUp, setups.TagW5, zone)

	if len(got) != NumFeatures {
		t.Fatalf("len = %d, want %d", len(got), NumFeatures)
	}
	if len(FeatureNames()) != NumFeatures {
		t.Fatalf("FeatureNames() has %d entries, want %d", len(FeatureNames()), NumFeatures)
	}

	hour := 15.5
	want := []float64{
		1,     // dir_up
		0,     // setup_w3
		1,     // setup_w5
		0,     // setup_c
		1.5,   // atr_pct
		-0.02, // (198-202)/200
		0.01,  // (200-198)/200
		0.02,  // (194-190)/200
		0.04,  // (200-192)/200
		50,    // NaN RSI falls back to neutral
		math.Sin(2 * math.Pi * hour / 24),
		math.Cos(2 * math.Pi * hour / 24),
		0, // sin(0)
		1, // cos(0)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("feature %s = %v, want %v", FeatureNames()[i], got[i], want[i])
		}
	}
}

func TestBuildFeaturesMissingColumns(t *testing.T) {
	s := &market.Series{
		Candles: []market.Candle{{
			Time:  time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
			Close: 100,
		}},
	}
	got := BuildFeatures(s, 0, elliott.DirectionDown, setups.TagC, elliott.Zone{Low: 98, High: 99})

	if got[0] != 0 {
		t.Errorf("dir_up = %v for a short, want 0", got[0])
	}
	if got[4] != 0 {
		t.Errorf("atr_pct = %v with no ATR column, want 0", got[4])
	}
	if got[5] != 0 || got[6] != 0 {
		t.Errorf("EMA features = (%v, %v) with no EMA columns, want zeros", got[5], got[6])
	}
	if got[9] != 50 {
		t.Errorf("rsi = %v with no RSI column, want 50", got[9])
	}
}

func TestBuildFeaturesZeroCloseGuard(t *testing.T) {
	s := &market.Series{
		Candles: []market.Candle{{Time: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}},
		EMAFast: []float64{1},
		EMASlow: []float64{2},
	}
	got := BuildFeatures(s, 0, elliott.DirectionUp, setups.TagW3, elliott.Zone{Low: 1, High: 2})

	for i, v := range got {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("feature %s = %v with a zero close, want finite", FeatureNames()[i], v)
		}
	}
}
