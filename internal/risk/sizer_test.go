package risk

import (
	"math"
	"testing"

	"elliott-backtester/config"
	"elliott-backtester/internal/elliott"
	"elliott-backtester/internal/logging"
)

func sizerConfig(mut func(*config.Config)) config.Config {
	cfg, _ := config.Profile("balanced")
	cfg.Risk.DynamicDDRisk = false
	cfg.Risk.UseVolTarget = false
	cfg.ML.SizeByProb = false
	if mut != nil {
		mut(&cfg)
	}
	return cfg
}

func newSizer(cfg config.Config) *Sizer {
	return NewSizer(cfg, logging.Default())
}

func TestSizeBaseCase(t *testing.T) {
	s := newSizer(sizerConfig(nil))
	dec := s.Size(Inputs{
		Capital:      100_000,
		RiskPerShare: 2,
		Direction:    elliott.DirectionUp,
	})

	if dec.RiskFraction != 0.01 {
		t.Errorf("risk fraction = %v, want the 0.01 base", dec.RiskFraction)
	}
	if dec.Shares != 500 {
		t.Errorf("shares = %v, want 500", dec.Shares)
	}
	if dec.DDMult != 1 || dec.VolMult != 1 || dec.ProbMult != 1 || dec.ShortMult != 1 {
		t.Errorf("multipliers = %+v, want all 1 with the scalers disabled", dec)
	}
}

func TestDrawdownLadderPicksMostSevereTier(t *testing.T) {
	cfg := sizerConfig(func(c *config.Config) { c.Risk.DynamicDDRisk = true })
	s := newSizer(cfg)

	tests := []struct {
		dd   float64
		want float64
	}{
		{0, 1.0},
		{-5, 1.0},
		{-10, 0.75}, // boundary is inclusive
		{-15, 0.75},
		{-25, 0.5}, // breaches -10 and -20, deeper tier wins
		{-45, 0.25},
	}
	for _, tt := range tests {
		dec := s.Size(Inputs{Capital: 100_000, RiskPerShare: 2, CurrentDD: tt.dd, Direction: elliott.DirectionUp})
		if dec.DDMult != tt.want {
			t.Errorf("dd %v: mult = %v, want %v", tt.dd, dec.DDMult, tt.want)
		}
	}
}

func TestDrawdownLadderOrderIndependent(t *testing.T) {
	cfg := sizerConfig(func(c *config.Config) {
		c.Risk.DynamicDDRisk = true
		// Deliberately scrambled ladder.
		c.Risk.DDRiskSteps = []config.DDStep{
			{DrawdownPct: -30, Multiplier: 0.35},
			{DrawdownPct: -10, Multiplier: 0.75},
			{DrawdownPct: -40, Multiplier: 0.25},
			{DrawdownPct: -20, Multiplier: 0.5},
		}
	})
	s := newSizer(cfg)

	dec := s.Size(Inputs{Capital: 100_000, RiskPerShare: 2, CurrentDD: -33, Direction: elliott.DirectionUp})
	if dec.DDMult != 0.35 {
		t.Errorf("mult = %v with scrambled steps, want 0.35", dec.DDMult)
	}
}

func TestClampAppliesAfterAllScaling(t *testing.T) {
	// 0.01 * 0.25 * 0.75 = 0.001875 raw, below the 0.002 floor. The clamp
	// must act on the product, not on any individual factor.
	cfg := sizerConfig(func(c *config.Config) { c.Risk.DynamicDDRisk = true })
	s := newSizer(cfg)

	dec := s.Size(Inputs{
		Capital:      100_000,
		RiskPerShare: 2,
		CurrentDD:    -45,
		Direction:    elliott.DirectionDown,
	})

	if dec.DDMult != 0.25 || dec.ShortMult != 0.75 {
		t.Fatalf("multipliers = %+v, want dd 0.25 and short 0.75", dec)
	}
	if dec.RiskFraction != 0.002 {
		t.Errorf("risk fraction = %v, want clamped to the 0.002 floor", dec.RiskFraction)
	}
	if dec.Shares != 100 {
		t.Errorf("shares = %v, want 100", dec.Shares)
	}
}

func TestVolTargetMultiplier(t *testing.T) {
	cfg := sizerConfig(func(c *config.Config) { c.Risk.UseVolTarget = true })
	s := newSizer(cfg)
	size := func(recent []float64) Decision {
		return s.Size(Inputs{Capital: 100_000, RiskPerShare: 2, RecentR: recent, Direction: elliott.DirectionUp})
	}

	if dec := size([]float64{1, -1, 2}); dec.VolMult != 1 {
		t.Errorf("mult = %v on a thin window, want 1", dec.VolMult)
	}
	if dec := size([]float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}); dec.VolMult != 1 {
		t.Errorf("mult = %v on constant outcomes, want 1", dec.VolMult)
	}

	wild := make([]float64, 10)
	for i := range wild {
		wild[i] = 2 * float64(1-2*(i%2)) // +-2 alternating
	}
	if dec := size(wild); dec.VolMult != 0.4 {
		t.Errorf("mult = %v on wild outcomes, want floor 0.4", dec.VolMult)
	}

	quiet := make([]float64, 10)
	for i := range quiet {
		quiet[i] = 0.01 * float64(1-2*(i%2))
	}
	if dec := size(quiet); dec.VolMult != 1.6 {
		t.Errorf("mult = %v on quiet outcomes, want cap 1.6", dec.VolMult)
	}

	// Sample std sqrt(0.00625) puts the raw multiplier inside the band.
	mid := []float64{0.05, 0.10, 0.15, 0.20, 0.25}
	want := 0.25 / (4 * math.Sqrt(0.00625))
	if dec := size(mid); math.Abs(dec.VolMult-want) > 1e-12 {
		t.Errorf("mult = %v, want %v", dec.VolMult, want)
	}
}

func TestVolTargetUsesTrailingWindow(t *testing.T) {
	cfg := sizerConfig(func(c *config.Config) {
		c.Risk.UseVolTarget = true
		c.Risk.VolWindowTrades = 40
	})
	s := newSizer(cfg)

	recent := make([]float64, 50)
	for i := 0; i < 10; i++ {
		recent[i] = 5 * float64(1-2*(i%2)) // old noise outside the window
	}
	for i := 10; i < 50; i++ {
		recent[i] = 0.5
	}
	dec := s.Size(Inputs{Capital: 100_000, RiskPerShare: 2, RecentR: recent, Direction: elliott.DirectionUp})
	if dec.VolMult != 1 {
		t.Errorf("mult = %v, want 1 from the constant trailing window", dec.VolMult)
	}
}

func TestProbMultiplier(t *testing.T) {
	cfg := sizerConfig(func(c *config.Config) { c.ML.SizeByProb = true })
	s := newSizer(cfg)
	size := func(prob float64, hasProb bool) Decision {
		return s.Size(Inputs{
			Capital: 100_000, RiskPerShare: 2, Direction: elliott.DirectionUp,
			Prob: prob, HasProb: hasProb, Threshold: 0.5,
		})
	}

	tests := []struct {
		name    string
		prob    float64
		hasProb bool
		want    float64
	}{
		{"no probability", 0, false, 1.0},
		{"at threshold", 0.5, true, 0.7},
		{"below threshold floors", 0.3, true, 0.7},
		{"halfway to certain", 0.75, true, 1.05},
		{"certain win", 1.0, true, 1.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := size(tt.prob, tt.hasProb)
			if math.Abs(dec.ProbMult-tt.want) > 1e-9 {
				t.Errorf("prob mult = %v, want %v", dec.ProbMult, tt.want)
			}
		})
	}
}

func TestShortDiscount(t *testing.T) {
	s := newSizer(sizerConfig(nil))
	long := s.Size(Inputs{Capital: 100_000, RiskPerShare: 2, Direction: elliott.DirectionUp})
	short := s.Size(Inputs{Capital: 100_000, RiskPerShare: 2, Direction: elliott.DirectionDown})

	if short.ShortMult != 0.75 {
		t.Errorf("short mult = %v, want 0.75", short.ShortMult)
	}
	if long.Shares != 500 || short.Shares != 375 {
		t.Errorf("shares = %v long / %v short, want 500 / 375", long.Shares, short.Shares)
	}
}

func TestSizeFloorsAtOneShare(t *testing.T) {
	s := newSizer(sizerConfig(nil))
	dec := s.Size(Inputs{Capital: 50, RiskPerShare: 10, Direction: elliott.DirectionUp})
	if dec.Shares != 1 {
		t.Errorf("shares = %v, want the 1-share floor", dec.Shares)
	}
}

func TestHardStop(t *testing.T) {
	s := newSizer(sizerConfig(nil)) // balanced stops at -60
	if s.HardStopHit(-59) {
		t.Error("hard stop fired above the limit")
	}
	if !s.HardStopHit(-60) {
		t.Error("hard stop inactive at the limit")
	}
	if !s.HardStopHit(-75) {
		t.Error("hard stop inactive below the limit")
	}

	off := sizerConfig(func(c *config.Config) { c.Risk.MaxDrawdownStop = -1e9 })
	if newSizer(off).HardStopHit(-99) {
		t.Error("disabled hard stop fired")
	}
}
