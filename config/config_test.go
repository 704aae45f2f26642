package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProfileDefaults(t *testing.T) {
	tests := []struct {
		name            string
		profile         string
		wantRisk        float64
		wantUseADX      bool
		wantDDRisk      bool
		wantVolTarget   bool
		wantHardStop    bool
		wantOptimizeThr bool
		wantShortFactor float64
	}{
		{
			name:            "balanced",
			profile:         "balanced",
			wantRisk:        0.01,
			wantUseADX:      true,
			wantDDRisk:      true,
			wantVolTarget:   false,
			wantHardStop:    true,
			wantOptimizeThr: true,
			wantShortFactor: 0.75,
		},
		{
			name:            "aggressive leaves guards wide open",
			profile:         "aggressive",
			wantRisk:        0.01,
			wantUseADX:      true,
			wantDDRisk:      false,
			wantVolTarget:   false,
			wantHardStop:    false,
			wantOptimizeThr: false,
			wantShortFactor: 0.7,
		},
		{
			name:            "adaptive",
			profile:         "adaptive",
			wantRisk:        0.008,
			wantUseADX:      false,
			wantDDRisk:      true,
			wantVolTarget:   true,
			wantHardStop:    true,
			wantOptimizeThr: true,
			wantShortFactor: 0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Profile(tt.profile)
			if err != nil {
				t.Fatalf("Profile(%q) returned error: %v", tt.profile, err)
			}
			if cfg.Risk.PerTrade != tt.wantRisk {
				t.Errorf("Risk.PerTrade = %v, want %v", cfg.Risk.PerTrade, tt.wantRisk)
			}
			if cfg.Filters.UseADX != tt.wantUseADX {
				t.Errorf("Filters.UseADX = %v, want %v", cfg.Filters.UseADX, tt.wantUseADX)
			}
			if cfg.Risk.DynamicDDRisk != tt.wantDDRisk {
				t.Errorf("Risk.DynamicDDRisk = %v, want %v", cfg.Risk.DynamicDDRisk, tt.wantDDRisk)
			}
			if cfg.Risk.UseVolTarget != tt.wantVolTarget {
				t.Errorf("Risk.UseVolTarget = %v, want %v", cfg.Risk.UseVolTarget, tt.wantVolTarget)
			}
			if cfg.HardStopEnabled() != tt.wantHardStop {
				t.Errorf("HardStopEnabled() = %v, want %v", cfg.HardStopEnabled(), tt.wantHardStop)
			}
			if cfg.ML.OptimizeThreshold != tt.wantOptimizeThr {
				t.Errorf("ML.OptimizeThreshold = %v, want %v", cfg.ML.OptimizeThreshold, tt.wantOptimizeThr)
			}
			if cfg.Risk.SizeShortFactor != tt.wantShortFactor {
				t.Errorf("Risk.SizeShortFactor = %v, want %v", cfg.Risk.SizeShortFactor, tt.wantShortFactor)
			}
			if cfg.Entries.TP1 != 1.272 || cfg.Entries.TP2 != 1.618 {
				t.Errorf("targets = %v/%v, want 1.272/1.618", cfg.Entries.TP1, cfg.Entries.TP2)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("profile %q does not validate: %v", tt.profile, err)
			}
		})
	}
}

func TestProfileUnknown(t *testing.T) {
	if _, err := Profile("turbo"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestProfileEmptyDefaultsToBalanced(t *testing.T) {
	cfg, err := Profile("")
	if err != nil {
		t.Fatalf("Profile(\"\") returned error: %v", err)
	}
	if cfg.Profile != "balanced" {
		t.Errorf("default profile = %q, want balanced", cfg.Profile)
	}
}

func TestCloneIsolation(t *testing.T) {
	orig, _ := Profile("balanced")
	clone := orig.Clone()

	clone.Risk.DDRiskSteps[0].Multiplier = 0.0
	clone.Confirm.Rules[0] = "changed"
	clone.Risk.PerTrade = 0.5

	if orig.Risk.DDRiskSteps[0].Multiplier == 0.0 {
		t.Error("mutating clone DDRiskSteps changed the original")
	}
	if orig.Confirm.Rules[0] == "changed" {
		t.Error("mutating clone Rules changed the original")
	}
	if orig.Risk.PerTrade == 0.5 {
		t.Error("mutating clone scalar changed the original")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero capital", func(c *Config) { c.StartCapital = 0 }, true},
		{"train frac too high", func(c *Config) { c.ML.TrainFrac = 1.0 }, true},
		{"risk clamp inverted", func(c *Config) { c.Risk.PerTradeMin = 0.05; c.Risk.PerTradeMax = 0.01 }, true},
		{"targets inverted", func(c *Config) { c.Entries.TP1 = 2.0; c.Entries.TP2 = 1.272 }, true},
		{"unknown confirm rule", func(c *Config) { c.Confirm.Rules = []string{"volume_spike"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := Profile("balanced")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"symbol": "IWM", "risk": {"per_trade": 0.005}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path, "balanced")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Symbol != "IWM" {
		t.Errorf("Symbol = %q, want IWM", cfg.Symbol)
	}
	if cfg.Risk.PerTrade != 0.005 {
		t.Errorf("Risk.PerTrade = %v, want 0.005", cfg.Risk.PerTrade)
	}
	// Untouched keys keep their profile values.
	if cfg.Entries.WindowH1 != 72 {
		t.Errorf("Entries.WindowH1 = %d, want 72", cfg.Entries.WindowH1)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json", "balanced"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EW_SYMBOL", "DIA")
	t.Setenv("EW_POSTGRES_DSN", "postgres://test")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("", "balanced")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Symbol != "DIA" {
		t.Errorf("Symbol = %q, want DIA", cfg.Symbol)
	}
	if cfg.Postgres.DSN != "postgres://test" {
		t.Errorf("Postgres.DSN = %q, want postgres://test", cfg.Postgres.DSN)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestConfirmRuleEnabled(t *testing.T) {
	cfg, _ := Profile("balanced")
	if !cfg.ConfirmRuleEnabled(RuleBreakPrevExtreme) {
		t.Error("break_prev_extreme should be enabled by default")
	}
	if !cfg.ConfirmRuleEnabled(RuleEMAFastCross) {
		t.Error("ema_fast_cross should be enabled by default")
	}
	cfg.Confirm.Rules = []string{RuleBreakPrevExtreme}
	if cfg.ConfirmRuleEnabled(RuleEMAFastCross) {
		t.Error("ema_fast_cross should be disabled after trimming rules")
	}
}

func TestGenerateSampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("GenerateSampleConfig returned error: %v", err)
	}
	cfg, err := Load(path, "balanced")
	if err != nil {
		t.Fatalf("loading generated sample: %v", err)
	}
	if cfg.Entries.TP1 != 1.272 {
		t.Errorf("sample TP1 = %v, want 1.272", cfg.Entries.TP1)
	}
}
