// Package config holds the immutable run configuration for the backtester.
// A Config is assembled from a named profile, an optional JSON file and
// environment overrides, then passed by value into the engine so that
// parameter sweeps can mutate their own copies without shared state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// DDStep maps an equity drawdown threshold (percent, negative) to a risk multiplier.
type DDStep struct {
	DrawdownPct float64 `json:"drawdown_pct"` // e.g. -20 means "down 20% from peak"
	Multiplier  float64 `json:"multiplier"`
}

// Zone is a fib retracement band; Low/High are ratios of the anchor leg.
type Zone struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// ZigzagConfig holds swing detection parameters for one price series.
type ZigzagConfig struct {
	Pct           float64 `json:"pct"`             // reversal threshold as fraction of last pivot price
	ATRMult       float64 `json:"atr_mult"`        // reversal threshold in ATR multiples
	MinImpulseATR float64 `json:"min_impulse_atr"` // minimum wave-3 size in ATR units
}

// StructureConfig groups the two wave engines: the daily series for the
// primary picture and the hourly series that generates tradeable setups.
type StructureConfig struct {
	ATRPeriod int          `json:"atr_period"`
	Primary   ZigzagConfig `json:"primary"`
	Trading   ZigzagConfig `json:"trading"`
}

// EntryConfig holds zone, target and holding parameters.
type EntryConfig struct {
	ZoneW3        Zone    `json:"zone_w3"`
	ZoneW5        Zone    `json:"zone_w5"`
	ZoneC         Zone    `json:"zone_c"`
	WindowH1      int     `json:"window_h1"` // bars after anchor to wait for a zone touch
	WindowM30     int     `json:"window_m30"`
	MaxHoldH1     int     `json:"max_hold_h1"` // forced exit horizon in bars
	MaxHoldM30    int     `json:"max_hold_m30"`
	TP1           float64 `json:"tp1"`             // fib extension ratio for the partial exit
	TP2           float64 `json:"tp2"`             // fib extension ratio for the runner
	ATRMultBuffer float64 `json:"atr_mult_buffer"` // stop pad beyond the structural level, in ATRs
	UseW5         bool    `json:"use_w5"`
}

// FilterConfig holds the pre-trade gates applied before a setup may trigger.
type FilterConfig struct {
	EMAFast                  int     `json:"ema_fast"`
	EMASlow                  int     `json:"ema_slow"`
	UseEMATrend              bool    `json:"use_ema_trend"`
	RequirePriceAboveEMAFast bool    `json:"require_price_above_ema_fast"`
	UseDailyEMA              bool    `json:"use_daily_ema"`
	ATRPctMin                float64 `json:"atr_pct_min"`
	ATRPctMax                float64 `json:"atr_pct_max"`
	UseADX                   bool    `json:"use_adx"`
	ADXTrendThreshold        float64 `json:"adx_trend_threshold"`
}

// Entry confirmation rule names.
const (
	RuleBreakPrevExtreme = "break_prev_extreme"
	RuleEMAFastCross     = "ema_fast_cross"
)

// ConfirmConfig controls how a zone touch must be confirmed before entry.
type ConfirmConfig struct {
	Require               bool     `json:"require"`
	BarsH1                int      `json:"bars_h1"`
	BarsM30               int      `json:"bars_m30"`
	Rules                 []string `json:"rules"`
	AllowTouchIfNoConfirm bool     `json:"allow_touch_if_no_confirm"` // fall back to window-end entry
}

// MLConfig controls the trade classifier and its threshold calibration.
type MLConfig struct {
	Enabled           bool    `json:"enabled"`
	TrainFrac         float64 `json:"train_frac"`
	Rounds            int     `json:"rounds"` // boosting rounds
	LearningRate      float64 `json:"learning_rate"`
	SizeByProb        bool    `json:"size_by_prob"`
	ProbSizeMin       float64 `json:"prob_size_min"`
	ProbSizeMax       float64 `json:"prob_size_max"`
	MinPassRateTest   float64 `json:"min_pass_rate_test"` // floor on out-of-sample acceptance rate
	OptimizeThreshold bool    `json:"optimize_threshold"`
}

// RiskConfig controls position sizing and the capital guards.
type RiskConfig struct {
	PerTrade        float64  `json:"per_trade"` // base risk fraction of capital
	DynamicDDRisk   bool     `json:"dynamic_dd_risk"`
	DDRiskSteps     []DDStep `json:"dd_risk_steps"`
	UseVolTarget    bool     `json:"use_vol_target"`
	TargetAnnualVol float64  `json:"target_annual_vol"`
	VolWindowTrades int      `json:"vol_window_trades"`
	PerTradeMin     float64  `json:"per_trade_min"`
	PerTradeMax     float64  `json:"per_trade_max"`
	MaxDrawdownStop float64  `json:"max_drawdown_stop"` // percent; values <= -1e8 disable the hard stop
	SizeShortFactor float64  `json:"size_short_factor"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `json:"level"`
	Output string `json:"output"` // "stdout", "stderr", or file path
	Format string `json:"format"` // "json" or "console"
}

// DataConfig points at the candle CSV directory.
type DataConfig struct {
	Dir string `json:"dir"`
}

// PostgresConfig holds result persistence settings. An empty DSN disables it.
type PostgresConfig struct {
	DSN string `json:"dsn"`
}

// RedisConfig holds the candle cache settings. An empty address disables it.
type RedisConfig struct {
	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl"`
}

// VaultConfig holds optional secret resolution settings.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// ServerConfig holds the report API settings.
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	AuthSecret      string `json:"auth_secret"`      // empty disables bearer auth
	ReadTimeout     int    `json:"read_timeout"`     // seconds
	WriteTimeout    int    `json:"write_timeout"`    // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// Config is the full run configuration.
type Config struct {
	Symbol       string  `json:"symbol"`
	Profile      string  `json:"profile"`
	StartCapital float64 `json:"start_capital"`

	Structure StructureConfig `json:"structure"`
	Entries   EntryConfig     `json:"entries"`
	Filters   FilterConfig    `json:"filters"`
	Confirm   ConfirmConfig   `json:"confirmation"`
	ML        MLConfig        `json:"ml"`
	Risk      RiskConfig      `json:"risk"`

	Logging  LoggingConfig  `json:"logging"`
	Data     DataConfig     `json:"data"`
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Vault    VaultConfig    `json:"vault"`
	Server   ServerConfig   `json:"server"`
}

// ProfileNames lists the built-in parameter presets.
func ProfileNames() []string {
	return []string{"balanced", "aggressive", "adaptive"}
}

// Profile returns the named parameter preset.
func Profile(name string) (Config, error) {
	switch name {
	case "", "balanced":
		return balancedProfile(), nil
	case "aggressive":
		return aggressiveProfile(), nil
	case "adaptive":
		return adaptiveProfile(), nil
	default:
		return Config{}, fmt.Errorf("unknown profile %q", name)
	}
}

func baseProfile() Config {
	return Config{
		StartCapital: 100_000.0,
		Structure:    StructureConfig{ATRPeriod: 14},
		Entries:      EntryConfig{TP1: 1.272, TP2: 1.618},
		ML: MLConfig{
			Enabled:         true,
			TrainFrac:       0.6,
			Rounds:          100,
			LearningRate:    0.1,
			SizeByProb:      true,
			MinPassRateTest: 0.25,
		},
		Risk: RiskConfig{
			// Clamp and hard stop are wide open unless a profile narrows them.
			TargetAnnualVol: 0.25,
			VolWindowTrades: 40,
			PerTradeMin:     0.0,
			PerTradeMax:     1.0,
			MaxDrawdownStop: -1e9,
			SizeShortFactor: 1.0,
		},
		Logging: LoggingConfig{Level: "info", Output: "stdout", Format: "console"},
		Data:    DataConfig{Dir: "data"},
		Redis:   RedisConfig{TTL: 24 * time.Hour},
		Vault:   VaultConfig{Address: "http://localhost:8200", MountPath: "secret", SecretPath: "elliott-backtester/secrets"},
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
	}
}

func balancedProfile() Config {
	cfg := baseProfile()
	cfg.Symbol = "QQQ"
	cfg.Profile = "balanced"
	cfg.Structure.Primary = ZigzagConfig{Pct: 0.013, ATRMult: 1.00, MinImpulseATR: 2.2}
	cfg.Structure.Trading = ZigzagConfig{Pct: 0.0030, ATRMult: 0.80, MinImpulseATR: 2.0}
	cfg.Entries.ZoneW3 = Zone{Low: 0.50, High: 0.786}
	cfg.Entries.ZoneW5 = Zone{Low: 0.236, High: 0.50}
	cfg.Entries.ZoneC = Zone{Low: 0.50, High: 0.786}
	cfg.Entries.WindowH1 = 72
	cfg.Entries.WindowM30 = 144
	cfg.Entries.MaxHoldH1 = 144
	cfg.Entries.MaxHoldM30 = 288
	cfg.Entries.ATRMultBuffer = 0.25
	cfg.Filters = FilterConfig{
		EMAFast:           50,
		EMASlow:           200,
		UseEMATrend:       false,
		UseDailyEMA:       true,
		ATRPctMin:         0.06,
		ATRPctMax:         2.00,
		UseADX:            true,
		ADXTrendThreshold: 25,
	}
	cfg.Confirm = ConfirmConfig{
		Require:               true,
		BarsH1:                5,
		BarsM30:               10,
		Rules:                 []string{RuleBreakPrevExtreme, RuleEMAFastCross},
		AllowTouchIfNoConfirm: true,
	}
	cfg.ML.ProbSizeMin = 0.7
	cfg.ML.ProbSizeMax = 1.4
	cfg.ML.OptimizeThreshold = true
	cfg.Risk.PerTrade = 0.01
	cfg.Risk.DynamicDDRisk = true
	cfg.Risk.DDRiskSteps = []DDStep{{-10, 0.75}, {-20, 0.5}, {-30, 0.35}, {-40, 0.25}}
	cfg.Risk.PerTradeMin = 0.002
	cfg.Risk.PerTradeMax = 0.02
	cfg.Risk.MaxDrawdownStop = -60.0
	cfg.Risk.SizeShortFactor = 0.75
	return cfg
}

func aggressiveProfile() Config {
	cfg := baseProfile()
	cfg.Symbol = "SPX"
	cfg.Profile = "aggressive"
	cfg.Structure.Primary = ZigzagConfig{Pct: 0.012, ATRMult: 0.90, MinImpulseATR: 1.8}
	cfg.Structure.Trading = ZigzagConfig{Pct: 0.0020, ATRMult: 0.60, MinImpulseATR: 1.6}
	cfg.Entries.ZoneW3 = Zone{Low: 0.382, High: 0.786}
	cfg.Entries.ZoneW5 = Zone{Low: 0.236, High: 0.618}
	cfg.Entries.ZoneC = Zone{Low: 0.382, High: 0.786}
	cfg.Entries.WindowH1 = 96
	cfg.Entries.WindowM30 = 192
	cfg.Entries.MaxHoldH1 = 192
	cfg.Entries.MaxHoldM30 = 384
	cfg.Entries.ATRMultBuffer = 0.20
	cfg.Filters = FilterConfig{
		EMAFast:           34,
		EMASlow:           144,
		UseEMATrend:       false,
		UseDailyEMA:       false,
		ATRPctMin:         0.05,
		ATRPctMax:         2.50,
		UseADX:            true,
		ADXTrendThreshold: 25,
	}
	cfg.Confirm = ConfirmConfig{
		Require:               true,
		BarsH1:                6,
		BarsM30:               12,
		Rules:                 []string{RuleBreakPrevExtreme, RuleEMAFastCross},
		AllowTouchIfNoConfirm: true,
	}
	cfg.ML.ProbSizeMin = 0.7
	cfg.ML.ProbSizeMax = 1.5
	cfg.Risk.PerTrade = 0.01
	cfg.Risk.SizeShortFactor = 0.7
	return cfg
}

func adaptiveProfile() Config {
	cfg := baseProfile()
	cfg.Symbol = "QQQ"
	cfg.Profile = "adaptive"
	cfg.Structure.Primary = ZigzagConfig{Pct: 0.012, ATRMult: 0.90, MinImpulseATR: 1.9}
	cfg.Structure.Trading = ZigzagConfig{Pct: 0.0022, ATRMult: 0.60, MinImpulseATR: 1.7}
	cfg.Entries.ZoneW3 = Zone{Low: 0.382, High: 0.786}
	cfg.Entries.ZoneW5 = Zone{Low: 0.236, High: 0.618}
	cfg.Entries.ZoneC = Zone{Low: 0.382, High: 0.786}
	cfg.Entries.WindowH1 = 96
	cfg.Entries.WindowM30 = 192
	cfg.Entries.MaxHoldH1 = 192
	cfg.Entries.MaxHoldM30 = 384
	cfg.Entries.ATRMultBuffer = 0.20
	cfg.Filters = FilterConfig{
		EMAFast:           34,
		EMASlow:           144,
		UseEMATrend:       true,
		UseDailyEMA:       false,
		ATRPctMin:         0.05,
		ATRPctMax:         2.30,
		UseADX:            false,
		ADXTrendThreshold: 25,
	}
	cfg.Confirm = ConfirmConfig{
		Require:               true,
		BarsH1:                6,
		BarsM30:               12,
		Rules:                 []string{RuleBreakPrevExtreme, RuleEMAFastCross},
		AllowTouchIfNoConfirm: true,
	}
	cfg.ML.ProbSizeMin = 0.8
	cfg.ML.ProbSizeMax = 1.35
	cfg.ML.OptimizeThreshold = true
	cfg.Risk.PerTrade = 0.008
	cfg.Risk.DynamicDDRisk = true
	cfg.Risk.DDRiskSteps = []DDStep{{-5, 0.85}, {-10, 0.65}, {-15, 0.50}, {-20, 0.38}, {-25, 0.30}}
	cfg.Risk.UseVolTarget = true
	cfg.Risk.VolWindowTrades = 35
	cfg.Risk.PerTradeMin = 0.002
	cfg.Risk.PerTradeMax = 0.012
	cfg.Risk.MaxDrawdownStop = -40.0
	cfg.Risk.SizeShortFactor = 0.6
	return cfg
}

// Load builds a Config from the named profile, an optional JSON file and
// environment overrides, in that order of precedence.
func Load(path, profile string) (Config, error) {
	cfg, err := Profile(profile)
	if err != nil {
		return Config{}, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Engine parameters stay profile-driven; only run plumbing is overridable.
func applyEnvOverrides(cfg *Config) {
	cfg.Symbol = getEnvOrDefault("EW_SYMBOL", cfg.Symbol)
	cfg.Data.Dir = getEnvOrDefault("EW_DATA_DIR", cfg.Data.Dir)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.Format = getEnvOrDefault("LOG_FORMAT", cfg.Logging.Format)

	cfg.Postgres.DSN = getEnvOrDefault("EW_POSTGRES_DSN", cfg.Postgres.DSN)

	cfg.Redis.Address = getEnvOrDefault("EW_REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("EW_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("EW_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.TTL = getEnvDurationOrDefault("EW_REDIS_TTL", cfg.Redis.TTL)

	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)

	cfg.Server.Port = getEnvIntOrDefault("EW_API_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("EW_API_HOST", cfg.Server.Host)
	cfg.Server.AllowedOrigins = getEnvOrDefault("EW_API_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Server.AuthSecret = getEnvOrDefault("EW_API_AUTH_SECRET", cfg.Server.AuthSecret)
}

// Validate checks parameter ranges that the engine relies on.
func (c *Config) Validate() error {
	if c.StartCapital <= 0 {
		return fmt.Errorf("start_capital must be positive, got %v", c.StartCapital)
	}
	if c.Structure.ATRPeriod <= 0 {
		return fmt.Errorf("structure.atr_period must be positive, got %d", c.Structure.ATRPeriod)
	}
	if c.Risk.PerTrade <= 0 {
		return fmt.Errorf("risk.per_trade must be positive, got %v", c.Risk.PerTrade)
	}
	if c.Risk.PerTradeMin > c.Risk.PerTradeMax {
		return fmt.Errorf("risk.per_trade_min %v exceeds risk.per_trade_max %v", c.Risk.PerTradeMin, c.Risk.PerTradeMax)
	}
	if c.ML.TrainFrac <= 0 || c.ML.TrainFrac >= 1 {
		return fmt.Errorf("ml.train_frac must be in (0,1), got %v", c.ML.TrainFrac)
	}
	if c.Entries.WindowH1 <= 0 || c.Entries.MaxHoldH1 <= 0 {
		return fmt.Errorf("entries.window_h1 and entries.max_hold_h1 must be positive")
	}
	if c.Entries.TP2 < c.Entries.TP1 {
		return fmt.Errorf("entries.tp2 %v below entries.tp1 %v", c.Entries.TP2, c.Entries.TP1)
	}
	for _, r := range c.Confirm.Rules {
		if r != RuleBreakPrevExtreme && r != RuleEMAFastCross {
			return fmt.Errorf("unknown confirmation rule %q", r)
		}
	}
	return nil
}

// Clone returns a deep copy. Grid sweeps mutate clones, never the original.
func (c Config) Clone() Config {
	out := c
	out.Risk.DDRiskSteps = append([]DDStep(nil), c.Risk.DDRiskSteps...)
	out.Confirm.Rules = append([]string(nil), c.Confirm.Rules...)
	return out
}

// ConfirmRuleEnabled reports whether the named confirmation rule is active.
func (c *Config) ConfirmRuleEnabled(rule string) bool {
	for _, r := range c.Confirm.Rules {
		if r == rule {
			return true
		}
	}
	return false
}

// HardStopEnabled reports whether the drawdown hard stop is configured.
func (c *Config) HardStopEnabled() bool {
	return c.Risk.MaxDrawdownStop > -1e8
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a sample configuration file seeded from the
// balanced profile.
func GenerateSampleConfig(filename string) error {
	cfg := balancedProfile()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling sample config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("error writing sample config: %w", err)
	}
	return nil
}
