package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"elliott-backtester/config"
	"elliott-backtester/internal/backtest"
	"elliott-backtester/internal/logging"
	"elliott-backtester/internal/market"
	"elliott-backtester/internal/secrets"
	"elliott-backtester/internal/store"
)

var (
	flagConfig  string
	flagProfile string
	flagSymbol  string
	flagDataDir string
)

var rootCmd = &cobra.Command{
	Use:   "elliott-backtester",
	Short: "Price-structure backtester for Elliott-style swing setups",
	Long: `elliott-backtester detects swing structure on daily and intraday candles,
builds fib-zone entries off impulse and correction waves, and replays them
through a broker-free simulator with walk-forward trade classification.

Runs read candle CSVs from a data directory and can persist to PostgreSQL.
Use 'run' for a single report, 'scan' for several symbols, 'grid' to sweep
filter toggles, or 'serve' to expose results over HTTP.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a JSON config overriding the profile")
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "balanced", "Parameter profile: balanced, aggressive or adaptive")
	rootCmd.PersistentFlags().StringVar(&flagSymbol, "symbol", "", "Symbol override")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Candle CSV directory override")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig assembles the run configuration from the profile, the optional
// config file and the command-line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig, flagProfile)
	if err != nil {
		return config.Config{}, err
	}
	if flagSymbol != "" {
		cfg.Symbol = flagSymbol
	}
	if flagDataDir != "" {
		cfg.Data.Dir = flagDataDir
	}
	return cfg, nil
}

func buildLogger(cfg config.Config) zerolog.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Output: cfg.Logging.Output,
		Format: cfg.Logging.Format,
	})
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// resolveSecrets overlays Vault credentials onto the config when enabled.
func resolveSecrets(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	client, err := secrets.NewClient(cfg.Vault, logger)
	if err != nil {
		return err
	}
	return client.Resolve(ctx, cfg)
}

// openLoader builds the candle loader fronted by the Redis cache. The cache
// degrades to a no-op when Redis is not configured or unreachable.
func openLoader(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*store.CachedLoader, *store.CandleCache) {
	cache := store.NewCandleCache(ctx, cfg.Redis, logger)
	loader := store.NewCachedLoader(market.NewLoader(cfg.Data.Dir, logger), cache, logger)
	return loader, cache
}

// openStore connects to PostgreSQL and runs migrations when a DSN is
// configured; otherwise persistence is off and it returns nil.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*store.Store, error) {
	if cfg.Postgres.DSN == "" {
		return nil, nil
	}
	st, err := store.Open(ctx, cfg.Postgres.DSN, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// loadData loads the three candle series for one symbol. The hourly series
// is required; daily and thirty-minute series are optional.
func loadData(ctx context.Context, loader *store.CachedLoader, symbol string) (backtest.Data, error) {
	daily, err := loader.Load(ctx, symbol, market.TimeframeDaily, true)
	if err != nil {
		return backtest.Data{}, err
	}
	h1, err := loader.Load(ctx, symbol, market.TimeframeH1, false)
	if err != nil {
		return backtest.Data{}, err
	}
	m30, err := loader.Load(ctx, symbol, market.TimeframeM30, true)
	if err != nil {
		return backtest.Data{}, err
	}
	return backtest.Data{Daily: daily, H1: h1, M30: m30}, nil
}
