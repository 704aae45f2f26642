package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"elliott-backtester/internal/backtest"
)

var scanSymbols string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Backtest several symbols and rank the results",
	Long: `Run the same profile across a list of symbols and print a ranked
comparison table. Symbols without candle data are skipped with a warning.

Example usage:
  elliott-backtester scan --symbols QQQ,SPY,IWM
  elliott-backtester scan --profile aggressive --symbols AAPL,MSFT,NVDA`,
	RunE: runScanCmd,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&scanSymbols, "symbols", "", "Comma-separated symbols to scan (defaults to the profile symbol)")
}

type scanRow struct {
	Symbol       string
	Trades       int
	ReturnPct    float64
	MaxDD        float64
	WinRate      float64
	ProfitFactor float64
	Sharpe       float64
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := buildLogger(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	if err := resolveSecrets(ctx, &cfg, logger); err != nil {
		return err
	}

	loader, cache := openLoader(ctx, cfg, logger)
	defer cache.Close()

	symbols := []string{cfg.Symbol}
	if scanSymbols != "" {
		symbols = symbols[:0]
		for _, s := range strings.Split(scanSymbols, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				symbols = append(symbols, s)
			}
		}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to scan")
	}

	// Per-run engine logs would swamp the table, keep only warnings.
	runLogger := logger.Level(zerolog.WarnLevel)

	rows := make([]scanRow, 0, len(symbols))
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		runCfg := cfg.Clone()
		runCfg.Symbol = symbol

		data, err := loadData(ctx, loader, symbol)
		if err != nil {
			logger.Warn().Err(err).Str("symbol", symbol).Msg("Skipping symbol")
			continue
		}

		res, err := backtest.NewEngine(runCfg, runLogger).Run(ctx, data)
		if err != nil {
			logger.Warn().Err(err).Str("symbol", symbol).Msg("Backtest failed, skipping")
			continue
		}

		rows = append(rows, scanRow{
			Symbol:       symbol,
			Trades:       res.Summary.Trades,
			ReturnPct:    res.Summary.TotalReturnPct,
			MaxDD:        res.Summary.MaxDrawdownPct,
			WinRate:      res.Summary.WinRate,
			ProfitFactor: res.Summary.ProfitFactor,
			Sharpe:       res.Summary.Sharpe,
		})
	}
	if len(rows) == 0 {
		return fmt.Errorf("no symbols produced a result")
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ReturnPct > rows[j].ReturnPct
	})

	fmt.Printf("\n%s profile, %d of %d symbols\n\n", cfg.Profile, len(rows), len(symbols))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Symbol\tTrades\tReturn\tMax DD\tWin rate\tProfit factor\tSharpe")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%+.2f%%\t%.2f%%\t%.1f%%\t%.2f\t%.2f\n",
			r.Symbol, r.Trades, r.ReturnPct, r.MaxDD, r.WinRate*100, r.ProfitFactor, r.Sharpe)
	}
	return w.Flush()
}
