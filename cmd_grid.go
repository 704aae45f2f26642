package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"elliott-backtester/internal/backtest"
)

var (
	gridWorkers int
	gridTop     int
	gridOutput  string
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Sweep the filter and risk toggles over one symbol",
	Long: `Run a backtest for every combination of the pre-trade gates,
confirmation requirement, classifier toggle and risk multiplier, then
print the best combinations by final capital. Useful for spotting which
gates actually pay for themselves on a given symbol.

Example usage:
  elliott-backtester grid --symbol QQQ
  elliott-backtester grid --workers 8 --top 25 --output grid.json`,
	RunE: runGridCmd,
}

func init() {
	rootCmd.AddCommand(gridCmd)
	gridCmd.Flags().IntVar(&gridWorkers, "workers", 0, "Parallel backtests (0 = number of CPUs)")
	gridCmd.Flags().IntVar(&gridTop, "top", 15, "How many combinations to print")
	gridCmd.Flags().StringVar(&gridOutput, "output", "", "Write all grid points as JSON to this file")
}

func runGridCmd(cmd *cobra.Command, args []string) error {
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

	data, err := loadData(ctx, loader, cfg.Symbol)
	if err != nil {
		return err
	}

	points, err := backtest.GridSearch(ctx, cfg, data, logger.Level(zerolog.WarnLevel), gridWorkers)
	if err != nil {
		return err
	}

	top := gridTop
	if top <= 0 || top > len(points) {
		top = len(points)
	}

	fmt.Printf("\n%s  %s profile  %d combinations, top %d by final capital\n\n",
		cfg.Symbol, cfg.Profile, len(points), top)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADX\tEMA trend\tDaily EMA\tConfirm\tML\tRisk x\tTrades\tReturn\tMax DD")
	for _, p := range points[:top] {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%d\t%+.2f%%\t%.2f%%\n",
			onOff(p.UseADX), onOff(p.UseEMATrend), onOff(p.UseDailyEMA),
			onOff(p.RequireConfirm), onOff(p.UseML),
			p.RiskMult, p.Trades, p.TotalReturnPct, p.MaxDrawdownPct)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if gridOutput != "" {
		payload, err := json.MarshalIndent(points, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal grid: %w", err)
		}
		if err := os.WriteFile(gridOutput, payload, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", gridOutput, err)
		}
		fmt.Printf("\nAll %d grid points written to %s\n", len(points), gridOutput)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
