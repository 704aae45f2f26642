package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"elliott-backtester/config"
	"elliott-backtester/internal/backtest"
)

var (
	runNoML            bool
	runNoADX           bool
	runNoEMATrend      bool
	runNoDailyEMA      bool
	runNoConfirm       bool
	runCounterfactuals bool
	runOutput          string
	runNoSave          bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one backtest and print the report",
	Long: `Run a single backtest for one symbol: detect structure, build setups,
simulate entries and replay the account. The report prints to stdout; the
full result can also be written as JSON and persisted to PostgreSQL.

Example usage:
  elliott-backtester run --symbol QQQ
  elliott-backtester run --profile aggressive --no-ml --counterfactuals
  elliott-backtester run --output result.json`,
	RunE: runBacktestCmd,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runNoML, "no-ml", false, "Disable the trade classifier")
	runCmd.Flags().BoolVar(&runNoADX, "no-adx", false, "Disable the daily ADX regime gate")
	runCmd.Flags().BoolVar(&runNoEMATrend, "no-ema-trend", false, "Disable the intraday EMA trend gate")
	runCmd.Flags().BoolVar(&runNoDailyEMA, "no-daily-ema", false, "Disable the daily EMA trend gate")
	runCmd.Flags().BoolVar(&runNoConfirm, "no-confirm", false, "Enter on zone touch without confirmation")
	runCmd.Flags().BoolVar(&runCounterfactuals, "counterfactuals", false, "Replay accounting scenarios after the run")
	runCmd.Flags().StringVar(&runOutput, "output", "", "Write the full result JSON to this file")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "Skip persisting the run even when PostgreSQL is configured")
}

func applyRunToggles(cfg *config.Config) {
	if runNoML {
		cfg.ML.Enabled = false
	}
	if runNoADX {
		cfg.Filters.UseADX = false
	}
	if runNoEMATrend {
		cfg.Filters.UseEMATrend = false
	}
	if runNoDailyEMA {
		cfg.Filters.UseDailyEMA = false
	}
	if runNoConfirm {
		cfg.Confirm.Require = false
	}
}

func runBacktestCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunToggles(&cfg)

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

	engine := backtest.NewEngine(cfg, logger)
	res, err := engine.Run(ctx, data)
	if err != nil {
		return err
	}
	if runCounterfactuals {
		res.Counterfactuals = engine.Counterfactuals(res, data.H1)
	}

	printResult(cfg, res)

	if !runNoSave && cfg.Postgres.DSN != "" {
		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.SaveRun(ctx, cfg.StartCapital, res); err != nil {
			return err
		}
	}

	if runOutput != "" {
		payload, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		if err := os.WriteFile(runOutput, payload, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", runOutput, err)
		}
		fmt.Printf("\nFull result written to %s\n", runOutput)
	}
	return nil
}

func printResult(cfg config.Config, res *backtest.Result) {
	fmt.Printf("\n%s  %s profile  run %s\n", res.Symbol, res.Profile, res.RunID)
	fmt.Printf("Finished in %s\n\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	fmt.Printf("Structure   daily: %d pivots, %d impulses, %d corrections (%d rejected)\n",
		res.Primary.Pivots, res.Primary.Impulses, res.Primary.ABCs, res.Primary.Rejections.Total())
	fmt.Printf("            h1:    %d pivots, %d impulses, %d corrections (%d rejected)\n\n",
		res.Trading.Pivots, res.Trading.Impulses, res.Trading.ABCs, res.Trading.Rejections.Total())

	tel := res.Telemetry
	fmt.Printf("Funnel      %d setups -> %d simulated\n", tel.Setups, tel.Simulated)
	fmt.Printf("            rejected: regime %d, daily trend %d, no data %d, ema trend %d,\n",
		tel.FilteredRegime, tel.FilteredDailyTrend, tel.NoData, tel.FilteredEMATrend)
	fmt.Printf("            volatility %d, no touch %d, no confirm %d, invalid risk %d\n\n",
		tel.FilteredVol, tel.NoTouch, tel.NoConfirm, tel.InvalidRisk)

	if res.Model.Active {
		fmt.Printf("Classifier  active, threshold %.3f (train %d, validation %d rows",
			res.Model.Threshold, res.Model.TrainRows, res.Model.ValRows)
		if res.Model.Relaxed {
			fmt.Printf(", relaxed from pass rate %.1f%%", res.Model.RawPassRate*100)
		}
		fmt.Printf(")\n")
		if res.Diagnostics.Evaluated {
			fmt.Printf("            out-of-sample AUC %.3f, average precision %.3f over %d trades\n",
				res.Diagnostics.AUC, res.Diagnostics.AveragePrecision, res.Diagnostics.OOSTrades)
		}
		fmt.Printf("            gate rejected %d sized trades\n\n", res.Equity.RejectedByGate)
	} else {
		fmt.Printf("Classifier  inactive (insufficient history), all setups pass\n\n")
	}

	s := res.Summary
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Trades\tWin rate\tProfit factor\tExpectancy\tAvg hold")
	fmt.Fprintf(w, "%d\t%.1f%%\t%.2f\t%.2fR\t%.1fh\n",
		s.Trades, s.WinRate*100, s.ProfitFactor, s.ExpectancyR, s.AvgHoldHours)
	w.Flush()
	fmt.Println()

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Return\tCAGR\tMax drawdown\tSharpe\tSortino\tUlcer")
	fmt.Fprintf(w, "%+.2f%%\t%+.2f%%\t%.2f%%\t%.2f\t%.2f\t%.2f\n",
		s.TotalReturnPct, s.CAGRPct, s.MaxDrawdownPct, s.Sharpe, s.Sortino, s.UlcerIndex)
	w.Flush()

	fmt.Printf("\nCapital %.2f -> %.2f", cfg.StartCapital, res.Equity.FinalCapital)
	if res.Equity.RejectedHardStop > 0 {
		fmt.Printf("  (drawdown stop rejected %d trades)", res.Equity.RejectedHardStop)
	}
	fmt.Println()

	if len(s.ByTag) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Setup\tTrades\tWin rate\tAvg R\tPnL")
		tags := make([]string, 0, len(s.ByTag))
		for tag := range s.ByTag {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			g := s.ByTag[tag]
			fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.2f\t%+.2f\n", tag, g.Count, g.WinRate*100, g.AvgR, g.TotalPnL)
		}
		dirs := make([]string, 0, len(s.ByDirection))
		for dir := range s.ByDirection {
			dirs = append(dirs, dir)
		}
		sort.Strings(dirs)
		for _, dir := range dirs {
			g := s.ByDirection[dir]
			fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.2f\t%+.2f\n", dir, g.Count, g.WinRate*100, g.AvgR, g.TotalPnL)
		}
		w.Flush()
	}

	if len(res.Counterfactuals) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Scenario\tTrades\tReturn\tMax DD\tWin rate\tProfit factor")
		for _, sc := range res.Counterfactuals {
			fmt.Fprintf(w, "%s\t%d\t%+.2f%%\t%.2f%%\t%.1f%%\t%.2f\n",
				sc.Name, sc.Trades, sc.TotalReturnPct, sc.MaxDrawdownPct, sc.WinRate*100, sc.ProfitFactor)
		}
		w.Flush()
	}
}
