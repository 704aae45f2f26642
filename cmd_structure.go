package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"elliott-backtester/config"
	"elliott-backtester/internal/elliott"
	"elliott-backtester/internal/indicators"
	"elliott-backtester/internal/market"
	"elliott-backtester/internal/setups"
)

var structureMaxSetups int

var structureCmd = &cobra.Command{
	Use:   "structure",
	Short: "Detect wave structure and print the setups without trading",
	Long: `Run only the detection half of the pipeline: pivots, impulses, ABC
corrections and the setups they produce. Nothing is simulated, so this is
the quickest way to see what the structure engine finds in a data set.

Example usage:
  elliott-backtester structure --symbol QQQ
  elliott-backtester structure --profile aggressive --max-setups 50`,
	RunE: runStructureCmd,
}

func init() {
	rootCmd.AddCommand(structureCmd)
	structureCmd.Flags().IntVar(&structureMaxSetups, "max-setups", 25, "How many setups to print (0 = all)")
}

func runStructureCmd(cmd *cobra.Command, args []string) error {
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

	f := cfg.Filters
	indicators.Apply(data.H1, cfg.Structure.ATRPeriod, f.EMAFast, f.EMASlow)
	if !data.M30.Empty() {
		indicators.Apply(data.M30, cfg.Structure.ATRPeriod, f.EMAFast, f.EMASlow)
	}
	if !data.Daily.Empty() {
		indicators.Apply(data.Daily, cfg.Structure.ATRPeriod, f.EMAFast, f.EMASlow)
	}

	fmt.Printf("\n%s  %s profile\n\n", cfg.Symbol, cfg.Profile)
	if !data.Daily.Empty() {
		printStructure("daily", cfg.Structure.Primary, data.Daily)
	}
	impulses, abcs := printStructure("h1", cfg.Structure.Trading, data.H1)

	built := setups.NewBuilder(cfg, data.H1, data.M30, logger).Build(impulses, abcs)
	fmt.Printf("\n%d setups\n", len(built))
	if len(built) == 0 {
		return nil
	}

	shown := built
	if structureMaxSetups > 0 && len(shown) > structureMaxSetups {
		shown = shown[len(shown)-structureMaxSetups:]
		fmt.Printf("(last %d)\n", len(shown))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Anchor\tTag\tDir\tTF\tZone\tStop ref\tTarget 1\tTarget 2")
	for _, set := range shown {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f-%.2f\t%.2f\t%.2f\t%.2f\n",
			set.AnchorTime.Format("2006-01-02 15:04"), set.Tag, set.Direction, set.Timeframe,
			set.Zone.Low, set.Zone.High, set.StopRef, set.Target1, set.Target2)
	}
	return w.Flush()
}

func printStructure(name string, zz config.ZigzagConfig, s *market.Series) ([]elliott.Impulse, []elliott.ABC) {
	eng := elliott.NewEngine(zz.Pct, zz.ATRMult, zz.MinImpulseATR)
	piv := eng.Zigzag(s.Closes(), s.ATR)
	impulses := eng.DetectImpulses(piv, s.ATR)
	abcs := eng.DetectABCs(piv)
	fmt.Printf("%-6s %4d bars  %4d pivots  %3d impulses  %3d corrections  (%d windows rejected)\n",
		name, s.Len(), len(piv), len(impulses), len(abcs), eng.Stats.Total())
	return impulses, abcs
}
