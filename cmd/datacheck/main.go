// Command datacheck inspects the candle CSVs for one or more symbols and
// prints per-timeframe coverage: row counts, date ranges, the largest gap
// between consecutive bars and basic quality counters. Run it before a
// backtest to catch truncated exports or stale files.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"elliott-backtester/internal/market"
)

func main() {
	dataDir := flag.String("data", "data", "Directory holding the candle CSVs")
	symbols := flag.String("symbols", "QQQ", "Comma-separated symbols to inspect")
	flag.Parse()

	loader := market.NewLoader(*dataDir, zerolog.Nop())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Symbol\tTimeframe\tBars\tFirst\tLast\tLargest gap\tZero volume")

	problems := 0
	for _, symbol := range strings.Split(*symbols, ",") {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		for _, tf := range []market.Timeframe{market.TimeframeDaily, market.TimeframeH1, market.TimeframeM30} {
			s, err := loader.Load(symbol, tf, true)
			if err != nil {
				fmt.Fprintf(w, "%s\t%s\tERROR: %v\t\t\t\t\n", symbol, tf, err)
				problems++
				continue
			}
			if s.Empty() {
				fmt.Fprintf(w, "%s\t%s\tmissing\t\t\t\t\n", symbol, tf)
				continue
			}
			gap, zeroVol := inspect(s)
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%d\n",
				symbol, tf, s.Len(),
				s.Candles[0].Time.Format("2006-01-02"),
				s.Candles[s.Len()-1].Time.Format("2006-01-02"),
				formatGap(gap), zeroVol)
		}
	}
	w.Flush()
	if problems > 0 {
		os.Exit(1)
	}
}

func inspect(s *market.Series) (time.Duration, int) {
	var largest time.Duration
	zeroVol := 0
	for i, c := range s.Candles {
		if i > 0 {
			if gap := c.Time.Sub(s.Candles[i-1].Time); gap > largest {
				largest = gap
			}
		}
		if c.Volume == 0 {
			zeroVol++
		}
	}
	return largest, zeroVol
}

func formatGap(d time.Duration) string {
	if d >= 24*time.Hour {
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
