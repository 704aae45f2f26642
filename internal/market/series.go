// Package market holds the candle series consumed by the backtester and the
// CSV loader that enforces the input contract at the boundary. Everything
// downstream assumes clean, timestamp-ordered data.
package market

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Timeframe identifies a candle resolution.
type Timeframe string

const (
	TimeframeDaily Timeframe = "1d"
	TimeframeH1    Timeframe = "1h"
	TimeframeM30   Timeframe = "30m"
)

// Candle is a single OHLCV bar.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series is a candle series plus the indicator columns derived from it.
// Indicator slices are either empty or candle-aligned; NaN marks warmup bars.
type Series struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Candles   []Candle  `json:"candles"`

	ATR     []float64 `json:"atr,omitempty"`
	ATRPct  []float64 `json:"atr_pct,omitempty"`
	EMAFast []float64 `json:"ema_fast,omitempty"`
	EMASlow []float64 `json:"ema_slow,omitempty"`
	RSI     []float64 `json:"rsi,omitempty"`

	// Daily-only columns.
	ADX    []float64 `json:"adx,omitempty"`
	SMA100 []float64 `json:"sma_100,omitempty"`
	Vol20  []float64 `json:"vol_20,omitempty"`
}

// Len returns the number of candles.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candles)
}

// Empty reports whether the series has no candles.
func (s *Series) Empty() bool {
	return s.Len() == 0
}

// FirstIndexAtOrAfter returns the index of the first candle whose timestamp
// is >= t, or -1 when every candle is earlier.
func (s *Series) FirstIndexAtOrAfter(t time.Time) int {
	i := sort.Search(s.Len(), func(i int) bool {
		return !s.Candles[i].Time.Before(t)
	})
	if i >= s.Len() {
		return -1
	}
	return i
}

// LastIndexAtOrBefore returns the index of the last candle whose timestamp
// is <= t, or -1 when every candle is later.
func (s *Series) LastIndexAtOrBefore(t time.Time) int {
	i := sort.Search(s.Len(), func(i int) bool {
		return s.Candles[i].Time.After(t)
	})
	return i - 1
}

// Covers reports whether t falls inside the series' date range.
func (s *Series) Covers(t time.Time) bool {
	if s.Empty() {
		return false
	}
	first := s.Candles[0].Time
	last := s.Candles[s.Len()-1].Time
	return !t.Before(first) && !t.After(last)
}

// Closes returns the close column.
func (s *Series) Closes() []float64 {
	out := make([]float64, s.Len())
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Validate enforces the input contract: strictly increasing unique
// timestamps, finite prices and high >= low on every bar.
func (s *Series) Validate() error {
	for i, c := range s.Candles {
		if !finite(c.Open) || !finite(c.High) || !finite(c.Low) || !finite(c.Close) {
			return fmt.Errorf("%s bar %d (%s): non-finite price", s.Timeframe, i, c.Time.Format(time.RFC3339))
		}
		if c.High < c.Low {
			return fmt.Errorf("%s bar %d (%s): high %v below low %v", s.Timeframe, i, c.Time.Format(time.RFC3339), c.High, c.Low)
		}
		if i > 0 && !s.Candles[i-1].Time.Before(c.Time) {
			return fmt.Errorf("%s bar %d (%s): timestamp not after previous bar", s.Timeframe, i, c.Time.Format(time.RFC3339))
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
