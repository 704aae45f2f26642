package market

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Loader reads candle CSV files from a data directory. Files are named
// <prefix>_<SYMBOL>.csv (e.g. h1_QQQ.csv) with a plain <prefix>.csv fallback,
// and carry a "date,open,high,low,close,volume" header. Volume is optional.
type Loader struct {
	dir    string
	logger zerolog.Logger
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string, logger zerolog.Logger) *Loader {
	return &Loader{
		dir:    dir,
		logger: logger.With().Str("component", "MarketLoader").Logger(),
	}
}

var filePrefixes = map[Timeframe]string{
	TimeframeDaily: "daily",
	TimeframeH1:    "h1",
	TimeframeM30:   "m30",
}

// timestamp layouts accepted in the date column, tried in order
var dateLayouts = []string{
	"2006-01-02 15:04:05-07:00",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ReadFile resolves and reads the raw CSV for one timeframe. A missing
// optional file returns nil bytes and no error; the resolved path is
// returned either way for error reporting.
func (l *Loader) ReadFile(symbol string, tf Timeframe, optional bool) ([]byte, string, error) {
	prefix, ok := filePrefixes[tf]
	if !ok {
		return nil, "", fmt.Errorf("unknown timeframe %q", tf)
	}

	path := filepath.Join(l.dir, fmt.Sprintf("%s_%s.csv", prefix, symbol))
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(l.dir, prefix+".csv")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if optional {
			l.logger.Debug().Str("timeframe", string(tf)).Str("path", path).Msg("optional series not found")
			return nil, path, nil
		}
		return nil, path, fmt.Errorf("opening %s candles: %w", tf, err)
	}
	return raw, path, nil
}

// Load reads and validates the series for one timeframe. A missing optional
// file yields an empty series, not an error.
func (l *Loader) Load(symbol string, tf Timeframe, optional bool) (*Series, error) {
	raw, path, err := l.ReadFile(symbol, tf, optional)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return &Series{Symbol: symbol, Timeframe: tf}, nil
	}

	series, err := Parse(symbol, tf, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.logger.Info().
		Str("timeframe", string(tf)).
		Str("path", path).
		Int("candles", series.Len()).
		Msg("series loaded")
	return series, nil
}

// Parse decodes and validates candle CSV bytes.
func Parse(symbol string, tf Timeframe, data []byte) (*Series, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("no candle rows")
	}

	cols, err := headerIndex(records[0])
	if err != nil {
		return nil, err
	}

	series := &Series{
		Symbol:    symbol,
		Timeframe: tf,
		Candles:   make([]Candle, 0, len(records)-1),
	}
	for i, rec := range records[1:] {
		candle, err := parseCandle(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		series.Candles = append(series.Candles, candle)
	}

	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

type columns struct {
	date, open, high, low, closeCol, volume int
}

func headerIndex(header []string) (columns, error) {
	cols := columns{date: -1, open: -1, high: -1, low: -1, closeCol: -1, volume: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date", "time", "timestamp":
			cols.date = i
		case "open":
			cols.open = i
		case "high":
			cols.high = i
		case "low":
			cols.low = i
		case "close":
			cols.closeCol = i
		case "volume":
			cols.volume = i
		}
	}
	if cols.date < 0 || cols.open < 0 || cols.high < 0 || cols.low < 0 || cols.closeCol < 0 {
		return cols, fmt.Errorf("header must contain date,open,high,low,close")
	}
	return cols, nil
}

func parseCandle(rec []string, cols columns) (Candle, error) {
	ts, err := parseTime(rec[cols.date])
	if err != nil {
		return Candle{}, err
	}

	open, err := strconv.ParseFloat(strings.TrimSpace(rec[cols.open]), 64)
	if err != nil {
		return Candle{}, fmt.Errorf("open: %w", err)
	}
	high, err := strconv.ParseFloat(strings.TrimSpace(rec[cols.high]), 64)
	if err != nil {
		return Candle{}, fmt.Errorf("high: %w", err)
	}
	low, err := strconv.ParseFloat(strings.TrimSpace(rec[cols.low]), 64)
	if err != nil {
		return Candle{}, fmt.Errorf("low: %w", err)
	}
	closePx, err := strconv.ParseFloat(strings.TrimSpace(rec[cols.closeCol]), 64)
	if err != nil {
		return Candle{}, fmt.Errorf("close: %w", err)
	}

	volume := 0.0
	if cols.volume >= 0 && cols.volume < len(rec) {
		if v := strings.TrimSpace(rec[cols.volume]); v != "" {
			volume, err = strconv.ParseFloat(v, 64)
			if err != nil {
				return Candle{}, fmt.Errorf("volume: %w", err)
			}
		}
	}

	return Candle{Time: ts, Open: open, High: high, Low: low, Close: closePx, Volume: volume}, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
