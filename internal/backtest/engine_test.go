package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"elliott-backtester/config"
	"elliott-backtester/internal/elliott"
	"elliott-backtester/internal/market"
	"elliott-backtester/internal/setups"
	"elliott-backtester/internal/sim"
)

var testStart = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// gateSeries builds an hourly series with constant indicator columns so the
// funnel gates can be exercised one at a time.
func gateSeries(rows [][4]float64) *market.Series {
	s := &market.Series{Symbol: "TEST", Timeframe: market.TimeframeH1}
	for i, r := range rows {
		s.Candles = append(s.Candles, market.Candle{
			Time:   testStart.Add(time.Duration(i) * time.Hour),
			Open:   r[0],
			High:   r[1],
			Low:    r[2],
			Close:  r[3],
			Volume: 1000,
		})
	}
	n := len(rows)
	s.ATR = constColumn(n, 0.5)
	s.ATRPct = constColumn(n, 1.0)
	s.EMAFast = constColumn(n, 101)
	s.EMASlow = constColumn(n, 100)
	s.RSI = constColumn(n, 55)
	return s
}

func constColumn(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// trendSeries interpolates closes between the given leg endpoints, one leg
// per barsPerLeg hourly bars, so the zigzag has real swings to work with.
func trendSeries(legs []float64, barsPerLeg int) *market.Series {
	s := &market.Series{Symbol: "TEST", Timeframe: market.TimeframeH1}
	prev := legs[0]
	addBar := func(i int, cl float64) {
		s.Candles = append(s.Candles, market.Candle{
			Time:   testStart.Add(time.Duration(i) * time.Hour),
			Open:   prev,
			High:   max(prev, cl) + 0.15,
			Low:    min(prev, cl) - 0.15,
			Close:  cl,
			Volume: 1000,
		})
		prev = cl
	}
	bar := 0
	addBar(bar, legs[0])
	bar++
	for li := 1; li < len(legs); li++ {
		from, to := legs[li-1], legs[li]
		for k := 1; k <= barsPerLeg; k++ {
			cl := from + (to-from)*float64(k)/float64(barsPerLeg)
			addBar(bar, cl)
			bar++
		}
	}
	return s
}

// engineConfig returns the balanced profile with every optional gate off so
// tests opt in to exactly the behavior they exercise.
func engineConfig(mut func(*config.Config)) config.Config {
	cfg, _ := config.Profile("balanced")
	cfg.Filters.UseADX = false
	cfg.Filters.UseEMATrend = false
	cfg.Filters.UseDailyEMA = false
	cfg.Confirm.Require = false
	cfg.ML.Enabled = false
	if mut != nil {
		mut(&cfg)
	}
	return cfg
}

func TestEvaluateSetupGates(t *testing.T) {
	baseRows := [][4]float64{
		{101.0, 101.5, 100.5, 101.0},
		{101.0, 101.2, 98.5, 100.2},
		{100.2, 101.0, 99.8, 100.5},
		{100.5, 101.1, 100.0, 100.8},
		{100.8, 101.3, 100.2, 101.0},
	}
	baseSetup := setups.Setup{
		Tag:        setups.TagW3,
		Direction:  elliott.DirectionUp,
		AnchorTime: testStart,
		Timeframe:  market.TimeframeH1,
		Zone:       elliott.Zone{Low: 98.0, High: 99.0},
		StopRef:    97.0,
		Target1:    104.0,
		Target2:    106.0,
	}
	daily := &market.Series{
		Symbol:    "TEST",
		Timeframe: market.TimeframeDaily,
		Candles: []market.Candle{{
			Time: testStart.Add(-12 * time.Hour),
			Open: 100, High: 101, Low: 99, Close: 100, Volume: 1,
		}},
		ADX:     []float64{10},
		EMAFast: []float64{99},
		EMASlow: []float64{101},
	}

	tests := []struct {
		name     string
		mutCfg   func(*config.Config)
		mutSetup func(*setups.Setup)
		mutSer   func(*market.Series)
		want     rejectReason
	}{
		{
			name: "passes all gates",
			want: rejectNone,
		},
		{
			name:   "choppy regime",
			mutCfg: func(c *config.Config) { c.Filters.UseADX = true },
			want:   rejectRegime,
		},
		{
			name:   "daily trend against direction",
			mutCfg: func(c *config.Config) { c.Filters.UseDailyEMA = true },
			want:   rejectDailyTrend,
		},
		{
			name:     "missing m30 series",
			mutSetup: func(s *setups.Setup) { s.Timeframe = market.TimeframeM30 },
			want:     rejectNoData,
		},
		{
			name: "anchor beyond history",
			mutSetup: func(s *setups.Setup) {
				s.AnchorTime = testStart.Add(time.Duration(len(baseRows)) * time.Hour)
			},
			want: rejectNoTouch,
		},
		{
			name:   "ema trend against direction",
			mutCfg: func(c *config.Config) { c.Filters.UseEMATrend = true },
			mutSer: func(s *market.Series) {
				s.EMAFast = constColumn(s.Len(), 100)
				s.EMASlow = constColumn(s.Len(), 101)
			},
			want: rejectEMATrend,
		},
		{
			name:   "volatility out of band",
			mutSer: func(s *market.Series) { s.ATRPct = constColumn(s.Len(), 3.0) },
			want:   rejectVol,
		},
		{
			name: "zone never touched",
			mutSetup: func(s *setups.Setup) {
				s.Zone = elliott.Zone{Low: 90.0, High: 91.0}
				s.StopRef = 89.0
			},
			want: rejectNoTouch,
		},
		{
			name: "touch without confirmation",
			mutCfg: func(c *config.Config) {
				c.Confirm.Require = true
				c.Confirm.AllowTouchIfNoConfirm = false
				c.Confirm.Rules = []string{config.RuleBreakPrevExtreme}
			},
			want: rejectNoConfirm,
		},
		{
			name:     "stop above entry price",
			mutSetup: func(s *setups.Setup) { s.StopRef = 100.5 },
			want:     rejectInvalidRisk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := engineConfig(tt.mutCfg)
			series := gateSeries(baseRows)
			if tt.mutSer != nil {
				tt.mutSer(series)
			}
			setup := baseSetup
			if tt.mutSetup != nil {
				tt.mutSetup(&setup)
			}

			eng := NewEngine(cfg, zerolog.Nop())
			filters := setups.NewFilters(cfg, daily)
			confirm := sim.NewConfirmationEngine(cfg)
			trade, reason := eng.evaluateSetup(setup, Data{H1: series, Daily: daily}, filters, confirm)

			if reason != tt.want {
				t.Fatalf("reason = %d, want %d", reason, tt.want)
			}
			if (trade != nil) != (tt.want == rejectNone) {
				t.Fatalf("trade presence = %v for reason %d", trade != nil, reason)
			}
		})
	}
}

func TestEvaluateSetupTradeFields(t *testing.T) {
	rows := [][4]float64{
		{101.0, 101.5, 100.5, 101.0},
		{101.0, 101.2, 98.5, 100.2},
		{100.2, 101.0, 99.8, 100.5},
		{100.5, 101.1, 100.0, 100.8},
		{100.8, 101.3, 100.2, 101.0},
	}
	cfg := engineConfig(nil)
	series := gateSeries(rows)
	setup := setups.Setup{
		Tag:        setups.TagW3,
		Direction:  elliott.DirectionUp,
		AnchorTime: testStart,
		Timeframe:  market.TimeframeH1,
		Zone:       elliott.Zone{Low: 98.0, High: 99.0},
		StopRef:    97.0,
		Target1:    104.0,
		Target2:    106.0,
	}

	eng := NewEngine(cfg, zerolog.Nop())
	trade, reason := eng.evaluateSetup(setup, Data{H1: series}, setups.NewFilters(cfg, nil), sim.NewConfirmationEngine(cfg))
	if reason != rejectNone || trade == nil {
		t.Fatalf("reason = %d, trade = %v", reason, trade)
	}

	// Entry at the touch bar, since confirmation is off.
	if trade.EntryIndex != 1 || trade.Entry != 100.2 {
		t.Errorf("entry = (%d, %v), want (1, 100.2)", trade.EntryIndex, trade.Entry)
	}
	wantStop := 97.0 - 0.25*0.5
	if trade.Stop != wantStop {
		t.Errorf("stop = %v, want %v", trade.Stop, wantStop)
	}
	wantRPS := 100.2 - wantStop
	if diff := trade.RiskPerShare - wantRPS; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("risk per share = %v, want %v", trade.RiskPerShare, wantRPS)
	}
	// No target or stop is reached, so the hold expires at the last bar.
	if trade.ExitIndex != 4 || trade.Exit != 101.0 {
		t.Errorf("exit = (%d, %v), want (4, 101.0)", trade.ExitIndex, trade.Exit)
	}
	if trade.Label != 1 {
		t.Errorf("label = %d, want 1 for a positive close", trade.Label)
	}
	if len(trade.Features) == 0 {
		t.Error("features not attached")
	}
	if !trade.TimeIn.Equal(testStart.Add(time.Hour)) {
		t.Errorf("time in = %s", trade.TimeIn)
	}
}

func TestRunFunnelAccounting(t *testing.T) {
	legs := []float64{100, 104, 102, 110, 106, 114, 110, 103, 106, 101, 105, 112, 108, 118, 113, 122, 117, 111}
	data := Data{H1: trendSeries(legs, 8)}
	eng := NewEngine(engineConfig(nil), zerolog.Nop())

	res, err := eng.Run(context.Background(), data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RunID == "" {
		t.Error("run id not assigned")
	}
	if res.FinishedAt.Before(res.StartedAt) {
		t.Error("finish time precedes start time")
	}
	if res.Trading.Pivots == 0 {
		t.Error("no pivots detected in a swinging series")
	}

	tel := res.Telemetry
	rejected := tel.FilteredRegime + tel.FilteredDailyTrend + tel.NoData +
		tel.FilteredEMATrend + tel.FilteredVol + tel.NoTouch + tel.NoConfirm + tel.InvalidRisk
	if tel.Setups != rejected+tel.Simulated {
		t.Errorf("funnel leak: setups %d, rejected %d, simulated %d", tel.Setups, rejected, tel.Simulated)
	}
	if len(res.Trades) != tel.Simulated {
		t.Errorf("trades %d != simulated %d", len(res.Trades), tel.Simulated)
	}
	if res.Summary.Trades != len(res.Equity.Accepted) {
		t.Errorf("summary trades %d != accepted %d", res.Summary.Trades, len(res.Equity.Accepted))
	}
	if res.Model.Active {
		t.Error("model active with ML disabled")
	}
}

func TestRunFailsOpenOnShortHistory(t *testing.T) {
	// Too few bars to ever produce the 20 training rows the classifier
	// needs, so the run must keep every simulated trade ungated.
	legs := []float64{100, 104, 102, 110, 106, 114, 110, 103, 106, 101}
	data := Data{H1: trendSeries(legs, 8)}
	cfg := engineConfig(func(c *config.Config) { c.ML.Enabled = true })
	eng := NewEngine(cfg, zerolog.Nop())

	res, err := eng.Run(context.Background(), data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Model.Active {
		t.Fatalf("model active on %d trades", len(res.Trades))
	}
	if res.Model.Threshold != 0.5 {
		t.Errorf("threshold = %v, want fail-open 0.5", res.Model.Threshold)
	}
	if res.Equity.RejectedByGate != 0 {
		t.Errorf("%d trades gated by an inactive model", res.Equity.RejectedByGate)
	}
	if res.Diagnostics.Evaluated {
		t.Error("diagnostics evaluated without an active model")
	}
}

func TestRunRequiresHourlySeries(t *testing.T) {
	eng := NewEngine(engineConfig(nil), zerolog.Nop())
	if _, err := eng.Run(context.Background(), Data{}); err == nil {
		t.Fatal("expected error for missing hourly series")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	legs := []float64{100, 104, 102, 110, 106, 114}
	eng := NewEngine(engineConfig(nil), zerolog.Nop())
	if _, err := eng.Run(ctx, Data{H1: trendSeries(legs, 8)}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestTelemetryCount(t *testing.T) {
	var tel Telemetry
	for r := rejectNone; r <= rejectInvalidRisk; r++ {
		tel.count(r)
	}
	want := Telemetry{
		Setups: 0, FilteredRegime: 1, FilteredDailyTrend: 1, NoData: 1,
		FilteredEMATrend: 1, FilteredVol: 1, NoTouch: 1, NoConfirm: 1,
		InvalidRisk: 1, Simulated: 1,
	}
	if tel != want {
		t.Errorf("telemetry = %+v, want %+v", tel, want)
	}
}
