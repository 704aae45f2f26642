// Package backtest wires the whole pipeline together: indicators, wave
// structure, setup construction, the gate funnel, trade simulation, the
// walk-forward classifier and the equity replay. One Engine run is one
// configuration against one data bundle.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"elliott-backtester/config"
	"elliott-backtester/internal/elliott"
	"elliott-backtester/internal/equity"
	"elliott-backtester/internal/indicators"
	"elliott-backtester/internal/market"
	"elliott-backtester/internal/metrics"
	"elliott-backtester/internal/ml"
	"elliott-backtester/internal/risk"
	"elliott-backtester/internal/setups"
	"elliott-backtester/internal/sim"
)

// Data bundles the candle series for one run. Daily and M30 are optional;
// the hourly series is required.
type Data struct {
	Daily *market.Series
	H1    *market.Series
	M30   *market.Series
}

// clone forks the series structs so each run attaches its own indicator
// columns. Candles are shared read-only.
func (d Data) clone() Data {
	out := d
	if d.Daily != nil {
		s := *d.Daily
		out.Daily = &s
	}
	if d.H1 != nil {
		s := *d.H1
		out.H1 = &s
	}
	if d.M30 != nil {
		s := *d.M30
		out.M30 = &s
	}
	return out
}

// ProgressEvent reports pipeline progress, for log tails and the run stream.
type ProgressEvent struct {
	RunID string `json:"run_id"`
	Stage string `json:"stage"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// ModelInfo is the JSON-facing summary of the trained classifier.
type ModelInfo struct {
	Active      bool      `json:"active"`
	Threshold   float64   `json:"threshold"`
	TrainRows   int       `json:"train_rows"`
	ValRows     int       `json:"val_rows"`
	TrainUntil  time.Time `json:"train_until"`
	RawPassRate float64   `json:"raw_pass_rate"`
	Relaxed     bool      `json:"relaxed"`
	Stumps      int       `json:"stumps"`
}

// MLDiagnostics scores the classifier on the trades past its training
// cutoff. Evaluated stays false when fewer than five such trades exist.
type MLDiagnostics struct {
	Evaluated        bool                `json:"evaluated"`
	OOSTrades        int                 `json:"oos_trades"`
	AUC              float64             `json:"auc"`
	AveragePrecision float64             `json:"average_precision"`
	Calibration      []ml.CalibrationBin `json:"calibration,omitempty"`
}

// Result is everything one run produced.
type Result struct {
	RunID      string    `json:"run_id"`
	Symbol     string    `json:"symbol"`
	Profile    string    `json:"profile"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Primary   StructureStats `json:"primary"` // daily map, context only
	Trading   StructureStats `json:"trading"` // hourly map, feeds setups
	Telemetry Telemetry      `json:"telemetry"`

	Trades      []sim.Trade     `json:"trades"`
	Equity      equity.Result   `json:"equity"`
	Summary     metrics.Summary `json:"summary"`
	Model       ModelInfo       `json:"model"`
	Diagnostics MLDiagnostics   `json:"diagnostics"`

	Counterfactuals []Scenario `json:"counterfactuals,omitempty"`

	// MLModel keeps the fitted classifier around for counterfactual
	// replays. It is not part of the serialized result.
	MLModel ml.Model `json:"-"`
}

// Engine runs one configuration end to end.
type Engine struct {
	cfg    config.Config
	logger zerolog.Logger

	// OnProgress, when set, receives stage updates during Run.
	OnProgress func(ProgressEvent)
}

// NewEngine creates an engine for one run configuration.
func NewEngine(cfg config.Config, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// Run executes the pipeline. The context is checked between stages and
// every few setups inside the gate loop.
func (e *Engine) Run(ctx context.Context, data Data) (*Result, error) {
	if data.H1 == nil || data.H1.Empty() {
		return nil, fmt.Errorf("hourly series is empty")
	}

	res := &Result{
		RunID:     uuid.New().String(),
		Symbol:    e.cfg.Symbol,
		Profile:   e.cfg.Profile,
		StartedAt: time.Now().UTC(),
	}
	log := e.logger.With().Str("run_id", res.RunID).Logger()
	log.Info().
		Str("symbol", res.Symbol).
		Str("profile", res.Profile).
		Int("h1_bars", data.H1.Len()).
		Int("m30_bars", data.M30.Len()).
		Int("daily_bars", data.Daily.Len()).
		Msg("Backtest starting")

	data = data.clone()
	e.progress(res.RunID, "indicators", 0, 1)
	e.enrich(data)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.progress(res.RunID, "structure", 0, 1)
	impulses, abcs := e.analyzeStructure(data, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	builder := setups.NewBuilder(e.cfg, data.H1, data.M30, e.logger)
	built := builder.Build(impulses, abcs)
	res.Telemetry.Setups = len(built)

	filters := setups.NewFilters(e.cfg, data.Daily)
	confirm := sim.NewConfirmationEngine(e.cfg)
	for i, set := range built {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			e.progress(res.RunID, "setups", i, len(built))
		}
		trade, reason := e.evaluateSetup(set, data, filters, confirm)
		res.Telemetry.count(reason)
		if trade != nil {
			res.Trades = append(res.Trades, *trade)
		}
	}
	e.progress(res.RunID, "setups", len(built), len(built))

	e.progress(res.RunID, "classifier", 0, 1)
	model := ml.Model{Threshold: 0.5}
	if e.cfg.ML.Enabled && len(res.Trades) > 0 {
		model = ml.NewCalibrator(e.cfg, e.logger).Fit(tradeSamples(res.Trades))
	}
	res.MLModel = model
	res.Model = modelInfo(model)

	e.progress(res.RunID, "equity", 0, 1)
	sizer := risk.NewSizer(e.cfg, e.logger)
	res.Equity = equity.NewAccountant(e.cfg, sizer, e.logger).Process(res.Trades, model, data.H1)
	res.Summary = metrics.Calculate(e.cfg.StartCapital, res.Equity)
	res.Diagnostics = e.diagnose(res.Trades, model)
	res.FinishedAt = time.Now().UTC()
	e.progress(res.RunID, "done", 1, 1)

	log.Info().
		Int("setups", res.Telemetry.Setups).
		Int("simulated", res.Telemetry.Simulated).
		Int("accepted", len(res.Equity.Accepted)).
		Float64("final_capital", res.Equity.FinalCapital).
		Float64("total_return_pct", res.Summary.TotalReturnPct).
		Float64("max_drawdown_pct", res.Summary.MaxDrawdownPct).
		Dur("traded_span", metrics.HoldSpan(res.Equity.Accepted)).
		Msg("Backtest finished")
	return res, nil
}

// enrich attaches indicator columns to every series in the bundle.
func (e *Engine) enrich(data Data) {
	f := e.cfg.Filters
	atr := e.cfg.Structure.ATRPeriod
	indicators.Apply(data.H1, atr, f.EMAFast, f.EMASlow)
	if data.M30 != nil && !data.M30.Empty() {
		indicators.Apply(data.M30, atr, f.EMAFast, f.EMASlow)
	}
	if data.Daily != nil && !data.Daily.Empty() {
		indicators.Apply(data.Daily, atr, f.EMAFast, f.EMASlow)
		indicators.ApplyDaily(data.Daily)
	}
}

// analyzeStructure runs both wave engines and returns the tradeable
// impulses and corrections from the hourly map.
func (e *Engine) analyzeStructure(data Data, res *Result) ([]elliott.Impulse, []elliott.ABC) {
	if data.Daily != nil && !data.Daily.Empty() {
		p := e.cfg.Structure.Primary
		eng := elliott.NewEngine(p.Pct, p.ATRMult, p.MinImpulseATR)
		piv := eng.Zigzag(data.Daily.Closes(), data.Daily.ATR)
		res.Primary = StructureStats{
			Pivots:     len(piv),
			Impulses:   len(eng.DetectImpulses(piv, data.Daily.ATR)),
			ABCs:       len(eng.DetectABCs(piv)),
			Rejections: eng.Stats,
		}
	}

	t := e.cfg.Structure.Trading
	eng := elliott.NewEngine(t.Pct, t.ATRMult, t.MinImpulseATR)
	piv := eng.Zigzag(data.H1.Closes(), data.H1.ATR)
	impulses := eng.DetectImpulses(piv, data.H1.ATR)
	abcs := eng.DetectABCs(piv)
	res.Trading = StructureStats{
		Pivots:     len(piv),
		Impulses:   len(impulses),
		ABCs:       len(abcs),
		Rejections: eng.Stats,
	}
	return impulses, abcs
}

type rejectReason int

const (
	rejectNone rejectReason = iota
	rejectRegime
	rejectDailyTrend
	rejectNoData
	rejectEMATrend
	rejectVol
	rejectNoTouch
	rejectNoConfirm
	rejectInvalidRisk
)

func (t *Telemetry) count(r rejectReason) {
	switch r {
	case rejectNone:
		t.Simulated++
	case rejectRegime:
		t.FilteredRegime++
	case rejectDailyTrend:
		t.FilteredDailyTrend++
	case rejectNoData:
		t.NoData++
	case rejectEMATrend:
		t.FilteredEMATrend++
	case rejectVol:
		t.FilteredVol++
	case rejectNoTouch:
		t.NoTouch++
	case rejectNoConfirm:
		t.NoConfirm++
	case rejectInvalidRisk:
		t.InvalidRisk++
	}
}

// evaluateSetup walks one setup through the gate funnel and simulates it
// when it triggers. The trend and volatility gates read the bar at the
// anchor; the stop pads the structural level by the ATR buffer at entry.
func (e *Engine) evaluateSetup(set setups.Setup, data Data, filters *setups.Filters, confirm *sim.ConfirmationEngine) (*sim.Trade, rejectReason) {
	if !filters.RegimeOK(set.AnchorTime) {
		return nil, rejectRegime
	}
	if !filters.DailyTrendOK(set.AnchorTime, set.Direction) {
		return nil, rejectDailyTrend
	}

	s := data.H1
	window := e.cfg.Entries.WindowH1
	confirmBars := e.cfg.Confirm.BarsH1
	horizon := e.cfg.Entries.MaxHoldH1
	if set.Timeframe == market.TimeframeM30 {
		s = data.M30
		window = e.cfg.Entries.WindowM30
		confirmBars = e.cfg.Confirm.BarsM30
		horizon = e.cfg.Entries.MaxHoldM30
	}
	if s == nil || s.Empty() {
		return nil, rejectNoData
	}
	startIdx := s.FirstIndexAtOrAfter(set.AnchorTime)
	if startIdx < 0 {
		return nil, rejectNoTouch
	}
	if !filters.TrendOK(s, startIdx, set.Direction) {
		return nil, rejectEMATrend
	}
	if !filters.VolOK(s, startIdx) {
		return nil, rejectVol
	}

	conf := confirm.FindEntry(s, startIdx, set.Zone, set.Direction, window, confirmBars)
	if conf.State != sim.StateConfirmed {
		if conf.Touched() {
			return nil, rejectNoConfirm
		}
		return nil, rejectNoTouch
	}

	entryIdx := conf.EntryIndex
	entry := s.Candles[entryIdx].Close
	buffer := e.cfg.Entries.ATRMultBuffer * atrAt(s, entryIdx)
	stop := set.StopRef - buffer
	rps := entry - stop
	if !set.Direction.IsUp() {
		stop = set.StopRef + buffer
		rps = stop - entry
	}
	if rps <= 1e-9 {
		return nil, rejectInvalidRisk
	}

	out := sim.Simulate(s, entryIdx, entry, set.Direction, stop, set.Target1, set.Target2, horizon)
	label := 0
	if out.PerShare > 0 {
		label = 1
	}
	return &sim.Trade{
		Timeframe:    set.Timeframe,
		EntryIndex:   entryIdx,
		ExitIndex:    out.ExitIndex,
		Entry:        entry,
		Exit:         out.ExitPrice,
		PerShare:     out.PerShare,
		RiskPerShare: rps,
		Tag:          set.Tag,
		Direction:    set.Direction,
		TimeIn:       s.Candles[entryIdx].Time,
		TimeOut:      s.Candles[out.ExitIndex].Time,
		Stop:         stop,
		Target1:      set.Target1,
		Target2:      set.Target2,
		MAER:         out.MAER,
		MFER:         out.MFER,
		Features:     ml.BuildFeatures(s, entryIdx, set.Direction, set.Tag, set.Zone),
		Label:        label,
	}, rejectNone
}

// diagnose scores the model on trades past the training cutoff.
func (e *Engine) diagnose(trades []sim.Trade, model ml.Model) MLDiagnostics {
	d := MLDiagnostics{}
	if !model.Active() {
		return d
	}
	var labels []int
	var probs []float64
	for _, tr := range trades {
		if !tr.TimeIn.After(model.TrainUntil) {
			continue
		}
		p, _ := model.Predict(tr.Features)
		probs = append(probs, p)
		labels = append(labels, tr.Label)
	}
	d.OOSTrades = len(probs)
	if d.OOSTrades < 5 {
		return d
	}
	d.Evaluated = true
	if auc := ml.ROCAUC(labels, probs); !math.IsNaN(auc) {
		d.AUC = auc
	}
	if ap := ml.AveragePrecision(labels, probs); !math.IsNaN(ap) {
		d.AveragePrecision = ap
	}
	d.Calibration = ml.CalibrationBins(labels, probs)
	return d
}

func tradeSamples(trades []sim.Trade) []ml.Sample {
	out := make([]ml.Sample, len(trades))
	for i, tr := range trades {
		out[i] = ml.Sample{Time: tr.TimeIn, Features: tr.Features, Label: tr.Label}
	}
	return out
}

func modelInfo(m ml.Model) ModelInfo {
	info := ModelInfo{
		Active:      m.Active(),
		Threshold:   m.Threshold,
		TrainRows:   m.TrainRows,
		ValRows:     m.ValRows,
		RawPassRate: m.RawPassRate,
		Relaxed:     m.Relaxed,
	}
	if m.Active() {
		info.TrainUntil = m.TrainUntil
		info.Stumps = len(m.Classifier.Stumps)
	}
	return info
}

func atrAt(s *market.Series, i int) float64 {
	if i < len(s.ATR) && !math.IsNaN(s.ATR[i]) {
		return s.ATR[i]
	}
	return 0
}

func (e *Engine) progress(runID, stage string, done, total int) {
	if e.OnProgress == nil {
		return
	}
	e.OnProgress(ProgressEvent{RunID: runID, Stage: stage, Done: done, Total: total})
}
