package ml

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"elliott-backtester/config"
)

// Sample is one labeled trade presented to the calibrator in time order.
type Sample struct {
	Time     time.Time
	Features []float64
	Label    int
}

// Model is a trained classifier plus its acceptance threshold. A nil
// Classifier means training was skipped and the gate must stay open.
type Model struct {
	Classifier  *Classifier
	Threshold   float64
	TrainRows   int
	ValRows     int
	TrainUntil  time.Time // last timestamp seen by the fit
	RawPassRate float64   // out-of-sample share above the threshold before the floor
	Relaxed     bool      // threshold was lowered by the pass-rate floor
}

// Active reports whether the model can gate trades.
func (m Model) Active() bool {
	return m.Classifier != nil
}

// Predict scores one feature vector. ok is false when no model was trained.
func (m Model) Predict(x []float64) (float64, bool) {
	if m.Classifier == nil {
		return 0, false
	}
	return m.Classifier.PredictProba(x), true
}

// minTrainRows is the smallest train slice worth fitting. Below it the
// calibrator fails open rather than gate on a noise fit.
const minTrainRows = 20

// minValRowsForSearch gates the threshold search; minAcceptedForScore is the
// smallest accepted set a candidate threshold may leave on validation.
const (
	minValRowsForSearch = 25
	minAcceptedForScore = 5
	defaultThreshold    = 0.5
)

// Calibrator fits the classifier walk-forward and picks its threshold.
type Calibrator struct {
	cfg    config.Config
	logger zerolog.Logger
}

// NewCalibrator creates a calibrator for one run configuration.
func NewCalibrator(cfg config.Config, logger zerolog.Logger) *Calibrator {
	return &Calibrator{
		cfg:    cfg,
		logger: logger.With().Str("component", "calibrator").Logger(),
	}
}

// Fit splits the samples chronologically, trains on the older slice and
// calibrates the threshold on the newer one. With too little history it
// returns an inactive model so every trade passes.
func (c *Calibrator) Fit(samples []Sample) Model {
	n := len(samples)
	if n == 0 {
		return Model{Threshold: defaultThreshold}
	}

	splitIdx := int(float64(n) * c.cfg.ML.TrainFrac)
	if splitIdx < 1 {
		splitIdx = 1
	}
	if splitIdx > n {
		splitIdx = n
	}
	train := samples[:splitIdx]
	val := samples[splitIdx:]
	m := Model{
		Threshold:  defaultThreshold,
		TrainRows:  len(train),
		ValRows:    len(val),
		TrainUntil: samples[splitIdx-1].Time,
	}

	if len(train) < minTrainRows {
		c.logger.Warn().
			Int("train_rows", len(train)).
			Int("min_rows", minTrainRows).
			Msg("Not enough history to train, classifier gate stays open")
		return m
	}

	features := make([][]float64, len(train))
	labels := make([]int, len(train))
	for i, s := range train {
		features[i] = s.Features
		labels[i] = s.Label
	}
	m.Classifier = Train(features, labels, c.cfg.ML.Rounds, c.cfg.ML.LearningRate)

	valProbs := make([]float64, len(val))
	for i, s := range val {
		valProbs[i] = m.Classifier.PredictProba(s.Features)
	}

	if c.cfg.ML.OptimizeThreshold && len(val) >= minValRowsForSearch {
		m.Threshold = c.searchThreshold(val, valProbs)
	}

	// Floor the out-of-sample pass rate: a threshold that rejects almost
	// everything is relaxed down to the matching probability quantile.
	if minRate := c.cfg.ML.MinPassRateTest; minRate > 0 && len(valProbs) > 0 {
		passed := 0
		for _, p := range valProbs {
			if p >= m.Threshold {
				passed++
			}
		}
		m.RawPassRate = float64(passed) / float64(len(valProbs))
		if m.RawPassRate < minRate {
			relaxed := Quantile(valProbs, 1-minRate)
			if relaxed < m.Threshold {
				m.Threshold = relaxed
				m.Relaxed = true
			}
		}
	}

	c.logger.Info().
		Int("train_rows", m.TrainRows).
		Int("val_rows", m.ValRows).
		Int("stumps", len(m.Classifier.Stumps)).
		Float64("threshold", m.Threshold).
		Bool("relaxed", m.Relaxed).
		Msg("Classifier calibrated")
	return m
}

// searchThreshold scans probability quantiles of the validation scores and
// keeps the one with the best reward-to-risk score among thresholds that
// accept enough trades.
func (c *Calibrator) searchThreshold(val []Sample, probs []float64) float64 {
	bestThr := defaultThreshold
	bestScore := math.Inf(-1)
	for _, q := range Linspace(0.2, 0.9, 15) {
		thr := Quantile(probs, q)
		wins, accepted := 0, 0
		for i, p := range probs {
			if p >= thr {
				accepted++
				wins += val[i].Label
			}
		}
		if accepted < minAcceptedForScore {
			continue
		}
		winRate := float64(wins) / float64(accepted)
		score := winRate - 0.5*(1-winRate)
		if score > bestScore {
			bestScore = score
			bestThr = thr
		}
	}
	return bestThr
}

// Quantile returns the q-quantile of values with linear interpolation
// between order statistics. Returns NaN on an empty slice.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Linspace returns count evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, count int) []float64 {
	if count <= 1 {
		return []float64{lo}
	}
	out := make([]float64, count)
	step := (hi - lo) / float64(count-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[count-1] = hi
	return out
}
