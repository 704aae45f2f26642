package ml

import (
	"math"
	"sort"
)

// maxSplitCandidates caps the thresholds examined per feature each round.
const maxSplitCandidates = 32

// Stump is a one-level regression tree on the boosting residuals. Samples
// with feature value <= Threshold receive the Left step, the rest Right.
type Stump struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      float64 `json:"left"`
	Right     float64 `json:"right"`
}

// Classifier is a gradient-boosted stump ensemble with logistic loss. The
// fit is fully deterministic: candidate splits are scanned in feature then
// threshold order and ties keep the earlier candidate.
type Classifier struct {
	Base         float64 `json:"base"` // initial log odds from the train base rate
	LearningRate float64 `json:"learning_rate"`
	Stumps       []Stump `json:"stumps"`
}

// Train fits an ensemble to binary labels. Each round fits one stump to the
// logistic residuals with Newton leaf values and stops early once no split
// improves the loss. Returns nil when the input is empty.
func Train(features [][]float64, labels []int, rounds int, learningRate float64) *Classifier {
	n := len(features)
	if n == 0 || len(labels) != n {
		return nil
	}

	base := 0.0
	for _, y := range labels {
		base += float64(y)
	}
	base /= float64(n)
	base = math.Min(math.Max(base, 1e-6), 1-1e-6)
	c := &Classifier{
		Base:         math.Log(base / (1 - base)),
		LearningRate: learningRate,
	}

	score := make([]float64, n)
	for i := range score {
		score[i] = c.Base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	column := make([]float64, n)

	for round := 0; round < rounds; round++ {
		var gradSum, hessSum float64
		for i := 0; i < n; i++ {
			p := sigmoid(score[i])
			grad[i] = float64(labels[i]) - p
			hess[i] = p * (1 - p)
			gradSum += grad[i]
			hessSum += hess[i]
		}
		rootGain := gradSum * gradSum / math.Max(hessSum, 1e-12)

		best := Stump{Feature: -1}
		bestGain := 0.0
		numFeatures := len(features[0])
		for f := 0; f < numFeatures; f++ {
			for i := 0; i < n; i++ {
				column[i] = features[i][f]
			}
			for _, thr := range splitCandidates(column) {
				var gl, hl float64
				for i := 0; i < n; i++ {
					if column[i] <= thr {
						gl += grad[i]
						hl += hess[i]
					}
				}
				gr := gradSum - gl
				hr := hessSum - hl
				gain := gl*gl/math.Max(hl, 1e-12) + gr*gr/math.Max(hr, 1e-12) - rootGain
				if gain > bestGain+1e-12 {
					bestGain = gain
					best = Stump{
						Feature:   f,
						Threshold: thr,
						Left:      gl / math.Max(hl, 1e-12),
						Right:     gr / math.Max(hr, 1e-12),
					}
				}
			}
		}
		if best.Feature < 0 {
			break
		}

		c.Stumps = append(c.Stumps, best)
		for i := 0; i < n; i++ {
			step := best.Right
			if features[i][best.Feature] <= best.Threshold {
				step = best.Left
			}
			score[i] += learningRate * step
		}
	}
	return c
}

// PredictProba returns the win probability for one feature vector.
func (c *Classifier) PredictProba(x []float64) float64 {
	score := c.Base
	for _, s := range c.Stumps {
		if x[s.Feature] <= s.Threshold {
			score += c.LearningRate * s.Left
		} else {
			score += c.LearningRate * s.Right
		}
	}
	return sigmoid(score)
}

// splitCandidates returns thresholds between distinct column values,
// downsampled evenly when the column has many levels.
func splitCandidates(column []float64) []float64 {
	sorted := append([]float64(nil), column...)
	sort.Float64s(sorted)
	distinct := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != distinct[len(distinct)-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) < 2 {
		return nil
	}
	if len(distinct) <= maxSplitCandidates+1 {
		out := make([]float64, 0, len(distinct)-1)
		for i := 0; i+1 < len(distinct); i++ {
			out = append(out, (distinct[i]+distinct[i+1])/2)
		}
		return out
	}
	out := make([]float64, 0, maxSplitCandidates)
	for k := 1; k <= maxSplitCandidates; k++ {
		idx := k * (len(distinct) - 1) / (maxSplitCandidates + 1)
		mid := (distinct[idx] + distinct[idx+1]) / 2
		if len(out) == 0 || mid != out[len(out)-1] {
			out = append(out, mid)
		}
	}
	return out
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
