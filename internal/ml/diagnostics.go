package ml

import (
	"math"
	"sort"
)

// CalibrationBin summarizes predicted vs observed win rates in one
// probability band.
type CalibrationBin struct {
	MeanPredicted float64 `json:"mean_predicted"`
	ObservedRate  float64 `json:"observed_rate"`
	Count         int     `json:"count"`
}

// ROCAUC returns the area under the ROC curve computed from average ranks,
// so tied probabilities contribute half credit. Returns NaN when either
// class is absent.
func ROCAUC(labels []int, probs []float64) float64 {
	n := len(probs)
	if n == 0 || len(labels) != n {
		return math.NaN()
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return probs[order[a]] < probs[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && probs[order[j]] == probs[order[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // mean of 1-based ranks i+1..j
		for k := i; k < j; k++ {
			ranks[order[k]] = avg
		}
		i = j
	}

	var pos, neg int
	var posRankSum float64
	for i, y := range labels {
		if y == 1 {
			pos++
			posRankSum += ranks[i]
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return math.NaN()
	}
	return (posRankSum - float64(pos)*float64(pos+1)/2) / (float64(pos) * float64(neg))
}

// AveragePrecision returns the step-interpolated area under the
// precision-recall curve. Tied probabilities move the operating point as one
// group. Returns NaN when there are no positives.
func AveragePrecision(labels []int, probs []float64) float64 {
	n := len(probs)
	if n == 0 || len(labels) != n {
		return math.NaN()
	}
	totalPos := 0
	for _, y := range labels {
		totalPos += y
	}
	if totalPos == 0 {
		return math.NaN()
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return probs[order[a]] > probs[order[b]] })

	var tp, fp int
	var ap, prevRecall float64
	for i := 0; i < n; {
		j := i
		for j < n && probs[order[j]] == probs[order[i]] {
			if labels[order[j]] == 1 {
				tp++
			} else {
				fp++
			}
			j++
		}
		precision := float64(tp) / float64(tp+fp)
		recall := float64(tp) / float64(totalPos)
		ap += (recall - prevRecall) * precision
		prevRecall = recall
		i = j
	}
	return ap
}

// CalibrationBins buckets predictions into ten fixed-width bands and
// reports the observed win rate in each. Empty bands are dropped.
func CalibrationBins(labels []int, probs []float64) []CalibrationBin {
	const bins = 10
	var sums, hits [bins]float64
	var counts [bins]int
	for i, p := range probs {
		b := int(p * bins)
		if b >= bins {
			b = bins - 1
		}
		if b < 0 {
			b = 0
		}
		sums[b] += p
		hits[b] += float64(labels[i])
		counts[b]++
	}
	out := make([]CalibrationBin, 0, bins)
	for b := 0; b < bins; b++ {
		if counts[b] == 0 {
			continue
		}
		out = append(out, CalibrationBin{
			MeanPredicted: sums[b] / float64(counts[b]),
			ObservedRate:  hits[b] / float64(counts[b]),
			Count:         counts[b],
		})
	}
	return out
}
