package ml

import (
	"math"
	"reflect"
	"testing"
)

func separableData(n int) ([][]float64, []int) {
	features := make([][]float64, n)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		v := float64(i) / float64(n)
		features[i] = []float64{v, 0.5} // second column carries no signal
		if v > 0.5 {
			labels[i] = 1
		}
	}
	return features, labels
}

func TestTrainLearnsSeparableRule(t *testing.T) {
	features, labels := separableData(40)
	c := Train(features, labels, 20, 0.3)
	if c == nil {
		t.Fatal("Train returned nil on non-empty data")
	}

	if p := c.PredictProba([]float64{0.9, 0.5}); p < 0.8 {
		t.Errorf("P(win | x=0.9) = %v, want > 0.8", p)
	}
	if p := c.PredictProba([]float64{0.1, 0.5}); p > 0.2 {
		t.Errorf("P(win | x=0.1) = %v, want < 0.2", p)
	}
	for _, s := range c.Stumps {
		if s.Feature != 0 {
			t.Errorf("stump split on constant feature %d", s.Feature)
		}
	}
}

func TestTrainIsDeterministic(t *testing.T) {
	features, labels := separableData(60)
	a := Train(features, labels, 15, 0.1)
	b := Train(features, labels, 15, 0.1)
	if !reflect.DeepEqual(a, b) {
		t.Error("two fits on identical data differ")
	}
}

func TestTrainConstantFeaturesStopsEarly(t *testing.T) {
	features := [][]float64{{1, 1}, {1, 1}, {1, 1}, {1, 1}}
	labels := []int{0, 1, 0, 1}
	c := Train(features, labels, 50, 0.1)
	if c == nil {
		t.Fatal("Train returned nil")
	}
	if len(c.Stumps) != 0 {
		t.Errorf("grew %d stumps with nothing to split on", len(c.Stumps))
	}
	if p := c.PredictProba([]float64{1, 1}); math.Abs(p-0.5) > 1e-9 {
		t.Errorf("base-only prediction = %v, want 0.5 from the 50%% base rate", p)
	}
}

func TestTrainSingleClass(t *testing.T) {
	features := [][]float64{{0.1}, {0.4}, {0.9}}
	labels := []int{1, 1, 1}
	c := Train(features, labels, 10, 0.1)
	if c == nil {
		t.Fatal("Train returned nil")
	}
	if p := c.PredictProba([]float64{0.5}); p < 0.9 {
		t.Errorf("P(win) = %v on all-winning history, want near 1", p)
	}
}

func TestTrainEmptyInput(t *testing.T) {
	if c := Train(nil, nil, 10, 0.1); c != nil {
		t.Errorf("Train(nil) = %+v, want nil", c)
	}
}

func TestSplitCandidates(t *testing.T) {
	t.Run("midpoints for few levels", func(t *testing.T) {
		got := splitCandidates([]float64{1, 3, 3, 2})
		want := []float64{1.5, 2.5}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("candidates = %v, want %v", got, want)
		}
	})
	t.Run("constant column has no splits", func(t *testing.T) {
		if got := splitCandidates([]float64{7, 7, 7}); got != nil {
			t.Errorf("candidates = %v, want none", got)
		}
	})
	t.Run("many levels are downsampled", func(t *testing.T) {
		column := make([]float64, 500)
		for i := range column {
			column[i] = float64(i)
		}
		got := splitCandidates(column)
		if len(got) == 0 || len(got) > maxSplitCandidates {
			t.Fatalf("got %d candidates, want 1..%d", len(got), maxSplitCandidates)
		}
		for i := 1; i < len(got); i++ {
			if got[i] <= got[i-1] {
				t.Errorf("candidates not increasing at %d: %v", i, got)
			}
		}
	})
}

func BenchmarkTrain(b *testing.B) {
	features := make([][]float64, 400)
	labels := make([]int, 400)
	for i := range features {
		row := make([]float64, NumFeatures)
		for j := range row {
			row[j] = math.Sin(float64(i*NumFeatures + j))
		}
		features[i] = row
		if row[3] > 0 {
			labels[i] = 1
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Train(features, labels, 50, 0.1)
	}
}
