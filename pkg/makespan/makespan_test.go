package makespan

import (
	"testing"

	"github.com/cuemby/pilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name        string
		costs       []float64
		parallelism int
		rate        float64
		expected    float64
	}{
		{name: "empty", costs: nil, parallelism: 4, rate: 1, expected: 0},
		{name: "single worker sums", costs: []float64{10, 20, 30}, parallelism: 1, rate: 1, expected: 60},
		{name: "one task per worker", costs: []float64{10, 20, 30}, parallelism: 3, rate: 1, expected: 30},
		{name: "more workers than tasks", costs: []float64{10, 20}, parallelism: 8, rate: 1, expected: 20},
		{name: "lpt packing", costs: []float64{7, 5, 4, 3, 3}, parallelism: 2, rate: 1, expected: 12},
		{name: "rate scales", costs: []float64{100, 100}, parallelism: 1, rate: 10, expected: 20},
		{name: "zero parallelism treated as one", costs: []float64{1, 2}, parallelism: 0, rate: 1, expected: 3},
		{name: "zero rate", costs: []float64{1, 2}, parallelism: 1, rate: 0, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Estimate(tt.costs, tt.parallelism, tt.rate), 1e-9)
		})
	}
}

func TestLevelsSumsPerLevel(t *testing.T) {
	tasks := []types.Task{
		{ID: "a", Flops: 10, Level: 0},
		{ID: "b", Flops: 30, Level: 0},
		{ID: "c", Flops: 5, Level: 1},
		{ID: "d", Flops: 6, Level: 1},
	}

	assert.InDelta(t, 36.0, Levels(tasks, 2, 1), 1e-9)
	assert.InDelta(t, 30.0, Tasks(tasks, 2, 1), 1e-9)
}

func TestEstimateBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		costs := rapid.SliceOfN(rapid.Float64Range(0, 1000), 1, 50).Draw(t, "costs")
		p := rapid.IntRange(1, 16).Draw(t, "parallelism")

		total, longest := 0.0, 0.0
		for _, c := range costs {
			total += c
			longest = max(longest, c)
		}
		got := Estimate(costs, p, 1)

		// any list schedule sits between the trivial lower bound and
		// Graham's total/p + longest upper bound
		lower := max(longest, total/float64(p))
		if got < lower-1e-6 {
			t.Fatalf("estimate %f below lower bound %f", got, lower)
		}
		if upper := total/float64(p) + longest; got > upper+1e-6 {
			t.Fatalf("estimate %f above list scheduling bound %f", got, upper)
		}
		if got > total+1e-6 {
			t.Fatalf("estimate %f exceeds serial time %f", got, total)
		}
	})
}
