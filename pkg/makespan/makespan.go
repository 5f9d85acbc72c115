// Package makespan estimates how long a set of tasks takes to run on a given
// number of identical single-core workers.
package makespan

import (
	"cmp"
	"slices"

	"github.com/addrummond/heap"
	"github.com/cuemby/pilot/pkg/types"
)

type worker struct {
	finish float64
	index  int
}

func (a *worker) Cmp(b *worker) int {
	if c := cmp.Compare(a.finish, b.finish); c != 0 {
		return c
	}
	return cmp.Compare(a.index, b.index)
}

// Estimate returns the completion time of running tasks with the given costs
// (in flops) on parallelism workers of the given flop rate, under
// longest-processing-time-first list scheduling
func Estimate(costs []float64, parallelism int, rate float64) float64 {
	if len(costs) == 0 || rate <= 0 {
		return 0
	}
	if parallelism < 1 {
		parallelism = 1
	}

	sorted := slices.Clone(costs)
	slices.SortFunc(sorted, func(a, b float64) int { return cmp.Compare(b, a) })

	var workers heap.Heap[worker, heap.Min]
	for i := 0; i < parallelism && i < len(sorted); i++ {
		heap.PushOrderable(&workers, worker{index: i})
	}

	longest := 0.0
	for _, c := range sorted {
		w, _ := heap.PopOrderable(&workers)
		w.finish += c
		longest = max(longest, w.finish)
		heap.PushOrderable(&workers, w)
	}
	return longest / rate
}

// Tasks estimates the makespan of a task set
func Tasks(tasks []types.Task, parallelism int, rate float64) float64 {
	costs := make([]float64, len(tasks))
	for i, t := range tasks {
		costs[i] = t.Flops
	}
	return Estimate(costs, parallelism, rate)
}

// Levels estimates the makespan of tasks that span several levels. Levels
// run one after the other, so the estimate is the sum of per-level estimates.
func Levels(tasks []types.Task, parallelism int, rate float64) float64 {
	byLevel := make(map[int][]float64)
	for _, t := range tasks {
		byLevel[t.Level] = append(byLevel[t.Level], t.Flops)
	}
	total := 0.0
	for _, costs := range byLevel {
		total += Estimate(costs, parallelism, rate)
	}
	return total
}
