package clustering

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/addrummond/heap"
	"github.com/cuemby/pilot/pkg/log"
	"github.com/cuemby/pilot/pkg/makespan"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// levelPartitioner cuts one level into clusters. Posterior merge works on
// top of any of them.
type levelPartitioner interface {
	Strategy
	partition(ctx context.Context, snap Snapshot, level int) ([]*types.ClusteredJob, error)
}

// horizontal holds what the per-level strategies share: every cluster of a
// level asks for the same node count, or for the one the oracle favours
type horizontal struct {
	// nodesPerCluster of zero picks, per cluster, the node count that
	// minimises predicted wait plus makespan
	nodesPerCluster int

	oracle Predictor
	logger zerolog.Logger
}

func newHorizontal(nodesPerCluster int, oracle Predictor) (horizontal, error) {
	if nodesPerCluster < 0 {
		return horizontal{}, fmt.Errorf("%w: nodes per cluster must not be negative, got %d", types.ErrConfiguration, nodesPerCluster)
	}
	if nodesPerCluster == 0 && oracle == nil {
		return horizontal{}, fmt.Errorf("%w: picking node counts requires a wait-time oracle", types.ErrConfiguration)
	}
	return horizontal{
		nodesPerCluster: nodesPerCluster,
		oracle:          oracle,
		logger:          log.WithComponent("clustering"),
	}, nil
}

func (h *horizontal) Mode() Mode {
	return ModeLevelByLevel
}

// width is the node count used while cutting a level, before any oracle
// sizing
func (h *horizontal) width(snap Snapshot) int {
	if h.nodesPerCluster == 0 {
		return 1
	}
	return min(h.nodesPerCluster, snap.Hosts)
}

// jobs sizes each chunk and turns it into a clustered job of the level
func (h *horizontal) jobs(ctx context.Context, snap Snapshot, level int, chunks [][]types.Task) ([]*types.ClusteredJob, error) {
	jobs := make([]*types.ClusteredJob, 0, len(chunks))
	for _, chunk := range chunks {
		nodes, err := h.nodes(ctx, snap, level, chunk)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, &types.ClusteredJob{
			TaskIDs:    taskIDs(chunk),
			Nodes:      nodes,
			Runtime:    makespan.Tasks(chunk, nodes, snap.CoreFlopRate) * RuntimeFudgeFactor,
			StartLevel: level,
			EndLevel:   level,
		})
	}

	h.logger.Debug().
		Int("level", level).
		Int("clusters", len(jobs)).
		Msg("Partitioned level")
	return jobs, nil
}

func (h *horizontal) nodes(ctx context.Context, snap Snapshot, level int, chunk []types.Task) (int, error) {
	if h.nodesPerCluster > 0 {
		if h.nodesPerCluster > snap.Hosts {
			h.logger.Warn().
				Int("level", level).
				Int("requested", h.nodesPerCluster).
				Int("hosts", snap.Hosts).
				Msg("Clamping cluster node count to host count")
			return snap.Hosts, nil
		}
		return h.nodesPerCluster, nil
	}

	n, err := pickNodes(ctx, h.oracle, min(len(chunk), snap.Hosts), func(n int) float64 {
		return makespan.Tasks(chunk, n, snap.CoreFlopRate)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size cluster in level %d: %w", level, err)
	}
	return n, nil
}

// pickNodes returns the node count in [1, widest] with the lowest predicted
// wait plus estimated runtime
func pickNodes(ctx context.Context, oracle Predictor, widest int, runtime func(nodes int) float64) (int, error) {
	best, bestCost := 1, math.Inf(1)
	for n := 1; n <= max(widest, 1); n++ {
		r := runtime(n)
		wait, err := oracle.Predict(ctx, n, r*RuntimeFudgeFactor)
		if err != nil {
			return 0, err
		}
		if cost := wait + r; cost < bestCost {
			best, bestCost = n, cost
		}
	}
	return best, nil
}

// decideLevel runs a partitioner on the lowest level with uncovered tasks
func decideLevel(ctx context.Context, p levelPartitioner, snap Snapshot) (*Decision, error) {
	level := snap.FirstUncoveredLevel()
	if level < 0 {
		return &Decision{}, nil
	}
	jobs, err := p.partition(ctx, snap, level)
	if err != nil {
		return nil, err
	}
	return &Decision{Jobs: jobs}, nil
}

// FixedSize is horizontal clustering: the incomplete tasks of the next level
// are cut, in provider order, into clusters of at most TasksPerCluster tasks
// that each request the same number of nodes
type FixedSize struct {
	TasksPerCluster int
	horizontal
}

// NewFixedSize creates a fixed-size strategy. The oracle is only consulted
// when nodesPerCluster is zero.
func NewFixedSize(tasksPerCluster, nodesPerCluster int, oracle Predictor) (*FixedSize, error) {
	if tasksPerCluster < 1 {
		return nil, fmt.Errorf("%w: tasks per cluster must be at least 1, got %d", types.ErrConfiguration, tasksPerCluster)
	}
	h, err := newHorizontal(nodesPerCluster, oracle)
	if err != nil {
		return nil, err
	}
	return &FixedSize{TasksPerCluster: tasksPerCluster, horizontal: h}, nil
}

func (f *FixedSize) Name() string {
	return fmt.Sprintf("hc-%d-%d", f.TasksPerCluster, f.nodesPerCluster)
}

// Decide partitions the lowest level that still has uncovered tasks
func (f *FixedSize) Decide(ctx context.Context, snap Snapshot) (*Decision, error) {
	return decideLevel(ctx, f, snap)
}

func (f *FixedSize) partition(ctx context.Context, snap Snapshot, level int) ([]*types.ClusteredJob, error) {
	tasks := snap.Uncovered(level, level)
	var chunks [][]types.Task
	for lo := 0; lo < len(tasks); lo += f.TasksPerCluster {
		chunks = append(chunks, tasks[lo:min(lo+f.TasksPerCluster, len(tasks))])
	}
	return f.jobs(ctx, snap, level, chunks)
}

// RuntimeBounded greedily grows clusters in provider order for as long as
// their estimated makespan stays within MaxRuntime seconds. A task that
// alone runs longer than the bound gets a cluster of its own.
type RuntimeBounded struct {
	MaxRuntime int
	horizontal
}

// NewRuntimeBounded creates a runtime-bounded strategy. With nodesPerCluster
// zero, clusters are cut as if run on one node and then sized by the oracle.
func NewRuntimeBounded(maxRuntime, nodesPerCluster int, oracle Predictor) (*RuntimeBounded, error) {
	if maxRuntime < 1 {
		return nil, fmt.Errorf("%w: cluster runtime bound must be at least 1s, got %d", types.ErrConfiguration, maxRuntime)
	}
	h, err := newHorizontal(nodesPerCluster, oracle)
	if err != nil {
		return nil, err
	}
	return &RuntimeBounded{MaxRuntime: maxRuntime, horizontal: h}, nil
}

func (r *RuntimeBounded) Name() string {
	return fmt.Sprintf("dfjs-%d-%d", r.MaxRuntime, r.nodesPerCluster)
}

func (r *RuntimeBounded) Decide(ctx context.Context, snap Snapshot) (*Decision, error) {
	return decideLevel(ctx, r, snap)
}

func (r *RuntimeBounded) partition(ctx context.Context, snap Snapshot, level int) ([]*types.ClusteredJob, error) {
	width := r.width(snap)
	var chunks [][]types.Task
	var cur []types.Task
	for _, t := range snap.Uncovered(level, level) {
		grown := append(slices.Clone(cur), t)
		if len(cur) > 0 && makespan.Tasks(grown, width, snap.CoreFlopRate) > float64(r.MaxRuntime) {
			chunks = append(chunks, cur)
			grown = []types.Task{t}
		}
		cur = grown
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return r.jobs(ctx, snap, level, chunks)
}

type bin struct {
	load  float64
	index int
	tasks []types.Task
}

func (a *bin) Cmp(b *bin) int {
	if c := cmp.Compare(a.load, b.load); c != 0 {
		return c
	}
	if c := cmp.Compare(len(a.tasks), len(b.tasks)); c != 0 {
		return c
	}
	return cmp.Compare(a.index, b.index)
}

// Balanced cuts a level into as many clusters as fixed-size clustering
// would, but spreads the work so that clusters carry similar runtimes:
// tasks are handed out longest first to the least loaded cluster
type Balanced struct {
	TasksPerCluster int
	horizontal
}

// NewBalanced creates a runtime-balanced strategy
func NewBalanced(tasksPerCluster, nodesPerCluster int, oracle Predictor) (*Balanced, error) {
	if tasksPerCluster < 1 {
		return nil, fmt.Errorf("%w: tasks per cluster must be at least 1, got %d", types.ErrConfiguration, tasksPerCluster)
	}
	h, err := newHorizontal(nodesPerCluster, oracle)
	if err != nil {
		return nil, err
	}
	return &Balanced{TasksPerCluster: tasksPerCluster, horizontal: h}, nil
}

func (b *Balanced) Name() string {
	return fmt.Sprintf("hrb-%d-%d", b.TasksPerCluster, b.nodesPerCluster)
}

func (b *Balanced) Decide(ctx context.Context, snap Snapshot) (*Decision, error) {
	return decideLevel(ctx, b, snap)
}

func (b *Balanced) partition(ctx context.Context, snap Snapshot, level int) ([]*types.ClusteredJob, error) {
	tasks := slices.Clone(snap.Uncovered(level, level))
	if len(tasks) == 0 {
		return nil, nil
	}
	slices.SortStableFunc(tasks, func(x, y types.Task) int { return cmp.Compare(y.Flops, x.Flops) })

	count := (len(tasks) + b.TasksPerCluster - 1) / b.TasksPerCluster
	var bins heap.Heap[bin, heap.Min]
	for i := range count {
		heap.PushOrderable(&bins, bin{index: i})
	}
	for _, t := range tasks {
		least, _ := heap.PopOrderable(&bins)
		least.tasks = append(least.tasks, t)
		least.load += t.Flops
		heap.PushOrderable(&bins, least)
	}

	chunks := make([][]types.Task, count)
	for range count {
		full, _ := heap.PopOrderable(&bins)
		chunks[full.index] = full.tasks
	}
	return b.jobs(ctx, snap, level, chunks)
}
