package clustering

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/pilot/pkg/log"
	"github.com/cuemby/pilot/pkg/makespan"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// RatioSearch groups consecutive levels into a single reservation, growing
// the group while doing so does not worsen its wait/runtime ratio
type RatioSearch struct {
	// AllowOverlap lets a new group queue while another one runs
	AllowOverlap bool

	// PLimit rejects levels wider than the cluster instead of folding them
	PLimit bool

	oracle Predictor
	logger zerolog.Logger
}

// NewRatioSearch creates a ratio-search strategy backed by the oracle
func NewRatioSearch(overlap, plimit bool, oracle Predictor) *RatioSearch {
	return &RatioSearch{
		AllowOverlap: overlap,
		PLimit:       plimit,
		oracle:       oracle,
		logger:       log.WithComponent("clustering"),
	}
}

func (r *RatioSearch) Name() string {
	var b strings.Builder
	b.WriteString("zhang")
	if r.AllowOverlap {
		b.WriteString(":overlap")
	} else {
		b.WriteString(":nooverlap")
	}
	if r.PLimit {
		b.WriteString(":plimit")
	} else {
		b.WriteString(":pnolimit")
	}
	return b.String()
}

func (r *RatioSearch) Mode() Mode {
	return ModeRatioSearch
}

func (r *RatioSearch) Overlap() bool {
	return r.AllowOverlap
}

type candidate struct {
	end     int
	tasks   []types.Task
	nodes   int
	runtime float64
	wait    float64
}

func (c candidate) ratio() float64 {
	return c.wait / max(c.runtime, 1)
}

// Decide searches for the end level of the next group. The start level is
// the first level with uncovered tasks.
func (r *RatioSearch) Decide(ctx context.Context, snap Snapshot) (*Decision, error) {
	start := snap.FirstUncoveredLevel()
	if start < 0 {
		return &Decision{}, nil
	}
	leeway := 0.0
	for _, ph := range snap.Running {
		leeway = max(leeway, ph.Remaining(snap.Now))
	}
	last := snap.Workflow.NumLevels() - 1

	if r.PLimit {
		for l := start; l <= last; l++ {
			if n := len(snap.Workflow.TasksInLevelRange(l, l)); n > snap.Hosts {
				return nil, fmt.Errorf("%w: level %d has %d tasks but the batch service has %d hosts", types.ErrConfiguration, l, n, snap.Hosts)
			}
		}
	}

	baseline, err := r.evaluate(ctx, snap, start, last, leeway)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().
		Int("start_level", start).
		Int("end_level", last).
		Int("nodes", baseline.nodes).
		Float64("runtime", baseline.runtime).
		Float64("wait", baseline.wait).
		Msg("Whole remaining workflow estimate")

	prev, err := r.evaluate(ctx, snap, start, start, leeway)
	if err != nil {
		return nil, err
	}
	giant := prev.wait > prev.runtime
	stopped := false
	for prev.end < last {
		next, err := r.evaluate(ctx, snap, start, prev.end+1, leeway)
		if err != nil {
			return nil, err
		}
		if !giant && next.ratio() > prev.ratio() {
			r.logger.Debug().
				Int("end_level", prev.end).
				Float64("ratio", prev.ratio()).
				Float64("next_ratio", next.ratio()).
				Msg("Grouping stopped")
			stopped = true
			break
		}
		prev = next
		giant = giant && prev.wait > prev.runtime
	}

	if !stopped {
		r.logger.Info().
			Int("start_level", start).
			Bool("giant", giant).
			Msg("Search reached the last level, switching to individual mode")
		return &Decision{Individual: true}, nil
	}

	return &Decision{Jobs: []*types.ClusteredJob{{
		TaskIDs:    taskIDs(prev.tasks),
		Nodes:      prev.nodes,
		Runtime:    prev.runtime,
		StartLevel: start,
		EndLevel:   prev.end,
	}}}, nil
}

// evaluate sizes a group over levels lo..hi and predicts its wait. When a
// running placeholder outlives the predicted wait, the runtime is stretched
// so the new group overlaps its tail, and the oracle is asked once more.
func (r *RatioSearch) evaluate(ctx context.Context, snap Snapshot, lo, hi int, leeway float64) (candidate, error) {
	c := candidate{end: hi, tasks: snap.Uncovered(lo, hi)}

	perLevel := make(map[int]int)
	for _, t := range c.tasks {
		perLevel[t.Level]++
	}
	c.nodes = 1
	for _, n := range perLevel {
		c.nodes = max(c.nodes, min(n, snap.Hosts))
	}
	c.runtime = makespan.Levels(c.tasks, c.nodes, snap.CoreFlopRate)

	wait, err := r.oracle.Predict(ctx, c.nodes, c.runtime)
	if err != nil {
		return c, fmt.Errorf("failed to evaluate levels %d-%d: %w", lo, hi, err)
	}
	if excess := leeway - wait; excess > 0 {
		c.runtime += excess
		if wait, err = r.oracle.Predict(ctx, c.nodes, c.runtime); err != nil {
			return c, fmt.Errorf("failed to evaluate levels %d-%d: %w", lo, hi, err)
		}
	}
	c.wait = wait
	return c, nil
}
