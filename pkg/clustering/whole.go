package clustering

import (
	"context"
	"fmt"

	"github.com/cuemby/pilot/pkg/log"
	"github.com/cuemby/pilot/pkg/makespan"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// OneJob runs everything that is left as a single reservation spanning all
// remaining levels
type OneJob struct {
	// Nodes of zero picks the node count with the lowest predicted wait
	// plus makespan
	Nodes int

	oracle Predictor
	logger zerolog.Logger
}

// NewOneJob creates a single-reservation strategy
func NewOneJob(nodes int, oracle Predictor) (*OneJob, error) {
	if nodes < 0 {
		return nil, fmt.Errorf("%w: node count must not be negative, got %d", types.ErrConfiguration, nodes)
	}
	if nodes == 0 && oracle == nil {
		return nil, fmt.Errorf("%w: picking the node count requires a wait-time oracle", types.ErrConfiguration)
	}
	return &OneJob{Nodes: nodes, oracle: oracle, logger: log.WithComponent("clustering")}, nil
}

func (o *OneJob) Name() string {
	return fmt.Sprintf("one_job-%d", o.Nodes)
}

func (o *OneJob) Mode() Mode {
	return ModeLevelByLevel
}

func (o *OneJob) Decide(ctx context.Context, snap Snapshot) (*Decision, error) {
	start := snap.FirstUncoveredLevel()
	if start < 0 {
		return &Decision{}, nil
	}
	tasks := snap.Uncovered(start, snap.Workflow.NumLevels()-1)

	end, widest := start, 0
	perLevel := make(map[int]int)
	for _, t := range tasks {
		end = max(end, t.Level)
		perLevel[t.Level]++
		widest = max(widest, perLevel[t.Level])
	}

	nodes := o.Nodes
	switch {
	case nodes > snap.Hosts:
		o.logger.Warn().Int("requested", nodes).Int("hosts", snap.Hosts).Msg("Clamping job node count to host count")
		nodes = snap.Hosts
	case nodes == 0:
		var err error
		nodes, err = pickNodes(ctx, o.oracle, min(widest, snap.Hosts), func(n int) float64 {
			return makespan.Levels(tasks, n, snap.CoreFlopRate)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to size job for levels %d-%d: %w", start, end, err)
		}
	}

	o.logger.Debug().
		Int("start_level", start).
		Int("end_level", end).
		Int("tasks", len(tasks)).
		Int("nodes", nodes).
		Msg("Packed remaining workflow into one job")
	return &Decision{Jobs: []*types.ClusteredJob{{
		TaskIDs:    taskIDs(tasks),
		Nodes:      nodes,
		Runtime:    makespan.Levels(tasks, nodes, snap.CoreFlopRate) * RuntimeFudgeFactor,
		StartLevel: start,
		EndLevel:   end,
	}}}, nil
}

// OneJobPerTask never groups: it puts the controller in individual mode
// from the first decision, so each task gets its own single-node
// reservation once it is ready
type OneJobPerTask struct{}

func (OneJobPerTask) Name() string {
	return "one_job_per_task"
}

func (OneJobPerTask) Mode() Mode {
	return ModeLevelByLevel
}

func (OneJobPerTask) Decide(_ context.Context, snap Snapshot) (*Decision, error) {
	if snap.FirstUncoveredLevel() < 0 {
		return &Decision{}, nil
	}
	return &Decision{Individual: true}, nil
}
