package clustering

import (
	"context"

	"github.com/cuemby/pilot/pkg/log"
	"github.com/cuemby/pilot/pkg/makespan"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// Vertical clusters chains of single-parent single-child tasks. Starting
// from each uncovered task of the lowest open level, a chain follows the
// only child for as long as that child has no other parent. Each chain runs
// on one node.
type Vertical struct {
	logger zerolog.Logger
}

// NewVertical creates a vertical clustering strategy
func NewVertical() *Vertical {
	return &Vertical{logger: log.WithComponent("clustering")}
}

func (v *Vertical) Name() string {
	return "vc"
}

func (v *Vertical) Mode() Mode {
	return ModeLevelByLevel
}

func (v *Vertical) Decide(_ context.Context, snap Snapshot) (*Decision, error) {
	level := snap.FirstUncoveredLevel()
	if level < 0 {
		return &Decision{}, nil
	}

	parents := make(map[string]int)
	for _, t := range snap.Workflow.TasksInLevelRange(0, snap.Workflow.NumLevels()-1) {
		for _, c := range snap.Workflow.Children(t.ID) {
			parents[c.ID]++
		}
	}

	taken := make(map[string]bool)
	var jobs []*types.ClusteredJob
	for _, head := range snap.Uncovered(level, level) {
		chain := []types.Task{head}
		taken[head.ID] = true
		for cur := head; ; {
			kids := snap.Workflow.Children(cur.ID)
			if len(kids) != 1 {
				break
			}
			next := kids[0]
			if parents[next.ID] != 1 || next.State == types.TaskStateCompleted || snap.covered(next.ID) || taken[next.ID] {
				break
			}
			chain = append(chain, next)
			taken[next.ID] = true
			cur = next
		}

		jobs = append(jobs, &types.ClusteredJob{
			TaskIDs:    taskIDs(chain),
			Nodes:      1,
			Runtime:    makespan.Levels(chain, 1, snap.CoreFlopRate) * RuntimeFudgeFactor,
			StartLevel: level,
			EndLevel:   chain[len(chain)-1].Level,
		})
	}

	v.logger.Debug().Int("level", level).Int("chains", len(jobs)).Msg("Clustered task chains")
	return &Decision{Jobs: jobs}, nil
}
