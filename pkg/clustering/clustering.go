package clustering

import (
	"context"

	"github.com/cuemby/pilot/pkg/types"
	"github.com/cuemby/pilot/pkg/workflow"
)

// RuntimeFudgeFactor inflates estimated makespans when sizing reservations
const RuntimeFudgeFactor = 1.1

// Mode selects which concurrency gates the controller applies
type Mode int

const (
	// ModeLevelByLevel submits the placeholders of one level at a time
	ModeLevelByLevel Mode = iota
	// ModeRatioSearch submits one grouped placeholder at a time
	ModeRatioSearch
)

func (m Mode) String() string {
	switch m {
	case ModeLevelByLevel:
		return "level-by-level"
	case ModeRatioSearch:
		return "ratio-search"
	default:
		return "unknown"
	}
}

// Predictor answers wait-time queries
type Predictor interface {
	Predict(ctx context.Context, nodes int, runtime float64) (float64, error)
}

// Snapshot is the state a strategy decides on
type Snapshot struct {
	Workflow     workflow.Provider
	Hosts        int
	CoreFlopRate float64
	Now          float64

	// Covered reports whether a task belongs to an active placeholder
	Covered func(taskID string) bool

	// Running holds the granted placeholders
	Running []*types.PlaceholderJob
}

// Decision is the outcome of one strategy invocation
type Decision struct {
	Jobs []*types.ClusteredJob

	// Individual asks the controller to stop grouping for good
	Individual bool
}

// Empty reports whether the decision requests nothing
func (d *Decision) Empty() bool {
	return len(d.Jobs) == 0 && !d.Individual
}

// Strategy partitions incomplete tasks into clustered jobs
type Strategy interface {
	Name() string
	Mode() Mode
	Decide(ctx context.Context, snap Snapshot) (*Decision, error)
}

// OverlapPolicy is implemented by strategies whose spec fixes the overlap flag
type OverlapPolicy interface {
	Overlap() bool
}

func (s Snapshot) covered(id string) bool {
	return s.Covered != nil && s.Covered(id)
}

// Uncovered returns the incomplete tasks of levels lo..hi that no active
// placeholder holds, in provider order
func (s Snapshot) Uncovered(lo, hi int) []types.Task {
	var tasks []types.Task
	for _, t := range s.Workflow.TasksInLevelRange(lo, hi) {
		if t.State == types.TaskStateCompleted || s.covered(t.ID) {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// FirstUncoveredLevel returns the lowest level holding an uncovered task,
// or -1 when every incomplete task is already placed
func (s Snapshot) FirstUncoveredLevel() int {
	for l := 0; l < s.Workflow.NumLevels(); l++ {
		if len(s.Uncovered(l, l)) > 0 {
			return l
		}
	}
	return -1
}

func taskIDs(tasks []types.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
