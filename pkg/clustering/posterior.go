package clustering

import (
	"context"
	"slices"
	"strings"

	"github.com/cuemby/pilot/pkg/log"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// MergePolicy decides whether a parent cluster and its only child cluster
// may run as one job
type MergePolicy func(parent, child *types.ClusteredJob) bool

// SameNodeCount merges clusters that request the same number of nodes
func SameNodeCount(parent, child *types.ClusteredJob) bool {
	return parent.Nodes == child.Nodes
}

// PosteriorMerge partitions two consecutive levels with a horizontal
// strategy, then fuses every parent/child cluster pair whose only dependency
// edges run between the two of them
type PosteriorMerge struct {
	inner  levelPartitioner
	policy MergePolicy
	logger zerolog.Logger
}

// NewPosteriorMerge wraps inner, which is one of FixedSize, RuntimeBounded
// or Balanced. A nil policy defaults to SameNodeCount.
func NewPosteriorMerge(inner levelPartitioner, policy MergePolicy) *PosteriorMerge {
	if policy == nil {
		policy = SameNodeCount
	}
	return &PosteriorMerge{inner: inner, policy: policy, logger: log.WithComponent("clustering")}
}

func (p *PosteriorMerge) Name() string {
	family, params, _ := strings.Cut(p.inner.Name(), "-")
	return family + "-vposterior-" + params
}

func (p *PosteriorMerge) Mode() Mode {
	return ModeLevelByLevel
}

// Decide returns the merged clusters and the unmerged clusters of the lower
// level. Unmerged clusters of the upper level are left for the next decision.
func (p *PosteriorMerge) Decide(ctx context.Context, snap Snapshot) (*Decision, error) {
	level := snap.FirstUncoveredLevel()
	if level < 0 {
		return &Decision{}, nil
	}
	parents, err := p.inner.partition(ctx, snap, level)
	if err != nil {
		return nil, err
	}
	if level+1 >= snap.Workflow.NumLevels() {
		return &Decision{Jobs: parents}, nil
	}
	children, err := p.inner.partition(ctx, snap, level+1)
	if err != nil {
		return nil, err
	}

	owner := make(map[string]int)
	for i, c := range children {
		for _, id := range c.TaskIDs {
			owner[id] = i
		}
	}

	// parentsOf[i] lists the lower clusters with an edge into child cluster i
	parentsOf := make([][]int, len(children))
	childrenOf := make([][]int, len(parents))
	for pi, parent := range parents {
		for _, id := range parent.TaskIDs {
			for _, child := range snap.Workflow.Children(id) {
				ci, ok := owner[child.ID]
				if !ok {
					ci = -1
				}
				if !slices.Contains(childrenOf[pi], ci) {
					childrenOf[pi] = append(childrenOf[pi], ci)
				}
				if ci >= 0 && !slices.Contains(parentsOf[ci], pi) {
					parentsOf[ci] = append(parentsOf[ci], pi)
				}
			}
		}
	}

	var jobs []*types.ClusteredJob
	for pi, parent := range parents {
		cs := childrenOf[pi]
		if len(cs) != 1 || cs[0] < 0 || len(parentsOf[cs[0]]) != 1 || !p.policy(parent, children[cs[0]]) {
			jobs = append(jobs, parent)
			continue
		}
		child := children[cs[0]]
		if p.hasOutsideParents(snap, parent, child) {
			jobs = append(jobs, parent)
			continue
		}
		jobs = append(jobs, merge(parent, child))
		p.logger.Debug().
			Int("level", level).
			Int("tasks", len(parent.TaskIDs)+len(child.TaskIDs)).
			Msg("Merged single-parent single-child clusters")
	}
	return &Decision{Jobs: jobs}, nil
}

// hasOutsideParents reports whether a child-cluster task still waits on an
// incomplete task outside the parent cluster, e.g. one from an earlier level
func (p *PosteriorMerge) hasOutsideParents(snap Snapshot, parent, child *types.ClusteredJob) bool {
	inParent := make(map[string]bool, len(parent.TaskIDs))
	for _, id := range parent.TaskIDs {
		inParent[id] = true
	}
	for _, id := range child.TaskIDs {
		t, ok := snap.Workflow.Task(id)
		if !ok {
			return true
		}
		if t.State == types.TaskStateNotReady && !p.parentsWithin(snap, id, inParent, child.StartLevel-1) {
			return true
		}
	}
	return false
}

// parentsWithin reports whether every incomplete parent of id belongs to the
// given set. Parents are found by scanning levels up to maxLevel, since the
// provider only exposes child edges.
func (p *PosteriorMerge) parentsWithin(snap Snapshot, id string, set map[string]bool, maxLevel int) bool {
	for _, t := range snap.Workflow.TasksInLevelRange(0, maxLevel) {
		if t.State == types.TaskStateCompleted || set[t.ID] {
			continue
		}
		for _, c := range snap.Workflow.Children(t.ID) {
			if c.ID == id {
				return false
			}
		}
	}
	return true
}

func merge(parent, child *types.ClusteredJob) *types.ClusteredJob {
	ids := make([]string, 0, len(parent.TaskIDs)+len(child.TaskIDs))
	ids = append(ids, parent.TaskIDs...)
	ids = append(ids, child.TaskIDs...)
	return &types.ClusteredJob{
		TaskIDs:    ids,
		Nodes:      max(parent.Nodes, child.Nodes),
		Runtime:    parent.Runtime + child.Runtime,
		StartLevel: parent.StartLevel,
		EndLevel:   child.EndLevel,
	}
}
