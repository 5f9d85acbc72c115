package workflow

import (
	"fmt"

	"github.com/cuemby/pilot/pkg/types"
)

// Provider is the read-only view of a workflow consumed by the clustering
// strategies, the lifecycle manager and the controller
type Provider interface {
	TasksInLevelRange(lo, hi int) []types.Task
	NumLevels() int
	IsDone() bool
	Children(taskID string) []types.Task
	Task(taskID string) (types.Task, bool)
}

type task struct {
	id       string
	flops    float64
	state    types.TaskState
	parents  []string
	children []string
	level    int
}

// Workflow is an in-memory DAG of tasks organized in topological levels
type Workflow struct {
	tasks  map[string]*task
	order  []string
	levels [][]string
	dirty  bool

	completed      int
	completionTime float64
}

// New creates an empty workflow
func New() *Workflow {
	return &Workflow{
		tasks: make(map[string]*task),
	}
}

// AddTask adds a task with the given processing cost
func (w *Workflow) AddTask(id string, flops float64) error {
	if id == "" {
		return fmt.Errorf("task id is required")
	}
	if flops < 0 {
		return fmt.Errorf("task %s has negative flops %f", id, flops)
	}
	if _, exists := w.tasks[id]; exists {
		return fmt.Errorf("duplicate task id: %s", id)
	}
	w.tasks[id] = &task{id: id, flops: flops, state: types.TaskStateReady}
	w.order = append(w.order, id)
	w.dirty = true
	return nil
}

// AddDependency makes child depend on parent
func (w *Workflow) AddDependency(parentID, childID string) error {
	parent, ok := w.tasks[parentID]
	if !ok {
		return fmt.Errorf("unknown parent task: %s", parentID)
	}
	child, ok := w.tasks[childID]
	if !ok {
		return fmt.Errorf("unknown child task: %s", childID)
	}
	if parentID == childID {
		return fmt.Errorf("task %s cannot depend on itself", parentID)
	}
	for _, c := range parent.children {
		if c == childID {
			return nil
		}
	}
	if w.reachable(childID, parentID) {
		return fmt.Errorf("dependency %s -> %s creates a cycle", parentID, childID)
	}
	parent.children = append(parent.children, childID)
	child.parents = append(child.parents, parentID)
	if parent.state != types.TaskStateCompleted {
		child.state = types.TaskStateNotReady
	}
	w.dirty = true
	return nil
}

// reachable reports whether to can be reached from from following child edges
func (w *Workflow) reachable(from, to string) bool {
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, w.tasks[id].children...)
	}
	return false
}

// computeLevels assigns each task its top level: 0 for roots, otherwise one
// more than the deepest parent
func (w *Workflow) computeLevels() {
	if !w.dirty {
		return
	}
	pending := make(map[string]int, len(w.tasks))
	var queue []string
	for _, id := range w.order {
		t := w.tasks[id]
		pending[id] = len(t.parents)
		t.level = 0
		if len(t.parents) == 0 {
			queue = append(queue, id)
		}
	}
	numLevels := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		t := w.tasks[id]
		if t.level+1 > numLevels {
			numLevels = t.level + 1
		}
		for _, cid := range t.children {
			c := w.tasks[cid]
			if t.level+1 > c.level {
				c.level = t.level + 1
			}
			pending[cid]--
			if pending[cid] == 0 {
				queue = append(queue, cid)
			}
		}
	}

	w.levels = make([][]string, numLevels)
	for _, id := range w.order {
		l := w.tasks[id].level
		w.levels[l] = append(w.levels[l], id)
	}
	w.dirty = false
}

func (t *task) view() types.Task {
	return types.Task{ID: t.id, Flops: t.flops, State: t.state, Level: t.level}
}

// TasksInLevelRange returns the tasks of levels lo..hi inclusive, in level
// order then insertion order
func (w *Workflow) TasksInLevelRange(lo, hi int) []types.Task {
	w.computeLevels()
	if lo < 0 {
		lo = 0
	}
	if hi >= len(w.levels) {
		hi = len(w.levels) - 1
	}
	var tasks []types.Task
	for l := lo; l <= hi; l++ {
		for _, id := range w.levels[l] {
			tasks = append(tasks, w.tasks[id].view())
		}
	}
	return tasks
}

// NumLevels returns the number of topological levels
func (w *Workflow) NumLevels() int {
	w.computeLevels()
	return len(w.levels)
}

// NumTasks returns the number of tasks
func (w *Workflow) NumTasks() int {
	return len(w.tasks)
}

// IsDone reports whether every task has completed
func (w *Workflow) IsDone() bool {
	return w.completed == len(w.tasks)
}

// CompletionTime returns the time at which the last task completed
func (w *Workflow) CompletionTime() float64 {
	return w.completionTime
}

// Task returns a snapshot of the task
func (w *Workflow) Task(taskID string) (types.Task, bool) {
	w.computeLevels()
	t, ok := w.tasks[taskID]
	if !ok {
		return types.Task{}, false
	}
	return t.view(), true
}

// Children returns the direct children of the task
func (w *Workflow) Children(taskID string) []types.Task {
	w.computeLevels()
	t, ok := w.tasks[taskID]
	if !ok {
		return nil
	}
	children := make([]types.Task, 0, len(t.children))
	for _, cid := range t.children {
		children = append(children, w.tasks[cid].view())
	}
	return children
}

// Parents returns the direct parents of the task
func (w *Workflow) Parents(taskID string) []types.Task {
	w.computeLevels()
	t, ok := w.tasks[taskID]
	if !ok {
		return nil
	}
	parents := make([]types.Task, 0, len(t.parents))
	for _, pid := range t.parents {
		parents = append(parents, w.tasks[pid].view())
	}
	return parents
}

// MarkSubmitted records that a ready task was handed to a job
func (w *Workflow) MarkSubmitted(taskID string) error {
	return w.transition(taskID, types.TaskStateReady, types.TaskStatePending)
}

// MarkFailed returns a submitted task to the ready state
func (w *Workflow) MarkFailed(taskID string) error {
	return w.transition(taskID, types.TaskStatePending, types.TaskStateReady)
}

// MarkCompleted completes a submitted task at the given time and readies any
// child whose parents are now all complete
func (w *Workflow) MarkCompleted(taskID string, at float64) error {
	if err := w.transition(taskID, types.TaskStatePending, types.TaskStateCompleted); err != nil {
		return err
	}
	w.completed++
	if at > w.completionTime {
		w.completionTime = at
	}
	for _, cid := range w.tasks[taskID].children {
		c := w.tasks[cid]
		if c.state != types.TaskStateNotReady {
			continue
		}
		ready := true
		for _, pid := range c.parents {
			if w.tasks[pid].state != types.TaskStateCompleted {
				ready = false
				break
			}
		}
		if ready {
			c.state = types.TaskStateReady
		}
	}
	return nil
}

func (w *Workflow) transition(taskID string, from, to types.TaskState) error {
	t, ok := w.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task: %s", taskID)
	}
	if t.state != from {
		return fmt.Errorf("invalid transition for %s: expected %s, got %s", taskID, from, t.state)
	}
	t.state = to
	return nil
}
