package placeholder

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/cuemby/pilot/pkg/batch"
	"github.com/cuemby/pilot/pkg/clustering"
	"github.com/cuemby/pilot/pkg/events"
	"github.com/cuemby/pilot/pkg/log"
	"github.com/cuemby/pilot/pkg/makespan"
	"github.com/cuemby/pilot/pkg/metrics"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/cuemby/pilot/pkg/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reservation kinds, used as metric labels
const (
	KindGroup      = "group"
	KindIndividual = "individual"
	KindRestart    = "restart"
)

// Stats counts reservations over the manager's lifetime
type Stats struct {
	Submitted int
	Restarted int
	Cancelled int
	Completed int
}

// Manager binds clustered jobs to reservations and drives each placeholder
// through PENDING, RUNNING and a terminal state as lifecycle events arrive.
// It is not safe for concurrent use.
type Manager struct {
	workflow workflow.Provider
	jobs     batch.JobManager
	service  batch.Service

	arena    map[types.PlaceholderID]*types.PlaceholderJob
	order    []types.PlaceholderID
	byRes    map[types.ReservationID]types.PlaceholderID
	covered  map[string]types.PlaceholderID
	released map[types.ReservationID]*types.PlaceholderJob
	history  []*types.PlaceholderJob

	stats  Stats
	logger zerolog.Logger
}

// NewManager creates a manager that submits through jobs and reads the
// clock and core speed from svc
func NewManager(wf workflow.Provider, jobs batch.JobManager, svc batch.Service) *Manager {
	return &Manager{
		workflow: wf,
		jobs:     jobs,
		service:  svc,
		arena:    make(map[types.PlaceholderID]*types.PlaceholderJob),
		byRes:    make(map[types.ReservationID]types.PlaceholderID),
		covered:  make(map[string]types.PlaceholderID),
		released: make(map[types.ReservationID]*types.PlaceholderJob),
		logger:   log.WithComponent("placeholder"),
	}
}

// Submit creates a PENDING placeholder for job and submits its reservation
func (m *Manager) Submit(job *types.ClusteredJob) (*types.PlaceholderJob, error) {
	kind := KindGroup
	if job.Individual {
		kind = KindIndividual
	}
	return m.submit(job, kind, "")
}

func (m *Manager) submit(job *types.ClusteredJob, kind string, supersedes types.PlaceholderID) (*types.PlaceholderJob, error) {
	if job.NumTasks() == 0 {
		return nil, fmt.Errorf("%w: clustered job for levels %d-%d has no tasks", types.ErrInvariantViolation, job.StartLevel, job.EndLevel)
	}
	for _, id := range job.TaskIDs {
		if owner, ok := m.covered[id]; ok {
			return nil, fmt.Errorf("%w: task %s already belongs to active placeholder %s", types.ErrInvariantViolation, id, owner)
		}
	}

	res, err := m.jobs.CreateReservation(job.Nodes, 1, 0, job.Runtime)
	if err != nil {
		return nil, fmt.Errorf("failed to create reservation for levels %d-%d: %w", job.StartLevel, job.EndLevel, err)
	}
	args := map[string]string{
		"-N": strconv.Itoa(job.Nodes),
		"-c": "1",
		"-t": strconv.Itoa(1 + int(job.Runtime)/60),
	}
	if err := m.jobs.SubmitReservation(res, args); err != nil {
		return nil, fmt.Errorf("failed to submit reservation %s: %w", res, err)
	}

	ph := &types.PlaceholderJob{
		ID:          types.PlaceholderID(uuid.New().String()),
		Job:         job,
		Reservation: res,
		State:       types.PlaceholderPending,
		SubmittedAt: m.service.Now(),
		Supersedes:  supersedes,
	}
	m.arena[ph.ID] = ph
	m.order = append(m.order, ph.ID)
	m.byRes[res] = ph.ID
	for _, id := range job.TaskIDs {
		m.covered[id] = ph.ID
	}

	m.stats.Submitted++
	metrics.ReservationsSubmitted.WithLabelValues(kind).Inc()
	metrics.PlaceholderTransitions.WithLabelValues(string(types.PlaceholderPending)).Inc()

	logger := log.WithPlaceholder(string(ph.ID), string(res))
	logger.Info().
		Str("kind", kind).
		Int("tasks", job.NumTasks()).
		Str("nodes", args["-N"]).
		Str("minutes", args["-t"]).
		Int("start_level", job.StartLevel).
		Int("end_level", job.EndLevel).
		Msg("Submitted placeholder")
	return ph, nil
}

// Handle dispatches one lifecycle event
func (m *Manager) Handle(e *events.Event) error {
	switch e.Type {
	case events.EventReservationGranted:
		return m.HandleReservationGranted(e.Reservation)
	case events.EventReservationExpired:
		return m.HandleReservationExpired(e.Reservation)
	case events.EventTaskCompleted:
		return m.HandleTaskCompleted(e.TaskID)
	case events.EventTaskFailed:
		m.HandleTaskFailed(e.TaskID)
		return nil
	default:
		return fmt.Errorf("unknown event type: %s", e.Type)
	}
}

// lookup returns the active placeholder bound to res. A nil placeholder with
// a nil error means the reservation was already released by this manager.
func (m *Manager) lookup(res types.ReservationID, event string) (*types.PlaceholderJob, error) {
	if id, ok := m.byRes[res]; ok {
		return m.arena[id], nil
	}
	if ph, ok := m.released[res]; ok {
		m.logger.Debug().
			Str("reservation", string(res)).
			Str("placeholder", string(ph.ID)).
			Str("state", string(ph.State)).
			Str("event", event).
			Msg("Ignoring event for released reservation")
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s for unknown reservation %s", types.ErrInvariantViolation, event, res)
}

// HandleReservationGranted moves the placeholder to RUNNING and submits its
// ready members
func (m *Manager) HandleReservationGranted(res types.ReservationID) error {
	ph, err := m.lookup(res, "grant")
	if err != nil || ph == nil {
		return err
	}
	if ph.State != types.PlaceholderPending {
		return fmt.Errorf("%w: grant for reservation %s whose placeholder is %s", types.ErrInvariantViolation, res, ph.State)
	}

	ph.State = types.PlaceholderRunning
	ph.GrantedAt = m.service.Now()
	metrics.PlaceholderTransitions.WithLabelValues(string(types.PlaceholderRunning)).Inc()

	logger := log.WithPlaceholder(string(ph.ID), string(res))
	logger.Info().Float64("waited", ph.GrantedAt-ph.SubmittedAt).Msg("Reservation granted")

	for _, id := range ph.Job.TaskIDs {
		t, ok := m.workflow.Task(id)
		if !ok || t.State != types.TaskStateReady {
			continue
		}
		if err := m.dispatch(ph, id); err != nil {
			return err
		}
	}
	return nil
}

// HandleTaskCompleted counts the completion against the owning placeholder,
// releases the reservation once every member is done and submits children
// that just became ready, wherever they are placed
func (m *Manager) HandleTaskCompleted(taskID string) error {
	id, ok := m.covered[taskID]
	ph := m.arena[id]
	if !ok || ph.State != types.PlaceholderRunning {
		return fmt.Errorf("%w: completion of task %s with no running placeholder", types.ErrInvariantViolation, taskID)
	}

	ph.Completed++
	metrics.TasksCompleted.Inc()
	if ph.Completed > ph.Job.NumTasks() {
		return fmt.Errorf("%w: placeholder %s completed %d of %d tasks", types.ErrInvariantViolation, ph.ID, ph.Completed, ph.Job.NumTasks())
	}
	if ph.Completed == ph.Job.NumTasks() {
		if err := m.terminate(ph); err != nil {
			return err
		}
		ph.FinishedAt = m.service.Now()
		m.retire(ph, types.PlaceholderCompleted)
		m.stats.Completed++
		logger := log.WithPlaceholder(string(ph.ID), string(ph.Reservation))
		logger.Info().Int("tasks", ph.Completed).Msg("Placeholder completed")
	}

	for _, child := range m.workflow.Children(taskID) {
		if child.State != types.TaskStateReady {
			continue
		}
		owner, ok := m.covered[child.ID]
		if !ok || m.arena[owner].State != types.PlaceholderRunning {
			continue
		}
		if err := m.dispatch(m.arena[owner], child.ID); err != nil {
			return err
		}
	}
	return nil
}

// HandleTaskFailed only logs. Recovery happens when the reservation expires.
func (m *Manager) HandleTaskFailed(taskID string) {
	metrics.TasksFailed.Inc()
	logger := log.WithTaskID(taskID)
	logger.Warn().Msg("Task job failed, leaving recovery to reservation expiry")
}

// HandleReservationExpired restarts the incomplete members of an expired
// placeholder in a replacement, after cancelling every pending placeholder
// and every running one that has not made progress.
func (m *Manager) HandleReservationExpired(res types.ReservationID) error {
	ph, err := m.lookup(res, "expiry")
	if err != nil || ph == nil {
		return err
	}
	if ph.State != types.PlaceholderRunning {
		return fmt.Errorf("%w: expiry for reservation %s whose placeholder is %s", types.ErrInvariantViolation, res, ph.State)
	}
	ph.FinishedAt = m.service.Now()
	logger := log.WithPlaceholder(string(ph.ID), string(res))

	var incomplete []types.Task
	for _, id := range ph.Job.TaskIDs {
		t, ok := m.workflow.Task(id)
		if !ok {
			return fmt.Errorf("%w: placeholder %s holds unknown task %s", types.ErrInvariantViolation, ph.ID, id)
		}
		if t.State != types.TaskStateCompleted {
			incomplete = append(incomplete, t)
		}
	}
	if len(incomplete) == 0 {
		logger.Info().Msg("Reservation expired with every task done")
		m.retire(ph, types.PlaceholderCompleted)
		m.stats.Completed++
		return nil
	}

	logger.Warn().
		Int("incomplete", len(incomplete)).
		Int("tasks", ph.Job.NumTasks()).
		Msg("Reservation expired with unfinished tasks, restarting")
	m.retire(ph, types.PlaceholderExpired)

	if err := m.cancelStalled(); err != nil {
		return err
	}

	nodes := min(ph.Job.Nodes, len(incomplete))
	replacement := &types.ClusteredJob{
		TaskIDs:    idsOf(incomplete),
		Nodes:      nodes,
		Runtime:    makespan.Levels(incomplete, nodes, m.service.CoreFlopRate()) * clustering.RuntimeFudgeFactor,
		StartLevel: ph.Job.StartLevel,
		EndLevel:   ph.Job.EndLevel,
		Individual: ph.Job.Individual,
	}
	if _, err := m.submit(replacement, KindRestart, ph.ID); err != nil {
		return err
	}
	m.stats.Restarted++
	return nil
}

// cancelStalled terminates every pending placeholder and every running one
// whose members are all still waiting on their parents
func (m *Manager) cancelStalled() error {
	for _, ph := range m.Active() {
		switch ph.State {
		case types.PlaceholderPending:
		case types.PlaceholderRunning:
			if !m.allNotReady(ph) {
				continue
			}
		default:
			continue
		}
		if err := m.terminate(ph); err != nil {
			return err
		}
		ph.FinishedAt = m.service.Now()
		logger := log.WithPlaceholder(string(ph.ID), string(ph.Reservation))
		logger.Info().Str("was", string(ph.State)).Msg("Cancelling placeholder")
		m.retire(ph, types.PlaceholderCancelled)
		m.stats.Cancelled++
		metrics.ReservationsCancelled.Inc()
	}
	return nil
}

func (m *Manager) allNotReady(ph *types.PlaceholderJob) bool {
	for _, id := range ph.Job.TaskIDs {
		if t, ok := m.workflow.Task(id); !ok || t.State != types.TaskStateNotReady {
			return false
		}
	}
	return true
}

// terminate releases the reservation. A reservation that is already gone
// has raced with its own expiry, which is not an error.
func (m *Manager) terminate(ph *types.PlaceholderJob) error {
	err := m.jobs.Terminate(ph.Reservation)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrReservationDefunct):
		m.logger.Debug().Str("reservation", string(ph.Reservation)).Msg("Reservation already gone")
		return nil
	default:
		return fmt.Errorf("failed to terminate reservation %s: %w", ph.Reservation, err)
	}
}

// retire moves a placeholder out of the arena into history
func (m *Manager) retire(ph *types.PlaceholderJob, state types.PlaceholderState) {
	ph.State = state
	delete(m.arena, ph.ID)
	delete(m.byRes, ph.Reservation)
	m.order = slices.DeleteFunc(m.order, func(id types.PlaceholderID) bool { return id == ph.ID })
	for _, id := range ph.Job.TaskIDs {
		if m.covered[id] == ph.ID {
			delete(m.covered, id)
		}
	}
	m.released[ph.Reservation] = ph
	m.history = append(m.history, ph)
	metrics.PlaceholderTransitions.WithLabelValues(string(state)).Inc()
}

func (m *Manager) dispatch(ph *types.PlaceholderJob, taskID string) error {
	job, err := m.jobs.CreateTaskJob(taskID)
	if err != nil {
		return fmt.Errorf("failed to create job for task %s: %w", taskID, err)
	}
	if err := m.jobs.SubmitTaskJob(job, ph.Reservation); err != nil {
		return fmt.Errorf("failed to submit task %s to reservation %s: %w", taskID, ph.Reservation, err)
	}
	metrics.TasksDispatched.Inc()
	m.logger.Debug().
		Str("task", taskID).
		Str("job", string(job)).
		Str("reservation", string(ph.Reservation)).
		Msg("Submitted task job")
	return nil
}

// Active returns the PENDING and RUNNING placeholders in submission order
func (m *Manager) Active() []*types.PlaceholderJob {
	out := make([]*types.PlaceholderJob, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.arena[id])
	}
	return out
}

func (m *Manager) inState(state types.PlaceholderState) []*types.PlaceholderJob {
	var out []*types.PlaceholderJob
	for _, id := range m.order {
		if ph := m.arena[id]; ph.State == state {
			out = append(out, ph)
		}
	}
	return out
}

// Pending returns the placeholders waiting for their reservation
func (m *Manager) Pending() []*types.PlaceholderJob {
	return m.inState(types.PlaceholderPending)
}

// Running returns the placeholders whose reservation was granted
func (m *Manager) Running() []*types.PlaceholderJob {
	return m.inState(types.PlaceholderRunning)
}

// OngoingLevels groups active placeholders by the level they start at.
// Levels without an active placeholder are not ongoing.
func (m *Manager) OngoingLevels() []types.OngoingLevel {
	byLevel := make(map[int]*types.OngoingLevel)
	var levels []int
	for _, ph := range m.Active() {
		l := ph.Job.StartLevel
		ol, ok := byLevel[l]
		if !ok {
			ol = &types.OngoingLevel{Level: l}
			byLevel[l] = ol
			levels = append(levels, l)
		}
		if ph.State == types.PlaceholderPending {
			ol.Pending = append(ol.Pending, ph.ID)
		} else {
			ol.Running = append(ol.Running, ph.ID)
		}
	}
	for _, ph := range m.history {
		if ol, ok := byLevel[ph.Job.StartLevel]; ok && ph.State == types.PlaceholderCompleted {
			ol.Completed = append(ol.Completed, ph.ID)
		}
	}

	slices.Sort(levels)
	out := make([]types.OngoingLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, *byLevel[l])
	}
	return out
}

// Covered reports whether the task belongs to an active placeholder
func (m *Manager) Covered(taskID string) bool {
	_, ok := m.covered[taskID]
	return ok
}

// Get returns an active placeholder by id
func (m *Manager) Get(id types.PlaceholderID) (*types.PlaceholderJob, bool) {
	ph, ok := m.arena[id]
	return ph, ok
}

// History returns placeholders that reached a terminal state, oldest first
func (m *Manager) History() []*types.PlaceholderJob {
	return m.history
}

// Stats returns the reservation counters
func (m *Manager) Stats() Stats {
	return m.stats
}

func idsOf(tasks []types.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
