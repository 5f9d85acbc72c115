package placeholder

import (
	"fmt"
	"testing"

	"github.com/cuemby/pilot/pkg/batch"
	"github.com/cuemby/pilot/pkg/events"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/cuemby/pilot/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reservationCall struct {
	ID       types.ReservationID
	Nodes    int
	Duration float64
	Args     map[string]string
}

type dispatchCall struct {
	TaskID      string
	Reservation types.ReservationID
}

// fakeJobs records every call and moves submitted tasks to pending
type fakeJobs struct {
	wf           *workflow.Workflow
	nextRes      int
	nextJob      int
	created      map[types.ReservationID]reservationCall
	reservations []reservationCall
	taskJobs     map[types.JobID]string
	dispatched   []dispatchCall
	terminated   []types.ReservationID
	defunct      map[types.ReservationID]bool
}

func newFakeJobs(wf *workflow.Workflow) *fakeJobs {
	return &fakeJobs{
		wf:       wf,
		created:  make(map[types.ReservationID]reservationCall),
		taskJobs: make(map[types.JobID]string),
		defunct:  make(map[types.ReservationID]bool),
	}
}

func (f *fakeJobs) CreateReservation(nodes, _ int, _, duration float64) (types.ReservationID, error) {
	f.nextRes++
	id := types.ReservationID(fmt.Sprintf("res_%d", f.nextRes))
	f.created[id] = reservationCall{ID: id, Nodes: nodes, Duration: duration}
	return id, nil
}

func (f *fakeJobs) SubmitReservation(id types.ReservationID, args map[string]string) error {
	call := f.created[id]
	call.Args = args
	f.reservations = append(f.reservations, call)
	return nil
}

func (f *fakeJobs) CreateTaskJob(taskID string) (types.JobID, error) {
	f.nextJob++
	id := types.JobID(fmt.Sprintf("job_%d", f.nextJob))
	f.taskJobs[id] = taskID
	return id, nil
}

func (f *fakeJobs) SubmitTaskJob(job types.JobID, target types.ReservationID) error {
	taskID := f.taskJobs[job]
	if err := f.wf.MarkSubmitted(taskID); err != nil {
		return err
	}
	f.dispatched = append(f.dispatched, dispatchCall{TaskID: taskID, Reservation: target})
	return nil
}

func (f *fakeJobs) Terminate(id types.ReservationID) error {
	f.terminated = append(f.terminated, id)
	if f.defunct[id] {
		return fmt.Errorf("%w: %s", types.ErrReservationDefunct, id)
	}
	return nil
}

func (f *fakeJobs) dispatchedTasks() []string {
	var ids []string
	for _, d := range f.dispatched {
		ids = append(ids, d.TaskID)
	}
	return ids
}

type fakeService struct {
	now float64
}

func (s *fakeService) CoreFlopRate() float64 { return 1 }
func (s *fakeService) NumHosts() int         { return 8 }
func (s *fakeService) Now() float64          { return s.now }
func (s *fakeService) EstimateStartTimes(jobs []batch.JobShape) (map[string]float64, error) {
	return map[string]float64{}, nil
}

type fixture struct {
	wf   *workflow.Workflow
	jobs *fakeJobs
	svc  *fakeService
	m    *Manager
}

func newFixture(t *testing.T, build func(wf *workflow.Workflow)) *fixture {
	t.Helper()
	wf := workflow.New()
	build(wf)
	f := &fixture{wf: wf, jobs: newFakeJobs(wf), svc: &fakeService{}}
	f.m = NewManager(wf, f.jobs, f.svc)
	return f
}

func (f *fixture) complete(t *testing.T, taskID string) {
	t.Helper()
	require.NoError(t, f.wf.MarkCompleted(taskID, f.svc.now))
	require.NoError(t, f.m.Handle(&events.Event{Type: events.EventTaskCompleted, TaskID: taskID}))
}

func independent(ids ...string) func(*workflow.Workflow) {
	return func(wf *workflow.Workflow) {
		for _, id := range ids {
			_ = wf.AddTask(id, 60)
		}
	}
}

func TestSubmitAndGrant(t *testing.T) {
	f := newFixture(t, independent("a", "b"))

	ph, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"a", "b"}, Nodes: 2, Runtime: 130})
	require.NoError(t, err)
	assert.Equal(t, types.PlaceholderPending, ph.State)
	assert.True(t, f.m.Covered("a"))
	assert.Len(t, f.m.Pending(), 1)
	assert.Empty(t, f.m.Running())

	require.Len(t, f.jobs.reservations, 1)
	assert.Equal(t, map[string]string{"-N": "2", "-c": "1", "-t": "3"}, f.jobs.reservations[0].Args)
	assert.InDelta(t, 130.0, f.jobs.reservations[0].Duration, 1e-9)

	f.svc.now = 40
	require.NoError(t, f.m.HandleReservationGranted(ph.Reservation))
	assert.Equal(t, types.PlaceholderRunning, ph.State)
	assert.InDelta(t, 40.0, ph.GrantedAt, 1e-9)
	assert.Equal(t, []string{"a", "b"}, f.jobs.dispatchedTasks())
	assert.Len(t, f.m.Running(), 1)

	assert.ErrorIs(t, f.m.HandleReservationGranted(ph.Reservation), types.ErrInvariantViolation)
}

func TestCompletionReleasesReservation(t *testing.T) {
	f := newFixture(t, independent("a", "b"))
	ph, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"a", "b"}, Nodes: 2, Runtime: 100})
	require.NoError(t, err)
	require.NoError(t, f.m.HandleReservationGranted(ph.Reservation))

	f.complete(t, "a")
	assert.Equal(t, 1, ph.Completed)
	assert.Empty(t, f.jobs.terminated)

	f.complete(t, "b")
	assert.Equal(t, []types.ReservationID{ph.Reservation}, f.jobs.terminated)
	assert.Equal(t, types.PlaceholderCompleted, ph.State)
	assert.Empty(t, f.m.Active())
	assert.False(t, f.m.Covered("a"))
	require.Len(t, f.m.History(), 1)
	assert.Equal(t, 1, f.m.Stats().Completed)

	// the lapsed lease of a released reservation is not an error
	require.NoError(t, f.m.HandleReservationExpired(ph.Reservation))
	assert.Len(t, f.m.History(), 1)
}

func TestReleaseRaceIsSwallowed(t *testing.T) {
	f := newFixture(t, independent("a"))
	ph, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"a"}, Nodes: 1, Runtime: 10})
	require.NoError(t, err)
	require.NoError(t, f.m.HandleReservationGranted(ph.Reservation))

	f.jobs.defunct[ph.Reservation] = true
	f.complete(t, "a")
	assert.Equal(t, types.PlaceholderCompleted, ph.State)
}

func TestCompletionSubmitsChildrenAcrossPlaceholders(t *testing.T) {
	f := newFixture(t, func(wf *workflow.Workflow) {
		_ = wf.AddTask("a", 10)
		_ = wf.AddTask("b", 10)
		_ = wf.AddDependency("a", "b")
	})
	parent, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"a"}, Nodes: 1, Runtime: 10, StartLevel: 0, EndLevel: 0})
	require.NoError(t, err)
	child, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"b"}, Nodes: 1, Runtime: 10, StartLevel: 1, EndLevel: 1})
	require.NoError(t, err)

	require.NoError(t, f.m.HandleReservationGranted(parent.Reservation))
	require.NoError(t, f.m.HandleReservationGranted(child.Reservation))
	assert.Equal(t, []string{"a"}, f.jobs.dispatchedTasks())

	f.complete(t, "a")
	require.Len(t, f.jobs.dispatched, 2)
	assert.Equal(t, dispatchCall{TaskID: "b", Reservation: child.Reservation}, f.jobs.dispatched[1])
}

func TestExpiryRestartsIncompleteMembers(t *testing.T) {
	tests := []struct {
		name          string
		nodes         int
		expectedNodes int
	}{
		{name: "shrinks to remaining tasks", nodes: 5, expectedNodes: 3},
		{name: "keeps smaller node count", nodes: 2, expectedNodes: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, independent("t1", "t2", "t3", "t4", "t5"))
			ph, err := f.m.Submit(&types.ClusteredJob{
				TaskIDs: []string{"t1", "t2", "t3", "t4", "t5"},
				Nodes:   tt.nodes,
				Runtime: 100,
			})
			require.NoError(t, err)
			require.NoError(t, f.m.HandleReservationGranted(ph.Reservation))
			f.complete(t, "t2")
			f.complete(t, "t4")

			f.svc.now = 100
			require.NoError(t, f.m.HandleReservationExpired(ph.Reservation))

			assert.Equal(t, types.PlaceholderExpired, ph.State)
			assert.Empty(t, f.m.Running())
			_, ok := f.m.Get(ph.ID)
			assert.False(t, ok)

			pending := f.m.Pending()
			require.Len(t, pending, 1)
			replacement := pending[0]
			assert.Equal(t, []string{"t1", "t3", "t5"}, replacement.Job.TaskIDs)
			assert.Equal(t, tt.expectedNodes, replacement.Job.Nodes)
			assert.Equal(t, ph.ID, replacement.Supersedes)
			assert.Equal(t, 1, f.m.Stats().Restarted)
			for _, id := range replacement.Job.TaskIDs {
				assert.True(t, f.m.Covered(id))
			}
		})
	}
}

func TestExpiryCancelsPendingAndStalledPlaceholders(t *testing.T) {
	f := newFixture(t, func(wf *workflow.Workflow) {
		_ = wf.AddTask("a", 10)
		_ = wf.AddTask("b", 10)
		_ = wf.AddTask("c", 10)
		_ = wf.AddTask("d", 10)
		_ = wf.AddDependency("a", "b")
		_ = wf.AddDependency("a", "c")
	})
	first, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"a"}, Nodes: 1, Runtime: 5})
	require.NoError(t, err)
	stalled, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"b"}, Nodes: 1, Runtime: 10, StartLevel: 1, EndLevel: 1})
	require.NoError(t, err)
	busy, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"d"}, Nodes: 1, Runtime: 10})
	require.NoError(t, err)
	queued, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"c"}, Nodes: 1, Runtime: 10, StartLevel: 1, EndLevel: 1})
	require.NoError(t, err)

	require.NoError(t, f.m.HandleReservationGranted(first.Reservation))
	require.NoError(t, f.m.HandleReservationGranted(stalled.Reservation))
	require.NoError(t, f.m.HandleReservationGranted(busy.Reservation))
	require.NoError(t, f.wf.MarkFailed("a"))

	require.NoError(t, f.m.HandleReservationExpired(first.Reservation))

	assert.ElementsMatch(t, []types.ReservationID{stalled.Reservation, queued.Reservation}, f.jobs.terminated)
	assert.Equal(t, types.PlaceholderCancelled, stalled.State)
	assert.Equal(t, types.PlaceholderCancelled, queued.State)
	assert.Equal(t, types.PlaceholderRunning, busy.State)
	assert.Equal(t, 2, f.m.Stats().Cancelled)

	pending := f.m.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"a"}, pending[0].Job.TaskIDs)
	assert.False(t, f.m.Covered("b"))
	assert.False(t, f.m.Covered("c"))

	// a grant that raced with the cancellation is ignored
	assert.NoError(t, f.m.HandleReservationGranted(queued.Reservation))
}

func TestInvariantViolations(t *testing.T) {
	f := newFixture(t, independent("a", "b"))
	ph, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"a"}, Nodes: 1, Runtime: 10})
	require.NoError(t, err)

	tests := []struct {
		name string
		err  error
	}{
		{name: "task already placed", err: func() error {
			_, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"b", "a"}, Nodes: 1, Runtime: 10})
			return err
		}()},
		{name: "empty job", err: func() error {
			_, err := f.m.Submit(&types.ClusteredJob{Nodes: 1, Runtime: 10})
			return err
		}()},
		{name: "grant for unknown reservation", err: f.m.HandleReservationGranted("res_99")},
		{name: "expiry of pending placeholder", err: f.m.HandleReservationExpired(ph.Reservation)},
		{name: "completion without running placeholder", err: f.m.HandleTaskCompleted("a")},
		{name: "completion of unplaced task", err: f.m.HandleTaskCompleted("b")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, types.ErrInvariantViolation)
		})
	}
	assert.False(t, f.m.Covered("b"))
}

func TestOngoingLevels(t *testing.T) {
	f := newFixture(t, independent("a", "b", "c", "d"))
	p0, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"a"}, Nodes: 1, Runtime: 10, StartLevel: 0, EndLevel: 0})
	require.NoError(t, err)
	_, err = f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"b"}, Nodes: 1, Runtime: 10, StartLevel: 0, EndLevel: 0})
	require.NoError(t, err)
	done, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"c"}, Nodes: 1, Runtime: 10, StartLevel: 0, EndLevel: 0})
	require.NoError(t, err)
	_, err = f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"d"}, Nodes: 1, Runtime: 10, StartLevel: 2, EndLevel: 2})
	require.NoError(t, err)

	require.NoError(t, f.m.HandleReservationGranted(p0.Reservation))
	require.NoError(t, f.m.HandleReservationGranted(done.Reservation))
	f.complete(t, "c")

	levels := f.m.OngoingLevels()
	require.Len(t, levels, 2)
	assert.Equal(t, 0, levels[0].Level)
	assert.Len(t, levels[0].Pending, 1)
	assert.Equal(t, []types.PlaceholderID{p0.ID}, levels[0].Running)
	assert.Equal(t, []types.PlaceholderID{done.ID}, levels[0].Completed)
	assert.Equal(t, 2, levels[1].Level)
	assert.Len(t, levels[1].Pending, 1)
}

func TestTaskFailedIsIgnored(t *testing.T) {
	f := newFixture(t, independent("a"))
	ph, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"a"}, Nodes: 1, Runtime: 10})
	require.NoError(t, err)
	require.NoError(t, f.m.HandleReservationGranted(ph.Reservation))

	require.NoError(t, f.m.Handle(&events.Event{Type: events.EventTaskFailed, TaskID: "a"}))
	assert.Equal(t, types.PlaceholderRunning, ph.State)
	assert.Equal(t, 0, ph.Completed)
	assert.Error(t, f.m.Handle(&events.Event{Type: "bogus"}))
}

func TestExpiryRestartsMembersWaitingOnOtherPlaceholders(t *testing.T) {
	f := newFixture(t, func(wf *workflow.Workflow) {
		_ = wf.AddTask("a", 10)
		_ = wf.AddTask("x", 10)
		_ = wf.AddTask("c", 10)
		_ = wf.AddTask("q", 10)
		_ = wf.AddDependency("x", "c")
	})
	group, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"a", "c"}, Nodes: 2, Runtime: 10, EndLevel: 1})
	require.NoError(t, err)
	holder, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"x"}, Nodes: 1, Runtime: 10})
	require.NoError(t, err)
	queued, err := f.m.Submit(&types.ClusteredJob{TaskIDs: []string{"q"}, Nodes: 1, Runtime: 10})
	require.NoError(t, err)
	require.NoError(t, f.m.HandleReservationGranted(group.Reservation))
	require.NoError(t, f.m.HandleReservationGranted(holder.Reservation))
	f.complete(t, "a")

	f.svc.now = 10
	require.NoError(t, f.m.HandleReservationExpired(group.Reservation))

	assert.Equal(t, types.PlaceholderExpired, group.State)
	assert.Equal(t, types.PlaceholderRunning, holder.State)
	assert.Equal(t, types.PlaceholderCancelled, queued.State)
	assert.Equal(t, []types.ReservationID{queued.Reservation}, f.jobs.terminated)
	assert.Equal(t, 1, f.m.Stats().Restarted)

	pending := f.m.Pending()
	require.Len(t, pending, 1)
	replacement := pending[0]
	assert.Equal(t, []string{"c"}, replacement.Job.TaskIDs)
	assert.Equal(t, 1, replacement.Job.Nodes)
	assert.Equal(t, group.ID, replacement.Supersedes)
	assert.True(t, f.m.Covered("c"))
	assert.False(t, f.m.Covered("q"))
}
