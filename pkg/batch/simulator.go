package batch

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/addrummond/heap"
	"github.com/cuemby/pilot/pkg/events"
	"github.com/cuemby/pilot/pkg/log"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/gammazero/deque"
)

// BackgroundJob is a competing batch job submitted by another user
type BackgroundJob struct {
	Submit   float64 `yaml:"submit"`
	Nodes    int     `yaml:"nodes"`
	Duration float64 `yaml:"duration"`
}

// SimulatorConfig describes the simulated cluster
type SimulatorConfig struct {
	Hosts        int
	CoreFlopRate float64
	Background   []BackgroundJob
}

type reservationState int

const (
	reservationCreated reservationState = iota
	reservationDelayed
	reservationQueued
	reservationRunning
	reservationDone
)

type reservation struct {
	id         types.ReservationID
	nodes      int
	delay      float64
	duration   float64
	background bool
	state      reservationState
	startedAt  float64

	waiting deque.Deque[*taskJob]
	running []*taskJob
}

type taskJob struct {
	id        types.JobID
	taskID    string
	res       *reservation
	submitted bool
	killed    bool
}

type simEventKind int

// Kinds are ordered so that, at equal timestamps, a task finishing exactly
// at its reservation's deadline still counts as completed.
const (
	simTaskFinish simEventKind = iota
	simExpire
	simRelease
	simBackgroundSubmit
)

type simEvent struct {
	time float64
	kind simEventKind
	seq  uint64
	res  *reservation
	job  *taskJob
}

func (a *simEvent) Cmp(b *simEvent) int {
	if c := cmp.Compare(a.time, b.time); c != 0 {
		return c
	}
	if c := cmp.Compare(a.kind, b.kind); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// Simulator is a discrete-event batch service with a strict first-come
// first-served queue. It implements JobManager, Service and events.Source.
// It is not safe for concurrent use.
type Simulator struct {
	hosts int
	rate  float64
	free  int
	now   float64

	tasks TaskTracker

	reservations map[types.ReservationID]*reservation
	jobs         map[types.JobID]*taskJob
	queue        deque.Deque[*reservation]
	pending      heap.Heap[simEvent, heap.Min]
	outbox       *events.Queue

	seq       uint64
	nextRes   int
	nextJob   int
	submitted int
}

// NewSimulator creates a simulator for the cluster described by cfg
func NewSimulator(cfg SimulatorConfig, tasks TaskTracker) (*Simulator, error) {
	if cfg.Hosts < 1 {
		return nil, fmt.Errorf("%w: host count must be at least 1, got %d", types.ErrConfiguration, cfg.Hosts)
	}
	if cfg.CoreFlopRate <= 0 {
		return nil, fmt.Errorf("%w: core flop rate must be positive, got %f", types.ErrConfiguration, cfg.CoreFlopRate)
	}
	s := &Simulator{
		hosts:        cfg.Hosts,
		rate:         cfg.CoreFlopRate,
		free:         cfg.Hosts,
		tasks:        tasks,
		reservations: make(map[types.ReservationID]*reservation),
		jobs:         make(map[types.JobID]*taskJob),
		outbox:       events.NewQueue(),
	}

	for i, bg := range cfg.Background {
		if bg.Nodes < 1 || bg.Nodes > cfg.Hosts {
			return nil, fmt.Errorf("%w: background job %d requests %d nodes on %d hosts", types.ErrConfiguration, i, bg.Nodes, cfg.Hosts)
		}
		if bg.Duration <= 0 || bg.Submit < 0 {
			return nil, fmt.Errorf("%w: background job %d has invalid timing", types.ErrConfiguration, i)
		}
		r := &reservation{
			id:         types.ReservationID(fmt.Sprintf("background_job_%d", i)),
			nodes:      bg.Nodes,
			duration:   bg.Duration,
			background: true,
			state:      reservationDelayed,
		}
		s.reservations[r.id] = r
		if bg.Submit == 0 {
			// already queued when the controller takes its first decision
			s.enqueue(r)
			continue
		}
		s.push(simEvent{time: bg.Submit, kind: simBackgroundSubmit, res: r})
	}
	return s, nil
}

// CoreFlopRate returns the per-core compute speed in flop/s
func (s *Simulator) CoreFlopRate() float64 {
	return s.rate
}

// NumHosts returns the cluster size
func (s *Simulator) NumHosts() int {
	return s.hosts
}

// Now returns the current simulated time
func (s *Simulator) Now() float64 {
	return s.now
}

// Submitted returns the number of reservations submitted so far
func (s *Simulator) Submitted() int {
	return s.submitted
}

// CreateReservation prepares a reservation
func (s *Simulator) CreateReservation(nodes, coresPerNode int, startDelay, duration float64) (types.ReservationID, error) {
	if nodes < 1 || nodes > s.hosts {
		return "", fmt.Errorf("%w: reservation requests %d nodes on %d hosts", types.ErrConfiguration, nodes, s.hosts)
	}
	if coresPerNode < 1 {
		return "", fmt.Errorf("%w: reservation requests %d cores per node", types.ErrConfiguration, coresPerNode)
	}
	if duration <= 0 || startDelay < 0 {
		return "", fmt.Errorf("%w: reservation has invalid timing (delay %f, duration %f)", types.ErrConfiguration, startDelay, duration)
	}
	s.nextRes++
	r := &reservation{
		id:       types.ReservationID(fmt.Sprintf("pilot_job_%d", s.nextRes)),
		nodes:    nodes,
		delay:    startDelay,
		duration: duration,
		state:    reservationCreated,
	}
	s.reservations[r.id] = r
	return r.id, nil
}

// SubmitReservation queues a created reservation
func (s *Simulator) SubmitReservation(id types.ReservationID, args map[string]string) error {
	r, ok := s.reservations[id]
	if !ok {
		return fmt.Errorf("reservation not found: %s", id)
	}
	if r.state != reservationCreated {
		return fmt.Errorf("reservation %s already submitted", id)
	}
	s.submitted++
	log.Logger.Debug().
		Str("reservation", string(id)).
		Interface("args", args).
		Float64("time", s.now).
		Msg("Reservation submitted")

	if r.delay > 0 {
		r.state = reservationDelayed
		s.push(simEvent{time: s.now + r.delay, kind: simRelease, res: r})
		return nil
	}
	s.enqueue(r)
	return nil
}

// CreateTaskJob wraps a task in a job
func (s *Simulator) CreateTaskJob(taskID string) (types.JobID, error) {
	if _, ok := s.tasks.Task(taskID); !ok {
		return "", fmt.Errorf("task not found: %s", taskID)
	}
	s.nextJob++
	j := &taskJob{
		id:     types.JobID(fmt.Sprintf("standard_job_%d", s.nextJob)),
		taskID: taskID,
	}
	s.jobs[j.id] = j
	return j.id, nil
}

// SubmitTaskJob runs a job inside a granted reservation. Jobs beyond the
// reservation's node count wait for a free node.
func (s *Simulator) SubmitTaskJob(jobID types.JobID, target types.ReservationID) error {
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if j.submitted {
		return fmt.Errorf("job %s already submitted", jobID)
	}
	r, ok := s.reservations[target]
	if !ok || r.background {
		return fmt.Errorf("reservation not found: %s", target)
	}
	if r.state != reservationRunning {
		return fmt.Errorf("%w: reservation %s is not running", types.ErrReservationDefunct, target)
	}
	if err := s.tasks.MarkSubmitted(j.taskID); err != nil {
		return fmt.Errorf("failed to submit %s: %w", j.taskID, err)
	}
	j.submitted = true
	j.res = r
	r.waiting.PushBack(j)
	s.dispatch(r)
	return nil
}

// Terminate cancels a queued reservation or releases a running one, killing
// its jobs. No expiry event is delivered for a terminated reservation.
func (s *Simulator) Terminate(id types.ReservationID) error {
	r, ok := s.reservations[id]
	if !ok || r.background {
		return fmt.Errorf("reservation not found: %s", id)
	}

	switch r.state {
	case reservationDone:
		return fmt.Errorf("%w: %s", types.ErrReservationDefunct, id)
	case reservationQueued:
		if i := s.queue.Index(func(q *reservation) bool { return q == r }); i >= 0 {
			s.queue.Remove(i)
		}
	case reservationRunning:
		s.kill(r)
		s.free += r.nodes
	}
	r.state = reservationDone
	s.schedule()
	return nil
}

// Next advances the simulation to the next controller-visible event
func (s *Simulator) Next(ctx context.Context) (*events.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.outbox.Len() > 0 {
			return s.outbox.Next(ctx)
		}
		ev, ok := heap.PopOrderable(&s.pending)
		if !ok {
			return nil, events.ErrNoEvents
		}
		s.now = max(s.now, ev.time)
		s.process(ev)
	}
}

func (s *Simulator) push(ev simEvent) {
	s.seq++
	ev.seq = s.seq
	heap.PushOrderable(&s.pending, ev)
}

func (s *Simulator) emit(t events.EventType, r *reservation, j *taskJob) {
	e := &events.Event{Type: t, Time: s.now}
	if r != nil {
		e.Reservation = r.id
	}
	if j != nil {
		e.Job = j.id
		e.TaskID = j.taskID
		e.Reservation = j.res.id
	}
	s.outbox.Push(e)
}

func (s *Simulator) process(ev simEvent) {
	switch ev.kind {
	case simTaskFinish:
		j := ev.job
		if j.killed {
			return
		}
		r := j.res
		r.running = slices.DeleteFunc(r.running, func(x *taskJob) bool { return x == j })
		if err := s.tasks.MarkCompleted(j.taskID, s.now); err != nil {
			log.Logger.Error().Err(err).Str("task", j.taskID).Msg("Failed to complete task")
		}
		s.emit(events.EventTaskCompleted, nil, j)
		s.dispatch(r)

	case simExpire:
		r := ev.res
		if r.state != reservationRunning {
			return
		}
		s.kill(r)
		s.free += r.nodes
		r.state = reservationDone
		if !r.background {
			s.emit(events.EventReservationExpired, r, nil)
		}
		s.schedule()

	case simRelease, simBackgroundSubmit:
		if ev.res.state == reservationDelayed {
			s.enqueue(ev.res)
		}
	}
}

func (s *Simulator) enqueue(r *reservation) {
	r.state = reservationQueued
	s.queue.PushBack(r)
	s.schedule()
}

// schedule starts queued reservations in order while the head fits
func (s *Simulator) schedule() {
	for s.queue.Len() > 0 {
		r := s.queue.Front()
		if r.nodes > s.free {
			return
		}
		s.queue.PopFront()
		s.free -= r.nodes
		r.state = reservationRunning
		r.startedAt = s.now
		s.push(simEvent{time: s.now + r.duration, kind: simExpire, res: r})
		if !r.background {
			s.emit(events.EventReservationGranted, r, nil)
		}
	}
}

// dispatch starts waiting jobs on idle nodes of the reservation
func (s *Simulator) dispatch(r *reservation) {
	for len(r.running) < r.nodes && r.waiting.Len() > 0 {
		j := r.waiting.PopFront()
		r.running = append(r.running, j)
		task, _ := s.tasks.Task(j.taskID)
		s.push(simEvent{time: s.now + task.Flops/s.rate, kind: simTaskFinish, job: j})
	}
}

// kill stops every job of the reservation and hands the tasks back
func (s *Simulator) kill(r *reservation) {
	for _, j := range r.running {
		s.fail(j)
	}
	r.running = nil
	for r.waiting.Len() > 0 {
		s.fail(r.waiting.PopFront())
	}
}

func (s *Simulator) fail(j *taskJob) {
	j.killed = true
	if err := s.tasks.MarkFailed(j.taskID); err != nil {
		log.Logger.Error().Err(err).Str("task", j.taskID).Msg("Failed to release task")
	}
	s.emit(events.EventTaskFailed, nil, j)
}
