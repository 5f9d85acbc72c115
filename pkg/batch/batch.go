package batch

import (
	"context"

	"github.com/cuemby/pilot/pkg/events"
	"github.com/cuemby/pilot/pkg/types"
)

// JobShape is one hypothetical job submitted to the start-time predictor
type JobShape struct {
	ID           string
	Nodes        int
	CoresPerNode int
	Walltime     float64
}

// JobManager creates and submits reservations and single-task jobs
type JobManager interface {
	// CreateReservation prepares a reservation of nodes x coresPerNode for
	// duration seconds, starting no earlier than startDelay after submission
	CreateReservation(nodes, coresPerNode int, startDelay, duration float64) (types.ReservationID, error)

	// SubmitReservation queues the reservation on the batch service
	SubmitReservation(id types.ReservationID, args map[string]string) error

	// CreateTaskJob wraps one workflow task in a job
	CreateTaskJob(taskID string) (types.JobID, error)

	// SubmitTaskJob runs the job inside a granted reservation
	SubmitTaskJob(job types.JobID, target types.ReservationID) error

	// Terminate releases or cancels the reservation. It returns an error
	// wrapping types.ErrReservationDefunct when the reservation is already gone.
	Terminate(id types.ReservationID) error
}

// Service exposes the batch service facts the clustering strategies consume
type Service interface {
	CoreFlopRate() float64
	NumHosts() int
	Now() float64

	// EstimateStartTimes predicts, for each job, the offset from now at which
	// it would start if submitted now. A negative value means no prediction.
	EstimateStartTimes(jobs []JobShape) (map[string]float64, error)
}

// EventSource delivers reservation and task lifecycle events in
// non-decreasing time order
type EventSource interface {
	Next(ctx context.Context) (*events.Event, error)
}

// TaskTracker is the part of the workflow the batch service updates as jobs
// run: tasks become pending on submission, completed on success, and ready
// again when their job is killed
type TaskTracker interface {
	Task(taskID string) (types.Task, bool)
	MarkSubmitted(taskID string) error
	MarkCompleted(taskID string, at float64) error
	MarkFailed(taskID string) error
}
