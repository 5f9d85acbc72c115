package types

import (
	"time"
)

// Task is a read-only view of one workflow task, as reported by the workflow provider
type Task struct {
	ID    string
	Flops float64
	State TaskState
	Level int
}

// TaskState represents the state of a workflow task
type TaskState string

const (
	TaskStateNotReady  TaskState = "not_ready"
	TaskStateReady     TaskState = "ready"
	TaskStatePending   TaskState = "pending" // submitted to a job, not finished yet
	TaskStateCompleted TaskState = "completed"
)

// ReservationID is the opaque handle of a reservation granted by the batch service
type ReservationID string

// JobID is the opaque handle of a single-task job
type JobID string

// PlaceholderID identifies a placeholder job in the lifecycle manager's arena
type PlaceholderID string

// ClusteredJob is a set of tasks chosen to run together on a number of nodes.
// It is never mutated once created; a restart produces a new ClusteredJob.
type ClusteredJob struct {
	TaskIDs    []string
	Nodes      int
	Runtime    float64 // requested reservation duration, in seconds
	StartLevel int
	EndLevel   int
	Individual bool
}

// NumTasks returns the number of member tasks
func (j *ClusteredJob) NumTasks() int {
	return len(j.TaskIDs)
}

// Contains reports whether the task is a member of the job
func (j *ClusteredJob) Contains(taskID string) bool {
	for _, id := range j.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// PlaceholderJob binds one ClusteredJob to one reservation
type PlaceholderJob struct {
	ID          PlaceholderID
	Job         *ClusteredJob
	Reservation ReservationID
	State       PlaceholderState
	Completed   int
	SubmittedAt float64
	GrantedAt   float64
	FinishedAt  float64
	Supersedes  PlaceholderID // placeholder this one restarts, if any
}

// Remaining returns how much of the reservation lifetime is left at now.
// Only meaningful for running placeholders.
func (p *PlaceholderJob) Remaining(now float64) float64 {
	left := p.GrantedAt + p.Job.Runtime - now
	if left < 0 {
		return 0
	}
	return left
}

// PlaceholderState represents the lifecycle state of a placeholder job
type PlaceholderState string

const (
	PlaceholderPending   PlaceholderState = "pending"
	PlaceholderRunning   PlaceholderState = "running"
	PlaceholderCompleted PlaceholderState = "completed"
	PlaceholderExpired   PlaceholderState = "expired"
	PlaceholderCancelled PlaceholderState = "cancelled"
)

// IsActive reports whether the state still holds tasks
func (s PlaceholderState) IsActive() bool {
	return s == PlaceholderPending || s == PlaceholderRunning
}

// OngoingLevel groups the placeholder jobs associated with one workflow level
type OngoingLevel struct {
	Level     int
	Pending   []PlaceholderID
	Running   []PlaceholderID
	Completed []PlaceholderID
}

// RunRecord summarizes one controller run
type RunRecord struct {
	ID                    string
	Strategy              string
	Hosts                 int
	Tasks                 int
	Levels                int
	StartTime             float64
	EndTime               float64
	Makespan              float64
	ReservationsSubmitted int
	ReservationsRestarted int
	ReservationsCancelled int
	IndividualModeEngaged bool
	IndividualModeAtLevel int
	CreatedAt             time.Time
}
