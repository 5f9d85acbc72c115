package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/pilot/pkg/types"
	"github.com/gammazero/deque"
)

// EventType represents the type of event
type EventType string

const (
	EventReservationGranted EventType = "reservation.granted"
	EventReservationExpired EventType = "reservation.expired"
	EventTaskCompleted      EventType = "task.completed"
	EventTaskFailed         EventType = "task.failed"
)

// Event is a lifecycle notification delivered to the controller
type Event struct {
	Type        EventType
	Time        float64
	Reservation types.ReservationID
	Job         types.JobID
	TaskID      string
}

func (e *Event) String() string {
	switch e.Type {
	case EventReservationGranted, EventReservationExpired:
		return fmt.Sprintf("%s(%s)@%.2f", e.Type, e.Reservation, e.Time)
	default:
		return fmt.Sprintf("%s(%s)@%.2f", e.Type, e.TaskID, e.Time)
	}
}

// Source delivers events one at a time in non-decreasing time order
type Source interface {
	// Next blocks until the next event is available. It returns ErrNoEvents
	// once nothing more can happen.
	Next(ctx context.Context) (*Event, error)
}

// ErrNoEvents is returned by a Source that has nothing left to deliver
var ErrNoEvents = errors.New("no more events")

// Queue is a FIFO event source. It is not safe for concurrent use.
type Queue struct {
	events deque.Deque[*Event]
}

// NewQueue creates a queue holding the given events
func NewQueue(evs ...*Event) *Queue {
	q := &Queue{}
	for _, e := range evs {
		q.Push(e)
	}
	return q
}

// Push appends an event
func (q *Queue) Push(e *Event) {
	q.events.PushBack(e)
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	return q.events.Len()
}

// Next pops the oldest event
func (q *Queue) Next(ctx context.Context) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.events.Len() == 0 {
		return nil, ErrNoEvents
	}
	return q.events.PopFront(), nil
}
