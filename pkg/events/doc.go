/*
Package events defines the lifecycle events the controller reacts to.

Four event types reach the controller:

	reservation.granted   a pending reservation started on the batch service
	reservation.expired   a running reservation reached the end of its lease
	task.completed        a single-task job finished inside a reservation
	task.failed           a single-task job was killed or failed

Events are pulled, not pushed: the controller calls Source.Next once per
decision cycle, which is the only point where it suspends. Hosts deliver
events in non-decreasing time order, with no ordering guarantee between
placeholders.

Queue is a FIFO Source backed by a deque. The batch simulator uses it as
its outbox, and tests use it to script event sequences:

	q := events.NewQueue(
		&events.Event{Type: events.EventReservationGranted, Reservation: "r1"},
		&events.Event{Type: events.EventTaskCompleted, TaskID: "t1"},
	)
*/
package events
