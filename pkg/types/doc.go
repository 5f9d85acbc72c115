/*
Package types defines the data model shared by the pilot packages.

# Core Types

Workflow:
  - Task: read-only snapshot of a workflow task (id, flops, state, level)
  - TaskState: not_ready, ready, pending (submitted), completed

Clustering:
  - ClusteredJob: task set plus node count and level range, produced by a
    clustering strategy. Immutable once created.

Placeholder lifecycle:
  - PlaceholderJob: binds a ClusteredJob to a reservation handle
  - PlaceholderState: pending → running → completed, running → expired on
    partial failure, pending/running → cancelled by the restart protocol
  - OngoingLevel: placeholders grouped by workflow level

Reporting:
  - RunRecord: summary of one controller run, persisted by pkg/storage

# Errors

The error taxonomy is expressed as sentinel errors. Fatal categories
(ErrConfiguration, ErrInvariantViolation, ErrOracleFailure, ErrStalled) are
wrapped with context and returned up to the controller, which aborts the run.
ErrReservationDefunct is a normal outcome of terminating a reservation that
already lapsed and is never surfaced.

	if errors.Is(err, types.ErrConfiguration) {
		// bad clustering spec or level wider than the host count
	}

Identifiers (ReservationID, JobID, PlaceholderID) are opaque strings so that
cross references between placeholders, reservations and tasks are lookups,
never pointers into another component's state.
*/
package types
