package types

import "errors"

var (
	// ErrConfiguration reports a malformed clustering spec, non-positive cluster
	// parameters, or a level wider than the host count under plimit
	ErrConfiguration = errors.New("configuration error")

	// ErrInvariantViolation reports an event with no matching placeholder in the
	// expected state set. It is a bookkeeping defect and aborts the run.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrOracleFailure reports a negative or missing wait-time prediction
	ErrOracleFailure = errors.New("wait-time oracle failure")

	// ErrReservationDefunct is returned when terminating a reservation that has
	// already expired or been released. Callers treat it as a normal outcome.
	ErrReservationDefunct = errors.New("reservation defunct")

	// ErrStalled reports that no more events will arrive although the workflow
	// is not done
	ErrStalled = errors.New("workflow stalled")
)
