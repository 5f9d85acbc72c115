/*
Package placeholder tracks the reservations that stand in for clustered jobs.

A placeholder binds one clustered job to one batch reservation. Task jobs
are submitted into the reservation once it starts, and the reservation is
released as soon as its last member completes.

	            Submit
	              │
	              ▼
	         ┌─────────┐  expiry of another      ┌───────────┐
	         │ PENDING │────────────────────────▶│ CANCELLED │
	         └────┬────┘  placeholder            └───────────┘
	              │ granted                            ▲
	              ▼                                    │ no member ready
	         ┌─────────┐───────────────────────────────┘
	         │ RUNNING │
	         └────┬────┘
	    last task │      │ lease runs out
	     complete │      │ with work left
	              ▼      ▼
	    ┌───────────┐  ┌─────────┐  replacement   ┌─────────┐
	    │ COMPLETED │  │ EXPIRED │───────────────▶│ PENDING │
	    └───────────┘  └─────────┘                └─────────┘

When a reservation expires with unfinished members, every pending
placeholder and every running placeholder none of whose members can start
are cancelled, then a replacement asks for the unfinished members only, on
no more nodes than there are members left. The replacement is made even
when its members still wait on parents held by another placeholder.

Each task belongs to at most one PENDING or RUNNING placeholder at a time.
Events for reservations this manager already released are logged and
ignored, since a lease can lapse while its release is in flight. Events for
reservations it never submitted are invariant violations.
*/
package placeholder
