/*
Package controller runs the single decision loop that packs a workflow into
placeholder reservations.

	┌──────────────────────────────────────────────────────────┐
	│                        Controller                        │
	│                                                          │
	│   ┌────────┐   open   ┌──────────┐  jobs  ┌────────────┐ │
	│   │ gates  │─────────▶│ strategy │───────▶│ placeholder│ │
	│   └────────┘          └──────────┘        │  manager   │ │
	│       ▲                                   └─────┬──────┘ │
	│       │             Handle(event)               │        │
	│       └──────────────────◀──────────────────────┘        │
	└───────────────────────────┬──────────────────────────────┘
	                            │ Next(ctx)
	                            ▼
	                   batch event source

Each cycle checks the concurrency gates of the strategy's mode, asks the
strategy for clustered jobs, submits them, then blocks for one event and
hands it to the placeholder manager. The loop ends when the workflow is
done, or with types.ErrStalled when the event source runs dry first.

Level-by-level strategies are held back while two levels are ongoing, while
any level is ongoing and overlap is off, or while the level just below the
next one still has a pending placeholder. Ratio-search strategies are held
back while a placeholder is pending or, without overlap, while one is
running.

Once a ratio search runs through the last level, the controller switches to
individual mode for the rest of the run and places every ready task in its
own single-node reservation.

Everything runs on the caller's goroutine; Run is the only blocking call.
*/
package controller
