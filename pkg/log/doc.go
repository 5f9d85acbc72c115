/*
Package log provides structured logging for pilot using zerolog.

A single package-level Logger is configured once by Init from the CLI flags
and shared by every package. Component loggers attach a fixed field so that
log lines can be filtered by the part of the controller that emitted them:

	┌──────────────── LOGGING ────────────────┐
	│                                          │
	│  log.Init(Config{Level, JSONOutput})     │
	│             │                            │
	│             ▼                            │
	│      Global Logger (zerolog)             │
	│             │                            │
	│   ┌─────────┼──────────────┐             │
	│   ▼         ▼              ▼             │
	│ WithComponent  WithRun  WithPlaceholder  │
	│ "controller"   run_id   placeholder,     │
	│ "clustering"            reservation      │
	└──────────────────────────────────────────┘

Console output is the default. JSON output is meant for runs whose logs are
collected and replayed:

	{"level":"info","component":"controller","start_level":3,"message":"Submitting placeholder"}

# Usage

	log.Init(log.Config{Level: log.DebugLevel})
	logger := log.WithComponent("placeholder")
	logger.Info().Str("reservation", string(id)).Msg("Reservation granted")

Clustering decisions are logged at debug level, placeholder transitions at
info level, and benign anomalies (late events for released reservations,
node-count clamps) at warn level.
*/
package log
