/*
Package storage provides BoltDB-backed persistence for finished runs.

The storage package implements the Store interface using bbolt. Each run
record and the placeholders it went through are serialized as JSON, so past
runs can be listed and compared from the CLI without re-running the
simulation.

# Architecture

	┌──────────────────── BOLTDB STORAGE ────────────────────┐
	│                                                        │
	│  ┌──────────────────────────────────────────┐          │
	│  │            BoltStore                     │          │
	│  │  - File: <dataDir>/pilot.db              │          │
	│  │  - Transactions: ACID with fsync         │          │
	│  └──────────────────┬───────────────────────┘          │
	│                     │                                  │
	│  ┌──────────────────▼───────────────────────┐          │
	│  │            Bucket Structure              │          │
	│  │  runs           (run ID → RunRecord)     │          │
	│  │  placeholders                            │          │
	│  │    └─ <run ID>  (position → Placeholder) │          │
	│  └──────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

Placeholders are stored in a nested bucket per run, keyed by their position
as a big-endian integer so that cursor order is the order in which they
reached a terminal state. Saving the placeholders of a run replaces what was
stored for it before. Deleting a run removes its placeholders too.

# Usage

	store, err := storage.NewBoltStore("/var/lib/pilot")
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns()
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Println(run.ID, run.Strategy, run.Makespan)
	}

Lookups of a missing run return an error wrapping ErrNotFound.

BoltDB allows a single writer process per file. The CLI opens the store only
for the duration of one command.
*/
package storage
