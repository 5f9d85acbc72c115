package storage

import (
	"errors"

	"github.com/cuemby/pilot/pkg/types"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for run history storage
type Store interface {
	// Runs
	SaveRun(run *types.RunRecord) error
	GetRun(id string) (*types.RunRecord, error)
	ListRuns() ([]*types.RunRecord, error)
	DeleteRun(id string) error

	// Placeholders of a run, in the order they reached a terminal state
	SavePlaceholders(runID string, placeholders []*types.PlaceholderJob) error
	ListPlaceholders(runID string) ([]*types.PlaceholderJob, error)

	// Utility
	Close() error
}
