package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/pilot/pkg/batch"
	"github.com/cuemby/pilot/pkg/clustering"
	"github.com/cuemby/pilot/pkg/events"
	"github.com/cuemby/pilot/pkg/log"
	"github.com/cuemby/pilot/pkg/metrics"
	"github.com/cuemby/pilot/pkg/placeholder"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/cuemby/pilot/pkg/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunStore persists the outcome of a run
type RunStore interface {
	SaveRun(run *types.RunRecord) error
	SavePlaceholders(runID string, placeholders []*types.PlaceholderJob) error
}

// Config holds controller configuration
type Config struct {
	Strategy clustering.Strategy

	// Overlap lets a new placeholder be submitted while others are running.
	// Strategies that fix the flag themselves override it.
	Overlap bool

	// Store is optional
	Store RunStore
}

// Controller runs the decide, wait, dispatch loop over one workflow
type Controller struct {
	strategy clustering.Strategy
	overlap  bool
	store    RunStore

	workflow workflow.Provider
	service  batch.Service
	source   batch.EventSource

	placeholders *placeholder.Manager
	collector    *metrics.Collector

	runID           string
	individual      bool
	individualLevel int
	logger          zerolog.Logger
}

// New creates a controller. The workflow, job manager, service and event
// source are usually backed by the same batch system.
func New(cfg Config, wf workflow.Provider, jobs batch.JobManager, svc batch.Service, src batch.EventSource) (*Controller, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("%w: no clustering strategy", types.ErrConfiguration)
	}

	overlap := cfg.Overlap
	if p, ok := cfg.Strategy.(clustering.OverlapPolicy); ok {
		overlap = p.Overlap()
	}

	pm := placeholder.NewManager(wf, jobs, svc)
	runID := uuid.New().String()
	c := &Controller{
		strategy:        cfg.Strategy,
		overlap:         overlap,
		store:           cfg.Store,
		workflow:        wf,
		service:         svc,
		source:          src,
		placeholders:    pm,
		collector:       metrics.NewCollector(pm),
		runID:           runID,
		individualLevel: -1,
		logger:          log.WithRun(runID),
	}
	return c, nil
}

// RunID returns the id of the run record this controller produces
func (c *Controller) RunID() string {
	return c.runID
}

// Placeholders exposes the lifecycle manager
func (c *Controller) Placeholders() *placeholder.Manager {
	return c.placeholders
}

// Individual reports whether grouping has been abandoned
func (c *Controller) Individual() bool {
	return c.individual
}

// Run drives the workflow to completion and returns a summary of the run.
// It returns an error wrapping types.ErrStalled if the event source runs dry
// first.
func (c *Controller) Run(ctx context.Context) (*types.RunRecord, error) {
	start := c.service.Now()
	c.logger.Info().
		Str("strategy", c.strategy.Name()).
		Str("mode", c.strategy.Mode().String()).
		Bool("overlap", c.overlap).
		Int("hosts", c.service.NumHosts()).
		Int("levels", c.workflow.NumLevels()).
		Msg("Starting run")

	for !c.workflow.IsDone() {
		if err := c.Decide(ctx); err != nil {
			return nil, err
		}

		ev, err := c.source.Next(ctx)
		if errors.Is(err, events.ErrNoEvents) {
			return nil, fmt.Errorf("%w at t=%.2f with %d pending and %d running placeholders",
				types.ErrStalled, c.service.Now(), len(c.placeholders.Pending()), len(c.placeholders.Running()))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to wait for event: %w", err)
		}

		c.logger.Debug().Str("event", ev.String()).Msg("Handling event")
		if err := c.placeholders.Handle(ev); err != nil {
			return nil, fmt.Errorf("failed to handle %s: %w", ev, err)
		}
	}
	c.collector.Collect()

	record := c.record(start)
	metrics.WorkflowMakespan.Set(record.Makespan)
	c.logger.Info().
		Float64("makespan", record.Makespan).
		Int("reservations", record.ReservationsSubmitted).
		Int("restarted", record.ReservationsRestarted).
		Msg("Workflow complete")

	if c.store != nil {
		if err := c.store.SaveRun(record); err != nil {
			return record, fmt.Errorf("failed to save run: %w", err)
		}
		if err := c.store.SavePlaceholders(record.ID, c.placeholders.History()); err != nil {
			return record, fmt.Errorf("failed to save placeholders: %w", err)
		}
	}
	return record, nil
}

// Decide runs one decision cycle: it checks the concurrency gates, consults
// the strategy and submits what it asks for. A cycle with every gate closed
// or nothing left to place submits nothing.
func (c *Controller) Decide(ctx context.Context) error {
	defer c.collector.Collect()

	if c.individual {
		return c.submitIndividual()
	}
	if !c.gateOpen() {
		return nil
	}

	snap := c.snapshot()
	timer := metrics.NewTimer()
	decision, err := c.strategy.Decide(ctx, snap)
	timer.ObserveDurationVec(metrics.DecisionDuration, c.strategy.Name())
	if err != nil {
		return fmt.Errorf("strategy %s failed: %w", c.strategy.Name(), err)
	}

	if decision.Individual {
		c.individual = true
		c.individualLevel = snap.FirstUncoveredLevel()
		metrics.IndividualMode.Set(1)
		c.logger.Info().Int("level", c.individualLevel).Msg("Switching to individual mode")
		return c.submitIndividual()
	}

	for _, job := range decision.Jobs {
		if _, err := c.placeholders.Submit(job); err != nil {
			return err
		}
	}
	return nil
}

// gateOpen reports whether the strategy may be consulted
func (c *Controller) gateOpen() bool {
	switch c.strategy.Mode() {
	case clustering.ModeRatioSearch:
		if len(c.placeholders.Pending()) > 0 {
			return false
		}
		return c.overlap || len(c.placeholders.Running()) == 0

	default:
		ongoing := c.placeholders.OngoingLevels()
		if len(ongoing) >= 2 {
			return false
		}
		if !c.overlap && len(ongoing) > 0 {
			return false
		}
		next := c.snapshot().FirstUncoveredLevel()
		for _, ol := range ongoing {
			if ol.Level == next-1 && len(ol.Pending) > 0 {
				return false
			}
		}
		return true
	}
}

func (c *Controller) snapshot() clustering.Snapshot {
	return clustering.Snapshot{
		Workflow:     c.workflow,
		Hosts:        c.service.NumHosts(),
		CoreFlopRate: c.service.CoreFlopRate(),
		Now:          c.service.Now(),
		Covered:      c.placeholders.Covered,
		Running:      c.placeholders.Running(),
	}
}

// submitIndividual places every ready task that no placeholder holds in its
// own single-node placeholder
func (c *Controller) submitIndividual() error {
	last := c.workflow.NumLevels() - 1
	for _, t := range c.workflow.TasksInLevelRange(0, last) {
		if t.State != types.TaskStateReady || c.placeholders.Covered(t.ID) {
			continue
		}
		job := &types.ClusteredJob{
			TaskIDs:    []string{t.ID},
			Nodes:      1,
			Runtime:    t.Flops / c.service.CoreFlopRate() * clustering.RuntimeFudgeFactor,
			StartLevel: t.Level,
			EndLevel:   t.Level,
			Individual: true,
		}
		if _, err := c.placeholders.Submit(job); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) record(start float64) *types.RunRecord {
	stats := c.placeholders.Stats()
	end := c.service.Now()
	return &types.RunRecord{
		ID:                    c.runID,
		Strategy:              c.strategy.Name(),
		Hosts:                 c.service.NumHosts(),
		Tasks:                 len(c.workflow.TasksInLevelRange(0, c.workflow.NumLevels()-1)),
		Levels:                c.workflow.NumLevels(),
		StartTime:             start,
		EndTime:               end,
		Makespan:              end - start,
		ReservationsSubmitted: stats.Submitted,
		ReservationsRestarted: stats.Restarted,
		ReservationsCancelled: stats.Cancelled,
		IndividualModeEngaged: c.individual,
		IndividualModeAtLevel: c.individualLevel,
		CreatedAt:             time.Now(),
	}
}
