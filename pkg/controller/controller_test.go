package controller

import (
	"context"
	"fmt"
	"testing"

	"github.com/cuemby/pilot/pkg/batch"
	"github.com/cuemby/pilot/pkg/clustering"
	"github.com/cuemby/pilot/pkg/events"
	"github.com/cuemby/pilot/pkg/oracle"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/cuemby/pilot/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// levelled builds a workflow where every task of level l depends on every
// task of level l-1
func levelled(t *testing.T, flops ...[]float64) *workflow.Workflow {
	t.Helper()
	wf := workflow.New()
	var prev []string
	for l, level := range flops {
		var cur []string
		for i, f := range level {
			id := fmt.Sprintf("t%d_%d", l, i)
			require.NoError(t, wf.AddTask(id, f))
			for _, p := range prev {
				require.NoError(t, wf.AddDependency(p, id))
			}
			cur = append(cur, id)
		}
		prev = cur
	}
	return wf
}

type harness struct {
	wf  *workflow.Workflow
	sim *batch.Simulator
	c   *Controller
}

func newHarness(t *testing.T, wf *workflow.Workflow, simCfg batch.SimulatorConfig, spec string, overlap bool) *harness {
	t.Helper()
	sim, err := batch.NewSimulator(simCfg, wf)
	require.NoError(t, err)
	strategy, err := clustering.Parse(spec, oracle.New(sim))
	require.NoError(t, err)
	c, err := New(Config{Strategy: strategy, Overlap: overlap}, wf, sim, sim, sim)
	require.NoError(t, err)
	return &harness{wf: wf, sim: sim, c: c}
}

// step delivers one event to the placeholder manager
func (h *harness) step(t *testing.T) *events.Event {
	t.Helper()
	ev, err := h.sim.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.c.Placeholders().Handle(ev))
	return ev
}

type fakeStore struct {
	runs         []*types.RunRecord
	placeholders map[string][]*types.PlaceholderJob
}

func (s *fakeStore) SaveRun(run *types.RunRecord) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) SavePlaceholders(runID string, phs []*types.PlaceholderJob) error {
	if s.placeholders == nil {
		s.placeholders = make(map[string][]*types.PlaceholderJob)
	}
	s.placeholders[runID] = phs
	return nil
}

// scripted returns queued decisions one per call, then empty ones
type scripted struct {
	mode      clustering.Mode
	decisions []*clustering.Decision
	calls     int
}

func (s *scripted) Name() string         { return "scripted" }
func (s *scripted) Mode() clustering.Mode { return s.mode }

func (s *scripted) Decide(context.Context, clustering.Snapshot) (*clustering.Decision, error) {
	s.calls++
	if len(s.decisions) == 0 {
		return &clustering.Decision{}, nil
	}
	d := s.decisions[0]
	s.decisions = s.decisions[1:]
	return d, nil
}

func TestNewRequiresStrategy(t *testing.T) {
	wf := workflow.New()
	sim, err := batch.NewSimulator(batch.SimulatorConfig{Hosts: 1, CoreFlopRate: 1}, wf)
	require.NoError(t, err)

	_, err = New(Config{}, wf, sim, sim, sim)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestOverlapPolicyOverridesConfig(t *testing.T) {
	wf := levelled(t, []float64{10})
	h := newHarness(t, wf, batch.SimulatorConfig{Hosts: 2, CoreFlopRate: 1}, "zhang:overlap", false)
	assert.True(t, h.c.overlap)

	h = newHarness(t, wf, batch.SimulatorConfig{Hosts: 2, CoreFlopRate: 1}, "zhang:nooverlap", true)
	assert.False(t, h.c.overlap)

	h = newHarness(t, wf, batch.SimulatorConfig{Hosts: 2, CoreFlopRate: 1}, "hc-1-1", true)
	assert.True(t, h.c.overlap)
}

func TestOneReservationPerLevel(t *testing.T) {
	wf := levelled(t, []float64{10}, []float64{10}, []float64{10}, []float64{10}, []float64{10})
	h := newHarness(t, wf, batch.SimulatorConfig{Hosts: 4, CoreFlopRate: 1}, "hc-1-1", false)
	store := &fakeStore{}
	h.c.store = store

	record, err := h.c.Run(context.Background())
	require.NoError(t, err)

	history := h.c.Placeholders().History()
	require.Len(t, history, 5)
	for l, ph := range history {
		assert.Equal(t, []string{fmt.Sprintf("t%d_0", l)}, ph.Job.TaskIDs)
		assert.Equal(t, l, ph.Job.StartLevel)
		assert.Equal(t, 1, ph.Job.Nodes)
		assert.Equal(t, types.PlaceholderCompleted, ph.State)
		if l > 0 {
			// each level is submitted only once the previous one is done
			assert.GreaterOrEqual(t, ph.SubmittedAt, history[l-1].FinishedAt)
		}
	}

	assert.Equal(t, 5, record.ReservationsSubmitted)
	assert.Equal(t, 5, record.Tasks)
	assert.Equal(t, 5, record.Levels)
	assert.Equal(t, "hc-1-1", record.Strategy)
	assert.InDelta(t, 50.0, record.Makespan, 1e-9)
	assert.False(t, record.IndividualModeEngaged)
	assert.Equal(t, -1, record.IndividualModeAtLevel)

	require.Len(t, store.runs, 1)
	assert.Equal(t, h.c.RunID(), store.runs[0].ID)
	assert.Len(t, store.placeholders[h.c.RunID()], 5)
}

func TestLevelByLevelGates(t *testing.T) {
	wf := levelled(t, []float64{10}, []float64{10}, []float64{10})
	h := newHarness(t, wf, batch.SimulatorConfig{Hosts: 2, CoreFlopRate: 1}, "hc-1-1", true)
	ctx := context.Background()

	require.NoError(t, h.c.Decide(ctx))
	assert.Equal(t, 1, h.sim.Submitted())

	// level 0 is still pending
	require.NoError(t, h.c.Decide(ctx))
	assert.Equal(t, 1, h.sim.Submitted())

	ev := h.step(t)
	require.Equal(t, events.EventReservationGranted, ev.Type)

	// level 0 running, overlap allowed: level 1 goes out
	require.NoError(t, h.c.Decide(ctx))
	assert.Equal(t, 2, h.sim.Submitted())
	require.Len(t, h.c.Placeholders().OngoingLevels(), 2)

	// two ongoing levels close the gate
	h.step(t)
	require.NoError(t, h.c.Decide(ctx))
	assert.Equal(t, 2, h.sim.Submitted())
}

func TestLevelByLevelWithoutOverlapWaitsForLevel(t *testing.T) {
	wf := levelled(t, []float64{10, 10}, []float64{10})
	h := newHarness(t, wf, batch.SimulatorConfig{Hosts: 2, CoreFlopRate: 1}, "hc-1-1", false)
	ctx := context.Background()

	require.NoError(t, h.c.Decide(ctx))
	assert.Equal(t, 2, h.sim.Submitted())

	for len(h.c.Placeholders().Active()) > 0 {
		require.NoError(t, h.c.Decide(ctx))
		assert.Equal(t, 2, h.sim.Submitted())
		h.step(t)
	}
	require.NoError(t, h.c.Decide(ctx))
	assert.Equal(t, 3, h.sim.Submitted())
}

func TestRatioSearchGates(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		granted bool
		submits bool
	}{
		{name: "pending placeholder", spec: "zhang:overlap", granted: false, submits: false},
		{name: "running without overlap", spec: "zhang:nooverlap", granted: true, submits: false},
		{name: "running with overlap", spec: "zhang:overlap", granted: true, submits: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := levelled(t, []float64{10}, []float64{10})
			h := newHarness(t, wf, batch.SimulatorConfig{Hosts: 2, CoreFlopRate: 1}, tt.spec, false)
			strategy := &scripted{
				mode: clustering.ModeRatioSearch,
				decisions: []*clustering.Decision{
					{Jobs: []*types.ClusteredJob{{TaskIDs: []string{"t0_0"}, Nodes: 1, Runtime: 11}}},
					{Jobs: []*types.ClusteredJob{{TaskIDs: []string{"t1_0"}, Nodes: 1, Runtime: 11, StartLevel: 1, EndLevel: 1}}},
				},
			}
			h.c.strategy = strategy
			ctx := context.Background()

			require.NoError(t, h.c.Decide(ctx))
			require.Equal(t, 1, h.sim.Submitted())
			if tt.granted {
				h.step(t)
			}

			require.NoError(t, h.c.Decide(ctx))
			if tt.submits {
				assert.Equal(t, 2, h.sim.Submitted())
				assert.Equal(t, 2, strategy.calls)
			} else {
				assert.Equal(t, 1, h.sim.Submitted())
				assert.Equal(t, 1, strategy.calls)
			}
		})
	}
}

func TestDecideWithNothingLeftIsIdempotent(t *testing.T) {
	wf := levelled(t, []float64{10, 10})
	h := newHarness(t, wf, batch.SimulatorConfig{Hosts: 2, CoreFlopRate: 1}, "hc-2-2", true)
	ctx := context.Background()

	require.NoError(t, h.c.Decide(ctx))
	require.Equal(t, 1, h.sim.Submitted())
	h.step(t)

	for range 3 {
		require.NoError(t, h.c.Decide(ctx))
	}
	assert.Equal(t, 1, h.sim.Submitted())
}

func TestGiantPhaseSwitchesToIndividualMode(t *testing.T) {
	wf := levelled(t, []float64{10, 10}, []float64{10, 10}, []float64{10})
	h := newHarness(t, wf, batch.SimulatorConfig{
		Hosts:        2,
		CoreFlopRate: 1,
		Background:   []batch.BackgroundJob{{Submit: 0, Nodes: 2, Duration: 1000}},
	}, "zhang:nooverlap", false)

	record, err := h.c.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, h.c.Individual())
	assert.True(t, record.IndividualModeEngaged)
	assert.Equal(t, 0, record.IndividualModeAtLevel)

	history := h.c.Placeholders().History()
	require.Len(t, history, 5)
	for _, ph := range history {
		assert.True(t, ph.Job.Individual)
		assert.Equal(t, 1, ph.Job.Nodes)
		assert.Len(t, ph.Job.TaskIDs, 1)
		assert.InDelta(t, 10*clustering.RuntimeFudgeFactor, ph.Job.Runtime, 1e-9)
	}
	// the queue frees up at 1000, then three levels of 10s each
	assert.InDelta(t, 1030.0, record.Makespan, 1e-9)
}

func TestExpiredReservationIsRestarted(t *testing.T) {
	wf := levelled(t, []float64{10, 10, 10})
	h := newHarness(t, wf, batch.SimulatorConfig{Hosts: 2, CoreFlopRate: 1}, "hc-1-1", false)
	// two nodes for three tasks, but only long enough for one round
	h.c.strategy = &scripted{
		mode: clustering.ModeLevelByLevel,
		decisions: []*clustering.Decision{
			{Jobs: []*types.ClusteredJob{{TaskIDs: []string{"t0_0", "t0_1", "t0_2"}, Nodes: 2, Runtime: 15}}},
		},
	}

	record, err := h.c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, record.ReservationsRestarted)
	assert.Equal(t, 2, record.ReservationsSubmitted)

	history := h.c.Placeholders().History()
	require.Len(t, history, 2)
	assert.Equal(t, types.PlaceholderExpired, history[0].State)
	assert.Equal(t, types.PlaceholderCompleted, history[1].State)
	assert.Equal(t, history[0].ID, history[1].Supersedes)
	assert.Equal(t, []string{"t0_2"}, history[1].Job.TaskIDs)
	assert.Equal(t, 1, history[1].Job.Nodes)
	// expiry at 15, rerun of the third task for 10s
	assert.InDelta(t, 25.0, record.Makespan, 1e-9)
}

func TestRunStallsWhenNothingIsSubmitted(t *testing.T) {
	wf := levelled(t, []float64{10})
	h := newHarness(t, wf, batch.SimulatorConfig{Hosts: 1, CoreFlopRate: 1}, "hc-1-1", false)
	h.c.strategy = &scripted{mode: clustering.ModeLevelByLevel}

	_, err := h.c.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrStalled)
}

func TestRunSurfacesConfigurationErrors(t *testing.T) {
	wf := levelled(t, []float64{1, 1, 1, 1, 1, 1})
	h := newHarness(t, wf, batch.SimulatorConfig{Hosts: 4, CoreFlopRate: 1}, "zhang:plimit", false)

	_, err := h.c.Run(context.Background())
	require.ErrorIs(t, err, types.ErrConfiguration)
	assert.Contains(t, err.Error(), "level 0")
}

func TestRunHonorsContext(t *testing.T) {
	wf := levelled(t, []float64{10})
	h := newHarness(t, wf, batch.SimulatorConfig{Hosts: 1, CoreFlopRate: 1}, "hc-1-1", false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStrategiesCompleteWorkflows(t *testing.T) {
	specs := []string{
		"hc-1-1",
		"hc-3-2",
		"hc-vposterior-1-1",
		"hc-2-0",
		"dfjs-30-2",
		"dfjs-vposterior-40-0",
		"hrb-2-1",
		"one_job-0",
		"one_job-2",
		"one_job_per_task",
		"vc",
		"zhang:nooverlap",
		"zhang:overlap",
	}
	for _, spec := range specs {
		for _, overlap := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/overlap=%t", spec, overlap), func(t *testing.T) {
				wf := levelled(t,
					[]float64{30, 20},
					[]float64{10, 40, 25, 5},
					[]float64{15},
					[]float64{20, 20, 20},
				)
				h := newHarness(t, wf, batch.SimulatorConfig{
					Hosts:        3,
					CoreFlopRate: 1,
					Background: []batch.BackgroundJob{
						{Submit: 0, Nodes: 2, Duration: 35},
						{Submit: 50, Nodes: 3, Duration: 20},
					},
				}, spec, overlap)

				record, err := h.c.Run(context.Background())
				require.NoError(t, err)
				assert.True(t, wf.IsDone())
				assert.Empty(t, h.c.Placeholders().Active())
				assert.InDelta(t, wf.CompletionTime(), record.EndTime, 1e-9)
			})
		}
	}
}
