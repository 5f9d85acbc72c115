// Package oracle adapts the batch service's start-time predictor into the
// single-question wait-time oracle the clustering strategies consume.
package oracle

import (
	"context"
	"fmt"

	"github.com/cuemby/pilot/pkg/batch"
	"github.com/cuemby/pilot/pkg/log"
	"github.com/cuemby/pilot/pkg/metrics"
	"github.com/cuemby/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// Estimator answers start-time queries for hypothetical jobs
type Estimator interface {
	EstimateStartTimes(jobs []batch.JobShape) (map[string]float64, error)
}

// Oracle predicts how long a reservation of a given shape would wait in the
// queue if it were submitted now
type Oracle struct {
	estimator Estimator
	seq       uint64
	logger    zerolog.Logger
}

// New creates an oracle backed by the estimator
func New(est Estimator) *Oracle {
	return &Oracle{
		estimator: est,
		logger:    log.WithComponent("oracle"),
	}
}

// Predict returns the predicted queue wait, in seconds, of a reservation of
// nodes single-core hosts held for runtime seconds. A negative or missing
// answer is an error wrapping types.ErrOracleFailure.
func (o *Oracle) Predict(ctx context.Context, nodes int, runtime float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	o.seq++
	id := fmt.Sprintf("tentative_job_%d", o.seq)
	predictions, err := o.estimator.EstimateStartTimes([]batch.JobShape{
		{ID: id, Nodes: nodes, CoresPerNode: 1, Walltime: runtime},
	})
	if err != nil {
		metrics.OracleQueries.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("%w: %s: %v", types.ErrOracleFailure, id, err)
	}

	wait, ok := predictions[id]
	if !ok || wait < 0 {
		metrics.OracleQueries.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("%w: no wait-time estimate for %d nodes x %.0fs", types.ErrOracleFailure, nodes, runtime)
	}

	metrics.OracleQueries.WithLabelValues("ok").Inc()
	o.logger.Debug().
		Str("query", id).
		Int("nodes", nodes).
		Float64("runtime", runtime).
		Float64("wait", wait).
		Msg("Wait-time prediction")
	return wait, nil
}

// Queries returns the number of predictions requested so far
func (o *Oracle) Queries() uint64 {
	return o.seq
}
