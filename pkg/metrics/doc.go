/*
Package metrics provides Prometheus metrics for pilot runs.

All metrics are package-level collectors registered with the default
Prometheus registry at init time. The CLI exposes them through Handler when
started with --metrics-addr, which makes a long simulation observable while
it runs.

# Metric Families

Placeholders:
  - pilot_placeholders_total{state}: active placeholders (pending, running)
  - pilot_placeholder_transitions_total{state}: transitions into each state
  - pilot_reservations_submitted_total{kind}: group, individual or restart
  - pilot_reservations_cancelled_total: cancellations by the restart protocol
  - pilot_ongoing_levels: levels with at least one active placeholder

Tasks:
  - pilot_tasks_dispatched_total: task jobs submitted into reservations
  - pilot_tasks_completed_total
  - pilot_tasks_failed_total: killed or failed task jobs

Clustering:
  - pilot_oracle_queries_total{result}: ok or failed wait-time predictions
  - pilot_decision_duration_seconds{strategy}: wall time of one decision
  - pilot_individual_mode: 1 once the ratio search gave up on grouping

Run:
  - pilot_workflow_makespan_seconds: simulated makespan of the last run

# Collector

Gauges that mirror placeholder bookkeeping are refreshed by Collector.
There is no background ticker: the controller is single threaded, so it calls
Collect itself after each dispatched event.

	collector := metrics.NewCollector(manager)
	collector.Collect()

# Timer

Timer measures the wall time of an operation and records it in a histogram:

	timer := metrics.NewTimer()
	decision, err := strategy.Decide(ctx, snapshot)
	timer.ObserveDurationVec(metrics.DecisionDuration, strategy.Name())
*/
package metrics
