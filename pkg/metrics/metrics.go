package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Placeholder metrics
	PlaceholdersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pilot_placeholders_total",
			Help: "Number of active placeholder jobs by state",
		},
		[]string{"state"},
	)

	PlaceholderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pilot_placeholder_transitions_total",
			Help: "Total number of placeholder state transitions by target state",
		},
		[]string{"state"},
	)

	ReservationsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pilot_reservations_submitted_total",
			Help: "Total number of reservations submitted by kind (group, individual, restart)",
		},
		[]string{"kind"},
	)

	ReservationsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pilot_reservations_cancelled_total",
			Help: "Total number of reservations cancelled by the restart protocol",
		},
	)

	OngoingLevels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pilot_ongoing_levels",
			Help: "Number of workflow levels with active placeholders",
		},
	)

	// Task metrics
	TasksDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pilot_tasks_dispatched_total",
			Help: "Total number of task jobs submitted into reservations",
		},
	)

	TasksCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pilot_tasks_completed_total",
			Help: "Total number of completed tasks",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pilot_tasks_failed_total",
			Help: "Total number of failed or killed task jobs",
		},
	)

	// Clustering metrics
	OracleQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pilot_oracle_queries_total",
			Help: "Total number of wait-time oracle queries by result",
		},
		[]string{"result"},
	)

	DecisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pilot_decision_duration_seconds",
			Help:    "Time taken by a clustering decision in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	IndividualMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pilot_individual_mode",
			Help: "Whether the controller has switched to individual mode (1 = engaged)",
		},
	)

	// Run metrics
	WorkflowMakespan = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pilot_workflow_makespan_seconds",
			Help: "Makespan of the last completed workflow run in simulated seconds",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PlaceholdersTotal)
	prometheus.MustRegister(PlaceholderTransitions)
	prometheus.MustRegister(ReservationsSubmitted)
	prometheus.MustRegister(ReservationsCancelled)
	prometheus.MustRegister(OngoingLevels)
	prometheus.MustRegister(TasksDispatched)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(OracleQueries)
	prometheus.MustRegister(DecisionDuration)
	prometheus.MustRegister(IndividualMode)
	prometheus.MustRegister(WorkflowMakespan)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
