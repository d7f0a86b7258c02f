package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveRunsTotal is the number of runs currently owned by the
	// supervisor's active-run list.
	ActiveRunsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_active_runs",
			Help: "Number of runs currently in the active-run list",
		},
	)

	// RunsAcceptedTotal counts runs admitted from the database queue.
	RunsAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_runs_accepted_total",
			Help: "Total number of runs accepted from the database queue",
		},
	)

	// RunsRejectedTotal counts runs dropped before admission, by reason.
	RunsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_runs_rejected_total",
			Help: "Total number of runs rejected before admission, by reason",
		},
		[]string{"reason"},
	)

	// RunsTerminatedTotal counts runs reaching a terminal state, by status.
	RunsTerminatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_runs_terminated_total",
			Help: "Total number of runs reaching a terminal state, by status",
		},
		[]string{"status"},
	)

	// JobsCreatedTotal counts cluster jobs submitted, by job type.
	JobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_jobs_created_total",
			Help: "Total number of cluster jobs created, by job type",
		},
		[]string{"job_type"},
	)

	// JobsDeletedTotal counts cluster jobs deleted, by job type and mode.
	JobsDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_jobs_deleted_total",
			Help: "Total number of cluster jobs deleted, by job type and delete mode",
		},
		[]string{"job_type", "mode"},
	)

	// DBReconnectsTotal counts database reconnect attempts.
	DBReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_db_reconnects_total",
			Help: "Total number of database reconnect attempts",
		},
	)

	// TickDuration records how long one supervisor-loop iteration took.
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supervisor_tick_duration_seconds",
			Help:    "Time taken for one supervisor loop iteration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PollSleepSeconds reports the poll interval chosen for the next tick.
	PollSleepSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_poll_sleep_seconds",
			Help: "Poll interval, in seconds, chosen for the next loop iteration",
		},
	)

	// PausedState reports whether intake is currently paused (1) or not (0).
	PausedState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_paused",
			Help: "Whether the pause sentinel is currently present (1) or not (0)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ActiveRunsTotal,
		RunsAcceptedTotal,
		RunsRejectedTotal,
		RunsTerminatedTotal,
		JobsCreatedTotal,
		JobsDeletedTotal,
		DBReconnectsTotal,
		TickDuration,
		PollSleepSeconds,
		PausedState,
	)
}

// Handler returns the Prometheus HTTP handler, served on a private debug
// listener by cmd/supervisor — the core has no public HTTP API.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
