package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adcm_tasks_total",
			Help: "Number of tasks by status",
		},
		[]string{"status"},
	)

	TasksLaunched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adcm_tasks_launched_total",
			Help: "Total number of tasks handed to a queuer",
		},
	)

	TasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcm_tasks_finished_total",
			Help: "Total number of tasks reaching a terminal status",
		},
		[]string{"status"},
	)

	TasksBroken = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcm_tasks_broken_total",
			Help: "Total number of tasks marked broken by reason",
		},
		[]string{"reason"},
	)

	LaunchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcm_launch_failures_total",
			Help: "Total number of failed launch attempts by reason",
		},
		[]string{"reason"},
	)

	// Job metrics
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adcm_jobs_duration_seconds",
			Help:    "Job payload duration in seconds by final status",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"status"},
	)

	// Scheduler loop metrics
	LoopTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adcm_loop_tick_duration_seconds",
			Help:    "Scheduler loop tick duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"loop"},
	)

	LoopErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcm_loop_errors_total",
			Help: "Total number of scheduler loop tick errors",
		},
		[]string{"loop"},
	)

	LoopRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adcm_loop_restarts_total",
			Help: "Total number of loop processes restarted by the supervisor",
		},
		[]string{"loop"},
	)

	// Concern metrics
	ActiveLocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adcm_active_locks",
			Help: "Number of lock concerns currently held",
		},
	)

	OrphanLocksReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adcm_orphan_locks_released_total",
			Help: "Total number of lock concerns released without an owning task",
		},
	)

	// Worker metrics
	WorkerHeartbeats = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adcm_worker_heartbeats_total",
			Help: "Total number of heartbeats written by this worker",
		},
	)

	WorkersAlive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adcm_workers_alive",
			Help: "Number of distributed workers with a fresh heartbeat",
		},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksLaunched)
	prometheus.MustRegister(TasksFinished)
	prometheus.MustRegister(TasksBroken)
	prometheus.MustRegister(LaunchFailures)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(LoopTickDuration)
	prometheus.MustRegister(LoopErrors)
	prometheus.MustRegister(LoopRestarts)
	prometheus.MustRegister(ActiveLocks)
	prometheus.MustRegister(OrphanLocksReleased)
	prometheus.MustRegister(WorkerHeartbeats)
	prometheus.MustRegister(WorkersAlive)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed seconds on a histogram vec
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
