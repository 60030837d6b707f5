package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	tasksCreated prometheus.Counter
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runDuration  prometheus.Histogram

	proxyRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		tasksCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tasks_created_total",
				Help: "Total number of tasks created",
			},
		),
		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "task_runs_started_total",
				Help: "Total number of task runs started",
			},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_runs_finished_total",
				Help: "Total number of task runs finished",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "task_run_duration_seconds",
				Help:    "Wall time of the runner call per task run",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		proxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runner_proxy_requests_total",
				Help: "Total runner proxy requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
	}

	prometheus.MustRegister(
		m.tasksCreated,
		m.runsStarted,
		m.runsFinished,
		m.runDuration,
		m.proxyRequests,
	)

	return m
}

func (m *Metrics) runStarted() {
	if m != nil {
		m.runsStarted.Inc()
	}
}

func (m *Metrics) runFinished(d time.Duration, success bool) {
	if m == nil {
		return
	}
	outcome := "completed"
	if !success {
		outcome = "failed"
	}
	m.runsFinished.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// TaskCreated counts a successful task creation.
func (m *Metrics) TaskCreated() {
	if m != nil {
		m.tasksCreated.Inc()
	}
}

// ProxyRequest counts one runner proxy call.
func (m *Metrics) ProxyRequest(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.proxyRequests.WithLabelValues(operation, outcome).Inc()
}
