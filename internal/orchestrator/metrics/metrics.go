// Package metrics provides Prometheus metrics collection for the
// orchestrator: queue depth, dispatch outcomes, robot health, and admin
// HTTP traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the orchestrator registers.
type Metrics struct {
	registerer prometheus.Registerer

	QueueDepth       *prometheus.GaugeVec
	JobsSubmitted    *prometheus.CounterVec
	JobsCompleted    *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	DispatchAttempts *prometheus.CounterVec
	DispatchLatency  prometheus.Histogram

	RobotsConnected  prometheus.Gauge
	RobotHealth      *prometheus.GaugeVec
	RobotUtilization *prometheus.GaugeVec

	RecoveryActions *prometheus.CounterVec

	AdminRequestsTotal   *prometheus.CounterVec
	AdminRequestDuration *prometheus.HistogramVec

	HostCPUPercent    prometheus.Gauge
	HostMemoryPercent prometheus.Gauge
}

// New creates a Metrics instance registered against the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// which may be a fresh prometheus.NewRegistry() in tests to avoid the
// "already registered" panic from repeated package-level New() calls.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orchestrator_queue_depth",
				Help: "Current number of jobs in each queue state",
			},
			[]string{"status"},
		),
		JobsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_jobs_submitted_total",
				Help: "Total number of jobs submitted",
			},
			[]string{"workflow_id"},
		),
		JobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_jobs_completed_total",
				Help: "Total number of jobs that completed successfully",
			},
			[]string{"workflow_id"},
		),
		JobsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_jobs_failed_total",
				Help: "Total number of jobs that ended in failure, cancellation or timeout",
			},
			[]string{"workflow_id", "reason"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_job_duration_seconds",
				Help:    "Job execution duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"workflow_id"},
		),
		DispatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_dispatch_attempts_total",
				Help: "Total number of job dispatch attempts by outcome",
			},
			[]string{"outcome"},
		),
		DispatchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_dispatch_latency_seconds",
				Help:    "Time from dispatch attempt to robot acceptance or rejection",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		RobotsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_robots_connected",
				Help: "Current number of connected robots",
			},
		),
		RobotHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orchestrator_robot_health",
				Help: "Current health status per robot (0=unknown,1=healthy,2=degraded,3=unhealthy)",
			},
			[]string{"robot_id"},
		),
		RobotUtilization: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orchestrator_robot_utilization_percent",
				Help: "Current job-slot utilization per robot",
			},
			[]string{"robot_id"},
		),
		RecoveryActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_recovery_actions_total",
				Help: "Total number of recovery actions taken, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		AdminRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_admin_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"path", "status"},
		),
		AdminRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_admin_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		HostCPUPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_host_cpu_percent",
				Help: "CPU utilization of the host running the orchestrator daemon",
			},
		),
		HostMemoryPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_host_memory_percent",
				Help: "Memory utilization of the host running the orchestrator daemon",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.QueueDepth,
			m.JobsSubmitted,
			m.JobsCompleted,
			m.JobsFailed,
			m.JobDuration,
			m.DispatchAttempts,
			m.DispatchLatency,
			m.RobotsConnected,
			m.RobotHealth,
			m.RobotUtilization,
			m.RecoveryActions,
			m.AdminRequestsTotal,
			m.AdminRequestDuration,
			m.HostCPUPercent,
			m.HostMemoryPercent,
		)
	}

	m.registerer = registerer
	return m
}

// Handler returns the HTTP handler that serves this instance's metrics in
// Prometheus exposition format, scoped to its own registry when one was
// supplied via NewWithRegistry.
func (m *Metrics) Handler() http.Handler {
	if g, ok := m.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// healthValue maps a health status name to the gauge encoding documented
// on RobotHealth's Help text.
func healthValue(status string) float64 {
	switch status {
	case "healthy":
		return 1
	case "degraded":
		return 2
	case "unhealthy":
		return 3
	default:
		return 0
	}
}

// RecordJobSubmitted increments the submitted counter for a workflow.
func (m *Metrics) RecordJobSubmitted(workflowID string) {
	m.JobsSubmitted.WithLabelValues(workflowID).Inc()
}

// RecordJobCompleted increments the completed counter and observes duration.
func (m *Metrics) RecordJobCompleted(workflowID string, duration time.Duration) {
	m.JobsCompleted.WithLabelValues(workflowID).Inc()
	m.JobDuration.WithLabelValues(workflowID).Observe(duration.Seconds())
}

// RecordJobFailed increments the failed counter for a workflow and reason.
func (m *Metrics) RecordJobFailed(workflowID, reason string) {
	m.JobsFailed.WithLabelValues(workflowID, reason).Inc()
}

// RecordDispatchAttempt increments the dispatch counter for an outcome
// (accepted, rejected, timeout, error) and observes latency.
func (m *Metrics) RecordDispatchAttempt(outcome string, latency time.Duration) {
	m.DispatchAttempts.WithLabelValues(outcome).Inc()
	m.DispatchLatency.Observe(latency.Seconds())
}

// SetQueueDepth sets the current gauge value for a job status bucket.
func (m *Metrics) SetQueueDepth(status string, depth int) {
	m.QueueDepth.WithLabelValues(status).Set(float64(depth))
}

// SetRobotHealth records a robot's current health status as a gauge.
func (m *Metrics) SetRobotHealth(robotID, status string) {
	m.RobotHealth.WithLabelValues(robotID).Set(healthValue(status))
}

// SetRobotUtilization records a robot's current utilization percentage.
func (m *Metrics) SetRobotUtilization(robotID string, percent float64) {
	m.RobotUtilization.WithLabelValues(robotID).Set(percent)
}

// RecordRecoveryAction increments the recovery counter for a kind/outcome pair.
func (m *Metrics) RecordRecoveryAction(kind, outcome string) {
	m.RecoveryActions.WithLabelValues(kind, outcome).Inc()
}

// RecordAdminRequest records an admin HTTP request's outcome and duration.
func (m *Metrics) RecordAdminRequest(path, status string, duration time.Duration) {
	m.AdminRequestsTotal.WithLabelValues(path, status).Inc()
	m.AdminRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// SetHostResourceUsage records the orchestrator daemon's own host CPU and
// memory utilization, independent of any robot-reported telemetry.
func (m *Metrics) SetHostResourceUsage(cpuPercent, memPercent float64) {
	m.HostCPUPercent.Set(cpuPercent)
	m.HostMemoryPercent.Set(memPercent)
}
