// Package metrics exposes verification and session metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

const namespace = "broker_auth"

// Metrics owns its registry so tests and multiple binaries never collide on the global one
type Metrics struct {
	registry *prometheus.Registry

	probeDuration *prometheus.HistogramVec
	probeStatus   *prometheus.GaugeVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	activeIssues  *prometheus.GaugeVec
	sessionOps    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "probe_duration_seconds",
			Help:      "Probe response time, last attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component", "probe"}),
		probeStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "probe_status",
			Help:      "Last probe status: 0 healthy, 1 degraded, 2 unhealthy.",
		}, []string{"component", "probe"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "runs_total",
			Help:      "Verification runs by overall status.",
		}, []string{"overall_status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a verification run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		activeIssues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "active_issues",
			Help:      "Issues detected in the last run, by severity.",
		}, []string{"severity"}),
		sessionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Broker session operations by outcome.",
		}, []string{"operation", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.probeDuration,
		m.probeStatus,
		m.runs,
		m.runDuration,
		m.activeIssues,
		m.sessionOps,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveProbe(res domain.HealthCheckResult) {
	labels := prometheus.Labels{"component": string(res.Component), "probe": res.Probe}
	m.probeDuration.With(labels).Observe(res.Metrics.ResponseTimeMs / 1000)
	m.probeStatus.With(labels).Set(statusValue(res.Status))
}

func (m *Metrics) ObserveRun(report *domain.VerificationReport) {
	m.runs.WithLabelValues(string(report.OverallStatus)).Inc()
	m.runDuration.Observe((time.Duration(report.DurationMs) * time.Millisecond).Seconds())

	counts := map[domain.Severity]float64{
		domain.SeverityCritical: 0,
		domain.SeverityHigh:     0,
		domain.SeverityMedium:   0,
		domain.SeverityLow:      0,
	}
	for _, issue := range report.Issues {
		counts[issue.Severity]++
	}
	for severity, n := range counts {
		m.activeIssues.WithLabelValues(string(severity)).Set(n)
	}
}

// SessionOperation counts one session operation, e.g. ("persist", "ok")
func (m *Metrics) SessionOperation(operation, outcome string) {
	m.sessionOps.WithLabelValues(operation, outcome).Inc()
}

func statusValue(s domain.HealthStatus) float64 {
	switch s {
	case domain.HealthStatusHealthy:
		return 0
	case domain.HealthStatusDegraded:
		return 1
	}
	return 2
}
