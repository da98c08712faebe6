package domain

import "time"

type Component string

const (
	ComponentDatabase Component = "database"
	ComponentBackend  Component = "backend"
	ComponentFrontend Component = "frontend"
)

// Components lists every component a verification run must cover, in report order
var Components = []Component{ComponentDatabase, ComponentBackend, ComponentFrontend}

func (c Component) Valid() bool {
	switch c {
	case ComponentDatabase, ComponentBackend, ComponentFrontend:
		return true
	}
	return false
}

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthMetrics are the measurements attached to a health check result.
// ErrorRate and Availability are fractions in [0, 1].
type HealthMetrics struct {
	ResponseTimeMs float64 `json:"responseTimeMs" yaml:"responseTimeMs"`
	ErrorRate      float64 `json:"errorRate" yaml:"errorRate"`
	Availability   float64 `json:"availability" yaml:"availability"`
}

// ProbeFailure carries the failure classification of a probe run.
// Only the orchestrator reads it, to decide on retries.
type ProbeFailure struct {
	Kind FailureKind
	Err  error
}

// Transient reports whether the failure is worth retrying
func (f *ProbeFailure) Transient() bool {
	if f == nil {
		return false
	}
	switch f.Kind {
	case FailureConnectivity, FailureTimeout, FailureServerError:
		return true
	}
	return false
}

// HealthCheckResult is produced fresh by each probe run and never mutated afterwards
type HealthCheckResult struct {
	Component  Component     `json:"component" yaml:"component"`
	Probe      string        `json:"probe,omitempty" yaml:"probe,omitempty"`
	Status     HealthStatus  `json:"status" yaml:"status"`
	Metrics    HealthMetrics `json:"metrics" yaml:"metrics"`
	ObservedAt time.Time     `json:"observedAt" yaml:"observedAt"`
	Attempts   int           `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Issues     []Issue       `json:"issues" yaml:"issues"`
	Failure    *ProbeFailure `json:"-" yaml:"-"`
}

// Failed reports whether the probe counts as failed for the majority rule
func (r HealthCheckResult) Failed() bool {
	return r.Status == HealthStatusUnhealthy
}

// VerificationResult is the outcome of one functional test case
type VerificationResult struct {
	Name           string    `json:"name" yaml:"name"`
	Category       Category  `json:"category" yaml:"category"`
	Passed         bool      `json:"passed" yaml:"passed"`
	ExpectedStatus int       `json:"expectedStatus" yaml:"expectedStatus"`
	ActualStatus   int       `json:"actualStatus" yaml:"actualStatus"`
	DurationMs     float64   `json:"durationMs" yaml:"durationMs"`
	Attempts       int       `json:"attempts" yaml:"attempts"`
	Error          string    `json:"error,omitempty" yaml:"error,omitempty"`
	ExecutedAt     time.Time `json:"executedAt" yaml:"executedAt"`
	Issues         []Issue   `json:"issues,omitempty" yaml:"issues,omitempty"`
}
