package domain

import "time"

type OverallStatus string

const (
	OverallStatusPass    OverallStatus = "pass"
	OverallStatusFail    OverallStatus = "fail"
	OverallStatusPartial OverallStatus = "partial"
)

type ReportSummary struct {
	TotalTests        int `json:"totalTests" yaml:"totalTests"`
	PassedTests       int `json:"passedTests" yaml:"passedTests"`
	FailedTests       int `json:"failedTests" yaml:"failedTests"`
	TotalProbes       int `json:"totalProbes" yaml:"totalProbes"`
	FailedProbes      int `json:"failedProbes" yaml:"failedProbes"`
	HealthyComponents int `json:"healthyComponents" yaml:"healthyComponents"`
	CriticalIssues    int `json:"criticalIssues" yaml:"criticalIssues"`
	HighIssues        int `json:"highIssues" yaml:"highIssues"`
	MediumIssues      int `json:"mediumIssues" yaml:"mediumIssues"`
	LowIssues         int `json:"lowIssues" yaml:"lowIssues"`
}

type ComponentResults struct {
	Database HealthCheckResult `json:"database" yaml:"database"`
	Backend  HealthCheckResult `json:"backend" yaml:"backend"`
	Frontend HealthCheckResult `json:"frontend" yaml:"frontend"`
}

// Get returns the aggregated result for a component
func (c ComponentResults) Get(component Component) HealthCheckResult {
	switch component {
	case ComponentDatabase:
		return c.Database
	case ComponentBackend:
		return c.Backend
	default:
		return c.Frontend
	}
}

// VerificationReport is an immutable snapshot of one orchestration run
type VerificationReport struct {
	ID              string               `json:"id" yaml:"id"`
	Timestamp       time.Time            `json:"timestamp" yaml:"timestamp"`
	DurationMs      float64              `json:"durationMs" yaml:"durationMs"`
	OverallStatus   OverallStatus        `json:"overallStatus" yaml:"overallStatus"`
	Summary         ReportSummary        `json:"summary" yaml:"summary"`
	Components      ComponentResults     `json:"components" yaml:"components"`
	ProbeResults    []HealthCheckResult  `json:"probeResults" yaml:"probeResults"`
	TestResults     []VerificationResult `json:"testResults" yaml:"testResults"`
	Issues          []Issue              `json:"issues" yaml:"issues"`
	Recommendations []string             `json:"recommendations" yaml:"recommendations"`
}
