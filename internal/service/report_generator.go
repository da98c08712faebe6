package service

import (
	"strings"
	"time"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

// recommendations per category, emitted in category order
var recommendations = map[domain.Category]string{
	domain.CategoryDatabase:    "Check session storage connectivity and credentials; broker sessions cannot be persisted or restored until it is reachable.",
	domain.CategoryBackend:     "Inspect backend logs for the failing endpoints and confirm the OAuth setup and callback routes respond with the documented shapes.",
	domain.CategoryFrontend:    "Confirm the frontend build is deployed and the broker login entry points are present on the served page.",
	domain.CategoryIntegration: "Run the OAuth flow end to end; session fields may not survive the storage to consumption transform.",
}

const (
	recommendCritical = "Resolve critical issues before promoting this deployment."
	recommendLatency  = "Investigate slow components; response times exceed the degraded threshold."
)

// RunResults is everything a run produced, ready for reporting
type RunResults struct {
	ID           string
	StartedAt    time.Time
	Duration     time.Duration
	Components   domain.ComponentResults
	ProbeResults []domain.HealthCheckResult
	TestResults  []domain.VerificationResult
	Issues       []domain.Issue
}

type ReportGenerator struct{}

func NewReportGenerator() *ReportGenerator {
	return &ReportGenerator{}
}

// Generate builds the immutable report for a run
func (g *ReportGenerator) Generate(run RunResults) *domain.VerificationReport {
	report := &domain.VerificationReport{
		ID:              run.ID,
		Timestamp:       run.StartedAt.UTC(),
		DurationMs:      float64(run.Duration) / float64(time.Millisecond),
		Components:      run.Components,
		ProbeResults:    nonNil(run.ProbeResults),
		TestResults:     nonNil(run.TestResults),
		Issues:          nonNil(run.Issues),
		Recommendations: g.Recommend(run),
	}
	report.Summary = summarize(run)
	report.OverallStatus = Verdict(run.Components, run.Issues)
	return report
}

// Verdict is fail on any critical issue or unhealthy component, pass with no
// critical or high issues and every component healthy, partial otherwise
func Verdict(components domain.ComponentResults, issues []domain.Issue) domain.OverallStatus {
	var critical, high int
	for _, issue := range issues {
		switch issue.Severity {
		case domain.SeverityCritical:
			critical++
		case domain.SeverityHigh:
			high++
		}
	}

	allHealthy := true
	for _, c := range domain.Components {
		switch components.Get(c).Status {
		case domain.HealthStatusUnhealthy:
			return domain.OverallStatusFail
		case domain.HealthStatusHealthy:
		default:
			allHealthy = false
		}
	}

	switch {
	case critical > 0:
		return domain.OverallStatusFail
	case high == 0 && allHealthy:
		return domain.OverallStatusPass
	}
	return domain.OverallStatusPartial
}

// Recommend derives recommendations from a fixed rule set. The output depends
// only on the set of issue categories and failed tests, never on map order.
func (g *ReportGenerator) Recommend(run RunResults) []string {
	categories := make(map[domain.Category]bool)
	var critical, slow bool
	for _, issue := range run.Issues {
		if issue.Status == domain.IssueStatusResolved {
			continue
		}
		categories[issue.Category] = true
		if issue.Severity == domain.SeverityCritical {
			critical = true
		}
	}
	var failed []string
	for _, tr := range run.TestResults {
		if !tr.Passed {
			categories[tr.Category] = true
			failed = append(failed, tr.Name)
		}
	}
	for _, res := range run.ProbeResults {
		if res.Failure != nil && res.Failure.Kind == domain.FailureDegradedLatency {
			slow = true
		}
	}

	out := []string{}
	if critical {
		out = append(out, recommendCritical)
	}
	for _, c := range domain.Categories {
		if categories[c] {
			out = append(out, recommendations[c])
		}
	}
	if slow {
		out = append(out, recommendLatency)
	}
	if len(failed) > 0 {
		out = append(out, "Re-run the failed functional tests after fixing: "+strings.Join(failed, ", ")+".")
	}
	return out
}

func summarize(run RunResults) domain.ReportSummary {
	var s domain.ReportSummary

	s.TotalTests = len(run.TestResults)
	for _, tr := range run.TestResults {
		if tr.Passed {
			s.PassedTests++
		} else {
			s.FailedTests++
		}
	}

	s.TotalProbes = len(run.ProbeResults)
	for _, res := range run.ProbeResults {
		if res.Failed() {
			s.FailedProbes++
		}
	}

	for _, c := range domain.Components {
		if run.Components.Get(c).Status == domain.HealthStatusHealthy {
			s.HealthyComponents++
		}
	}

	for _, issue := range run.Issues {
		switch issue.Severity {
		case domain.SeverityCritical:
			s.CriticalIssues++
		case domain.SeverityHigh:
			s.HighIssues++
		case domain.SeverityMedium:
			s.MediumIssues++
		default:
			s.LowIssues++
		}
	}
	return s
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
