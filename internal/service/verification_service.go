package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/probe"
	"github.com/andressep95/broker-auth-service/internal/repository"
	"github.com/andressep95/broker-auth-service/internal/verification"
	"github.com/andressep95/broker-auth-service/pkg/metrics"
)

type VerificationOptions struct {
	// Deadline bounds the whole run; unfinished work is recorded as timed out
	Deadline       time.Duration
	MaxRetries     uint64
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// Parallelism caps concurrent probes and tests; zero means unlimited
	Parallelism int
	HTTPClient  *http.Client
	Now         func() time.Time
}

// VerificationService runs verification plans: probes and functional tests in
// parallel, then issue classification, report generation and persistence.
type VerificationService struct {
	classifier *IssueClassifier
	generator  *ReportGenerator
	reports    repository.ReportRepository
	metrics    *metrics.Metrics
	notifier   ReportNotifier
	opts       VerificationOptions
	logger     *zap.Logger
}

func NewVerificationService(
	classifier *IssueClassifier,
	generator *ReportGenerator,
	reports repository.ReportRepository,
	m *metrics.Metrics,
	notifier ReportNotifier,
	logger *zap.Logger,
	opts VerificationOptions,
) *VerificationService {
	if opts.Deadline <= 0 {
		opts.Deadline = 60 * time.Second
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 5 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &VerificationService{
		classifier: classifier,
		generator:  generator,
		reports:    reports,
		metrics:    m,
		notifier:   notifier,
		opts:       opts,
		logger:     logger.Named("verification"),
	}
}

// slots collects results by submission index. Once sealed, late writers are ignored.
type slots struct {
	mu     sync.Mutex
	sealed bool
	probes []*domain.HealthCheckResult
	tests  []*domain.VerificationResult
}

func (s *slots) setProbe(i int, res domain.HealthCheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sealed {
		s.probes[i] = &res
	}
}

func (s *slots) setTest(i int, res domain.VerificationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sealed {
		s.tests[i] = &res
	}
}

// Run executes the plan and returns the persisted report. Only an invalid plan
// or a storage failure is an error; everything a probe or test finds is a result.
func (s *VerificationService) Run(ctx context.Context, plan *verification.Plan) (*domain.VerificationReport, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	started := s.opts.Now().UTC()
	log := s.logger.With(zap.String("run_id", runID))
	log.Info("verification started",
		zap.Int("probes", len(plan.Probes)),
		zap.Int("tests", len(plan.Tests)),
		zap.Duration("deadline", s.opts.Deadline))

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Deadline)
	defer cancel()

	results := &slots{
		probes: make([]*domain.HealthCheckResult, len(plan.Probes)),
		tests:  make([]*domain.VerificationResult, len(plan.Tests)),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		g := new(errgroup.Group)
		if s.opts.Parallelism > 0 {
			g.SetLimit(s.opts.Parallelism)
		}
		for i, p := range plan.Probes {
			i, p := i, p
			g.Go(func() error {
				results.setProbe(i, s.runProbe(runCtx, p))
				return nil
			})
		}
		for i, tc := range plan.Tests {
			i, tc := i, tc
			g.Go(func() error {
				results.setTest(i, s.runTest(runCtx, tc, plan.BackendURL))
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		log.Warn("verification deadline reached, abandoning unfinished checks", zap.Error(runCtx.Err()))
	}

	results.mu.Lock()
	results.sealed = true
	at := s.opts.Now().UTC()
	probeResults := make([]domain.HealthCheckResult, len(plan.Probes))
	for i, p := range plan.Probes {
		if res := results.probes[i]; res != nil {
			probeResults[i] = *res
		} else {
			probeResults[i] = probe.TimedOut(p, s.opts.Deadline, at)
		}
	}
	testResults := make([]domain.VerificationResult, len(plan.Tests))
	for i, tc := range plan.Tests {
		if res := results.tests[i]; res != nil {
			testResults[i] = *res
		} else {
			testResults[i] = s.testTimedOut(tc, at)
		}
	}
	results.mu.Unlock()

	components := domain.ComponentResults{
		Database: Aggregate(domain.ComponentDatabase, probeResults, at),
		Backend:  Aggregate(domain.ComponentBackend, probeResults, at),
		Frontend: Aggregate(domain.ComponentFrontend, probeResults, at),
	}

	var detected []domain.Issue
	for _, res := range probeResults {
		detected = append(detected, res.Issues...)
	}
	for _, tr := range testResults {
		detected = append(detected, tr.Issues...)
	}

	// Storage work must finish even when the run deadline has passed
	storeCtx := context.WithoutCancel(ctx)
	issues, err := s.classifier.Classify(storeCtx, runID, detected, at)
	if err != nil {
		return nil, fmt.Errorf("failed to classify issues: %w", err)
	}

	report := s.generator.Generate(RunResults{
		ID:           runID,
		StartedAt:    started,
		Duration:     s.opts.Now().Sub(started),
		Components:   components,
		ProbeResults: probeResults,
		TestResults:  testResults,
		Issues:       issues,
	})

	if err := s.reports.Append(storeCtx, report); err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	if s.metrics != nil {
		for _, res := range probeResults {
			s.metrics.ObserveProbe(res)
		}
		s.metrics.ObserveRun(report)
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(storeCtx, report); err != nil {
			log.Error("failed to send report notification", zap.Error(err))
		}
	}

	log.Info("verification finished",
		zap.String("overall_status", string(report.OverallStatus)),
		zap.Int("issues", len(report.Issues)),
		zap.Float64("duration_ms", report.DurationMs))
	return report, nil
}

// Reports lists stored reports, newest first
func (s *VerificationService) Reports(ctx context.Context, limit int) ([]*domain.VerificationReport, error) {
	return s.reports.List(ctx, limit)
}

func (s *VerificationService) Report(ctx context.Context, id string) (*domain.VerificationReport, error) {
	return s.reports.GetByID(ctx, id)
}

func (s *VerificationService) backoff() retry.Backoff {
	b := retry.NewExponential(s.opts.RetryBaseDelay)
	b = retry.WithMaxRetries(s.opts.MaxRetries, b)
	return retry.WithCappedDuration(s.opts.RetryMaxDelay, b)
}

func (s *VerificationService) runProbe(ctx context.Context, p probe.Probe) domain.HealthCheckResult {
	var (
		res      domain.HealthCheckResult
		attempts int
	)
	_ = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempts++
		res = p.Run(ctx)
		if res.Failure.Transient() {
			s.logger.Debug("probe failed, will retry",
				zap.String("probe", p.Name()),
				zap.Int("attempt", attempts),
				zap.String("kind", string(res.Failure.Kind)))
			return retry.RetryableError(res.Failure.Err)
		}
		return nil
	})
	if attempts == 0 {
		// started after the deadline
		return probe.TimedOut(p, s.opts.Deadline, s.opts.Now().UTC())
	}
	res.Attempts = attempts
	return res
}

func (s *VerificationService) runTest(ctx context.Context, tc verification.TestCase, baseURL string) domain.VerificationResult {
	var (
		out      verification.Outcome
		attempts int
	)
	executedAt := s.opts.Now().UTC()
	_ = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempts++
		out = tc.Execute(ctx, s.opts.HTTPClient, baseURL)
		if out.Transient() {
			return retry.RetryableError(out.Err)
		}
		return nil
	})
	if attempts == 0 {
		return s.testTimedOut(tc, executedAt)
	}

	result := domain.VerificationResult{
		Name:           tc.Name,
		Category:       tc.Category,
		Passed:         out.Passed,
		ExpectedStatus: tc.ExpectStatus,
		ActualStatus:   out.Status,
		DurationMs:     float64(out.Duration) / float64(time.Millisecond),
		Attempts:       attempts,
		ExecutedAt:     executedAt,
	}
	if !out.Passed {
		if out.Err != nil {
			result.Error = out.Err.Error()
		}
		result.Issues = []domain.Issue{TestIssue(tc, out, executedAt)}
	}
	return result
}

func (s *VerificationService) testTimedOut(tc verification.TestCase, at time.Time) domain.VerificationResult {
	out := verification.Outcome{
		Kind: domain.FailureTimeout,
		Err:  fmt.Errorf("%w: did not finish before the %s run deadline", domain.ErrProbeTimeout, s.opts.Deadline),
	}
	return domain.VerificationResult{
		Name:           tc.Name,
		Category:       tc.Category,
		ExpectedStatus: tc.ExpectStatus,
		Error:          out.Err.Error(),
		ExecutedAt:     at,
		Issues:         []domain.Issue{TestIssue(tc, out, at)},
	}
}

// Aggregate folds the probe results of one component. More than half failed
// is unhealthy; any failure or degradation short of that is degraded.
func Aggregate(component domain.Component, results []domain.HealthCheckResult, at time.Time) domain.HealthCheckResult {
	agg := domain.HealthCheckResult{
		Component:  component,
		Status:     domain.HealthStatusHealthy,
		ObservedAt: at,
		Issues:     []domain.Issue{},
	}

	var total, failed, degraded int
	for _, res := range results {
		if res.Component != component {
			continue
		}
		total++
		switch {
		case res.Failed():
			failed++
		case res.Status == domain.HealthStatusDegraded:
			degraded++
		}
		agg.Metrics.ResponseTimeMs += res.Metrics.ResponseTimeMs
		agg.Metrics.ErrorRate += res.Metrics.ErrorRate
		agg.Metrics.Availability += res.Metrics.Availability
		agg.Issues = append(agg.Issues, res.Issues...)
	}
	if total == 0 {
		return agg
	}

	n := float64(total)
	agg.Metrics.ResponseTimeMs /= n
	agg.Metrics.ErrorRate /= n
	agg.Metrics.Availability /= n

	switch {
	case failed*2 > total:
		agg.Status = domain.HealthStatusUnhealthy
	case failed > 0 || degraded > 0:
		agg.Status = domain.HealthStatusDegraded
	}
	return agg
}
