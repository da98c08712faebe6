// Package probe checks one component of the authentication pipeline and reports
// the outcome as a domain.HealthCheckResult. Probes never retry; the orchestrator
// owns the retry policy.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

const (
	DefaultTimeout         = 5 * time.Second
	DefaultDegradedLatency = time.Second
)

// Probe is one health check against a component
type Probe interface {
	Name() string
	Component() domain.Component
	Run(ctx context.Context) domain.HealthCheckResult
}

type Options struct {
	Timeout         time.Duration
	DegradedLatency time.Duration
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.DegradedLatency <= 0 {
		o.DegradedLatency = DefaultDegradedLatency
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// StatusError is an HTTP response outside the expected range
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// base carries what every probe shares: identity, options and result building
type base struct {
	name      string
	component domain.Component
	opts      Options
}

func (b base) Name() string                { return b.name }
func (b base) Component() domain.Component { return b.component }

// run executes check under the probe timeout and turns its outcome into a result
func (b base) run(ctx context.Context, check func(ctx context.Context) error) domain.HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	elapsed := time.Since(start)

	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("%w after %s: %v", domain.ErrProbeTimeout, b.opts.Timeout, err)
	}
	return b.result(err, elapsed)
}

func (b base) result(err error, elapsed time.Duration) domain.HealthCheckResult {
	now := b.opts.Now().UTC()
	category := domain.CategoryOf(b.component)
	res := domain.HealthCheckResult{
		Component:  b.component,
		Probe:      b.name,
		Status:     domain.HealthStatusHealthy,
		Metrics:    domain.HealthMetrics{ResponseTimeMs: ms(elapsed), Availability: 1},
		ObservedAt: now,
		Issues:     []domain.Issue{},
	}

	if err == nil {
		if elapsed > b.opts.DegradedLatency {
			res.Status = domain.HealthStatusDegraded
			res.Failure = &domain.ProbeFailure{Kind: domain.FailureDegradedLatency}
			res.Issues = append(res.Issues, domain.NewIssue(category,
				domain.SeverityFor(category, domain.FailureDegradedLatency),
				fmt.Sprintf("%s response time degraded", b.name),
				fmt.Sprintf("responded in %s, above the %s threshold", elapsed.Round(time.Millisecond), b.opts.DegradedLatency),
				now))
		}
		return res
	}

	kind := Classify(err)
	res.Failure = &domain.ProbeFailure{Kind: kind, Err: err}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		// Reachable but wrong shape
		res.Status = domain.HealthStatusDegraded
		res.Metrics.ErrorRate = 1
		severity := domain.SeverityFor(category, domain.FailureValidationMismatch)
		if verr.Field != "" && domain.SeverityForField(verr.Field).Rank() < severity.Rank() {
			severity = domain.SeverityForField(verr.Field)
		}
		res.Issues = append(res.Issues, domain.NewIssue(category, severity,
			fmt.Sprintf("%s response failed validation", b.name), err.Error(), now))
		return res
	}

	res.Status = domain.HealthStatusUnhealthy
	res.Metrics.ErrorRate = 1
	res.Metrics.Availability = 0
	res.Issues = append(res.Issues, domain.NewIssue(category,
		domain.SeverityFor(category, kind), failureTitle(b.name, kind), err.Error(), now))
	return res
}

// Classify maps a probe error onto the failure taxonomy
func Classify(err error) domain.FailureKind {
	var (
		statusErr *StatusError
		verr      *domain.ValidationError
		netErr    net.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrProbeTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTimeout
	case errors.As(err, &statusErr):
		if statusErr.Code >= 500 {
			return domain.FailureServerError
		}
		return domain.FailureUnexpectedStatus
	case errors.As(err, &verr):
		return domain.FailureValidationMismatch
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.FailureTimeout
	}
	return domain.FailureConnectivity
}

func failureTitle(name string, kind domain.FailureKind) string {
	switch kind {
	case domain.FailureTimeout:
		return fmt.Sprintf("%s timed out", name)
	case domain.FailureServerError:
		return fmt.Sprintf("%s returned a server error", name)
	case domain.FailureUnexpectedStatus:
		return fmt.Sprintf("%s returned an unexpected status", name)
	}
	return fmt.Sprintf("%s unreachable", name)
}

// connectivity marks err as a reachability failure unless it is already classified
func connectivity(err error) error {
	if err == nil || errors.Is(err, domain.ErrProbeConnectivity) {
		return err
	}
	var (
		statusErr *StatusError
		verr      *domain.ValidationError
	)
	if errors.As(err, &statusErr) || errors.As(err, &verr) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrProbeConnectivity, err)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// TimedOut is the result recorded for a probe still running at the run deadline
func TimedOut(p Probe, deadline time.Duration, at time.Time) domain.HealthCheckResult {
	category := domain.CategoryOf(p.Component())
	err := fmt.Errorf("%w: did not finish before the %s run deadline", domain.ErrProbeTimeout, deadline)
	return domain.HealthCheckResult{
		Component:  p.Component(),
		Probe:      p.Name(),
		Status:     domain.HealthStatusUnhealthy,
		Metrics:    domain.HealthMetrics{ResponseTimeMs: ms(deadline), ErrorRate: 1},
		ObservedAt: at,
		Issues: []domain.Issue{domain.NewIssue(category,
			domain.SeverityFor(category, domain.FailureTimeout),
			failureTitle(p.Name(), domain.FailureTimeout), err.Error(), at)},
		Failure: &domain.ProbeFailure{Kind: domain.FailureTimeout, Err: err},
	}
}
