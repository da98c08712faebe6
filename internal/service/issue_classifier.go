package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/repository"
	"github.com/andressep95/broker-auth-service/internal/verification"
)

// IssueClassifier deduplicates issues across runs and keeps their history
type IssueClassifier struct {
	issues repository.IssueRepository
	logger *zap.Logger
}

func NewIssueClassifier(issues repository.IssueRepository, logger *zap.Logger) *IssueClassifier {
	return &IssueClassifier{issues: issues, logger: logger.Named("issue_classifier")}
}

// TestIssue builds the issue for a failed functional test. A structured error
// naming a field is graded by that field.
func TestIssue(tc verification.TestCase, out verification.Outcome, at time.Time) domain.Issue {
	kind := out.Kind
	if kind == "" {
		kind = domain.FailureTestFailed
	}
	severity := domain.SeverityFor(tc.Category, kind)
	if kind == domain.FailureTestFailed && out.Field != "" {
		severity = domain.SeverityForField(out.Field)
	}

	description := fmt.Sprintf("%s %s", tc.Method, tc.Path)
	if out.Err != nil {
		description += ": " + out.Err.Error()
	}
	return domain.NewIssue(tc.Category, severity, fmt.Sprintf("%s failed", tc.Name), description, at)
}

// Classify records the issues detected by one run. It returns the run's issues
// in their updated form, most severe first. Open issues that were not detected
// again are resolved.
func (c *IssueClassifier) Classify(ctx context.Context, runID string, detected []domain.Issue, at time.Time) ([]domain.Issue, error) {
	byID := make(map[string]domain.Issue, len(detected))
	var order []string
	for _, issue := range detected {
		prev, seen := byID[issue.ID]
		if !seen {
			order = append(order, issue.ID)
			byID[issue.ID] = issue
			continue
		}
		if issue.Severity.Rank() < prev.Severity.Rank() {
			prev.Severity = issue.Severity
			prev.Description = issue.Description
			byID[issue.ID] = prev
		}
	}

	current := make([]domain.Issue, 0, len(order))
	for _, id := range order {
		issue := byID[id]
		updated, err := c.record(ctx, runID, issue, at)
		if err != nil {
			return nil, err
		}
		current = append(current, updated)
	}

	if err := c.resolveMissing(ctx, byID, at); err != nil {
		return nil, err
	}

	sort.SliceStable(current, func(i, j int) bool {
		if current[i].Severity.Rank() != current[j].Severity.Rank() {
			return current[i].Severity.Rank() < current[j].Severity.Rank()
		}
		return categoryRank(current[i].Category) < categoryRank(current[j].Category)
	})
	return current, nil
}

func (c *IssueClassifier) record(ctx context.Context, runID string, issue domain.Issue, at time.Time) (domain.Issue, error) {
	existing, err := c.issues.Get(ctx, issue.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		issue.Status = domain.IssueStatusOpen
		issue.DetectedAt = at
		issue.FirstDetectedAt = at
		issue.Occurrences = 1
		issue.ResolvedAt = nil
	case err != nil:
		return domain.Issue{}, fmt.Errorf("failed to load issue %s: %w", issue.ID, err)
	default:
		next := *existing
		next.Severity = issue.Severity
		next.Description = issue.Description
		next.DetectedAt = at
		next.Occurrences++
		if next.Status == domain.IssueStatusResolved {
			next.Status = domain.IssueStatusOpen
			next.ResolvedAt = nil
			c.logger.Info("issue reopened", zap.String("issue_id", next.ID), zap.String("title", next.Title))
		}
		issue = next
	}

	if err := c.issues.AppendObservation(ctx, domain.IssueObservation{
		IssueID:     issue.ID,
		RunID:       runID,
		Severity:    issue.Severity,
		Description: issue.Description,
		ObservedAt:  at,
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := c.issues.Save(ctx, &issue); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

func (c *IssueClassifier) resolveMissing(ctx context.Context, detected map[string]domain.Issue, at time.Time) error {
	active, err := c.issues.List(ctx, repository.IssueFilter{
		Statuses: []domain.IssueStatus{domain.IssueStatusOpen, domain.IssueStatusInProgress},
	})
	if err != nil {
		return fmt.Errorf("failed to list active issues: %w", err)
	}

	for _, issue := range active {
		if _, ok := detected[issue.ID]; ok {
			continue
		}
		resolved := at
		issue.Status = domain.IssueStatusResolved
		issue.ResolvedAt = &resolved
		if err := c.issues.Save(ctx, issue); err != nil {
			return err
		}
		c.logger.Info("issue resolved", zap.String("issue_id", issue.ID), zap.String("title", issue.Title))
	}
	return nil
}

// UpdateStatus moves an issue through its workflow on behalf of an operator
func (c *IssueClassifier) UpdateStatus(ctx context.Context, id string, status domain.IssueStatus, at time.Time) (*domain.Issue, error) {
	if !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	issue, err := c.issues.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	issue.Status = status
	if status == domain.IssueStatusResolved {
		resolved := at
		issue.ResolvedAt = &resolved
	} else {
		issue.ResolvedAt = nil
	}
	if err := c.issues.Save(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// List returns issues matching the filter
func (c *IssueClassifier) List(ctx context.Context, filter repository.IssueFilter) ([]*domain.Issue, error) {
	return c.issues.List(ctx, filter)
}

func categoryRank(c domain.Category) int {
	for i, cat := range domain.Categories {
		if cat == c {
			return i
		}
	}
	return len(domain.Categories)
}
