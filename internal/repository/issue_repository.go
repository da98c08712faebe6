package repository

import (
	"context"
	"errors"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

var ErrNotFound = errors.New("not found")

type IssueFilter struct {
	Statuses []domain.IssueStatus
	Category domain.Category
}

// IssueRepository keeps the current status index of issues plus the
// append-only log of observations behind it.
type IssueRepository interface {
	// Get returns the current state of an issue or ErrNotFound
	Get(ctx context.Context, id string) (*domain.Issue, error)

	// List returns issues matching the filter, most recently detected first
	List(ctx context.Context, filter IssueFilter) ([]*domain.Issue, error)

	// Save inserts or replaces the current state of an issue
	Save(ctx context.Context, issue *domain.Issue) error

	// AppendObservation records one immutable sighting
	AppendObservation(ctx context.Context, obs domain.IssueObservation) error

	// Observations returns the sightings of an issue, oldest first
	Observations(ctx context.Context, issueID string) ([]domain.IssueObservation, error)
}
