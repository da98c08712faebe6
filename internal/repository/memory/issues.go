package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/repository"
)

type issueRepository struct {
	mu           sync.RWMutex
	current      map[string]domain.Issue
	observations []domain.IssueObservation
}

func NewIssueRepository() repository.IssueRepository {
	return &issueRepository{current: make(map[string]domain.Issue)}
}

func (r *issueRepository) Get(_ context.Context, id string) (*domain.Issue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	issue, ok := r.current[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &issue, nil
}

func (r *issueRepository) List(_ context.Context, filter repository.IssueFilter) ([]*domain.Issue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Issue
	for _, issue := range r.current {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, issue.Status) {
			continue
		}
		if filter.Category != "" && issue.Category != filter.Category {
			continue
		}
		issue := issue
		out = append(out, &issue)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *issueRepository) Save(_ context.Context, issue *domain.Issue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current[issue.ID] = *issue
	return nil
}

func (r *issueRepository) AppendObservation(_ context.Context, obs domain.IssueObservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = append(r.observations, obs)
	return nil
}

func (r *issueRepository) Observations(_ context.Context, issueID string) ([]domain.IssueObservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.IssueObservation
	for _, obs := range r.observations {
		if obs.IssueID == issueID {
			out = append(out, obs)
		}
	}
	return out, nil
}
