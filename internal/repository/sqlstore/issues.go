package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/repository"
)

type issueRepository struct {
	db *sqlx.DB
}

// NewIssueRepository creates a SQL issue repository
func NewIssueRepository(db *sqlx.DB) repository.IssueRepository {
	return &issueRepository{db: db}
}

const issueColumns = `id, title, severity, category, description, status,
	detected_at, first_detected_at, resolved_at, occurrences`

// Get retrieves the current state of an issue
func (r *issueRepository) Get(ctx context.Context, id string) (*domain.Issue, error) {
	query := r.db.Rebind(`SELECT ` + issueColumns + ` FROM issues WHERE id = ?`)

	var issue domain.Issue
	if err := r.db.GetContext(ctx, &issue, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("issue %s: %w", id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return &issue, nil
}

// List retrieves issues by status and category, most recently detected first
func (r *issueRepository) List(ctx context.Context, filter repository.IssueFilter) ([]*domain.Issue, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(status))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}

	query := `SELECT ` + issueColumns + ` FROM issues`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY detected_at DESC, id`

	var issues []*domain.Issue
	if err := r.db.SelectContext(ctx, &issues, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}

// Save upserts the current state of an issue
func (r *issueRepository) Save(ctx context.Context, issue *domain.Issue) error {
	query := `
		INSERT INTO issues (` + issueColumns + `) VALUES (
			:id, :title, :severity, :category, :description, :status,
			:detected_at, :first_detected_at, :resolved_at, :occurrences
		)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			severity = excluded.severity,
			description = excluded.description,
			status = excluded.status,
			detected_at = excluded.detected_at,
			resolved_at = excluded.resolved_at,
			occurrences = excluded.occurrences`

	if _, err := r.db.NamedExecContext(ctx, query, issue); err != nil {
		return fmt.Errorf("failed to save issue: %w", err)
	}
	return nil
}

// AppendObservation inserts one sighting into the history log
func (r *issueRepository) AppendObservation(ctx context.Context, obs domain.IssueObservation) error {
	query := `
		INSERT INTO issue_observations (issue_id, run_id, severity, description, observed_at)
		VALUES (:issue_id, :run_id, :severity, :description, :observed_at)`

	if _, err := r.db.NamedExecContext(ctx, query, obs); err != nil {
		return fmt.Errorf("failed to append observation: %w", err)
	}
	return nil
}

// Observations returns the history of an issue, oldest first
func (r *issueRepository) Observations(ctx context.Context, issueID string) ([]domain.IssueObservation, error) {
	query := r.db.Rebind(`
		SELECT issue_id, run_id, severity, description, observed_at
		FROM issue_observations
		WHERE issue_id = ?
		ORDER BY observed_at`)

	var out []domain.IssueObservation
	if err := r.db.SelectContext(ctx, &out, query, issueID); err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	return out, nil
}
