package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/repository"
)

type reportRepository struct {
	db *sqlx.DB
}

// NewReportRepository creates a SQL report repository. Reports are stored as
// JSON documents alongside the columns used for listing.
func NewReportRepository(db *sqlx.DB) repository.ReportRepository {
	return &reportRepository{db: db}
}

type reportRow struct {
	ID            string    `db:"id"`
	CreatedAt     time.Time `db:"created_at"`
	OverallStatus string    `db:"overall_status"`
	Body          string    `db:"body"`
}

func (r *reportRepository) Append(ctx context.Context, report *domain.VerificationReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	row := reportRow{
		ID:            report.ID,
		CreatedAt:     report.Timestamp.UTC(),
		OverallStatus: string(report.OverallStatus),
		Body:          string(body),
	}
	query := `
		INSERT INTO verification_reports (id, created_at, overall_status, body)
		VALUES (:id, :created_at, :overall_status, :body)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to append report: %w", err)
	}
	return nil
}

func (r *reportRepository) GetByID(ctx context.Context, id string) (*domain.VerificationReport, error) {
	query := r.db.Rebind(`SELECT id, created_at, overall_status, body FROM verification_reports WHERE id = ?`)

	var row reportRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("report %s: %w", id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return decodeReport(row)
}

func (r *reportRepository) List(ctx context.Context, limit int) ([]*domain.VerificationReport, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.Rebind(`
		SELECT id, created_at, overall_status, body
		FROM verification_reports
		ORDER BY created_at DESC
		LIMIT ?`)

	var rows []reportRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	reports := make([]*domain.VerificationReport, 0, len(rows))
	for _, row := range rows {
		report, err := decodeReport(row)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func decodeReport(row reportRow) (*domain.VerificationReport, error) {
	var report domain.VerificationReport
	if err := json.Unmarshal([]byte(row.Body), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", row.ID, err)
	}
	return &report, nil
}
