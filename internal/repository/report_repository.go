package repository

import (
	"context"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

// ReportRepository stores verification reports. Reports are never updated.
type ReportRepository interface {
	Append(ctx context.Context, report *domain.VerificationReport) error
	GetByID(ctx context.Context, id string) (*domain.VerificationReport, error)
	// List returns the newest reports first
	List(ctx context.Context, limit int) ([]*domain.VerificationReport, error)
}
