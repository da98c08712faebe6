package memory

import (
	"context"
	"sync"

	"github.com/andressep95/broker-auth-service/internal/domain"
	"github.com/andressep95/broker-auth-service/internal/repository"
)

type reportRepository struct {
	mu      sync.RWMutex
	reports []*domain.VerificationReport
}

func NewReportRepository() repository.ReportRepository {
	return &reportRepository{}
}

func (r *reportRepository) Append(_ context.Context, report *domain.VerificationReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *reportRepository) GetByID(_ context.Context, id string) (*domain.VerificationReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, report := range r.reports {
		if report.ID == id {
			return report, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *reportRepository) List(_ context.Context, limit int) ([]*domain.VerificationReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.VerificationReport, 0, len(r.reports))
	for i := len(r.reports) - 1; i >= 0; i-- {
		out = append(out, r.reports[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
