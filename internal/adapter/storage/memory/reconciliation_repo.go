package memory

import (
	"context"
	"sync"

	"hostel-payments/internal/core/domain"

	"github.com/google/uuid"
)

// ReconciliationRepo implements ports.ReconciliationRepository in memory.
type ReconciliationRepo struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]domain.ReconciliationReport
}

func NewReconciliationRepo() *ReconciliationRepo {
	return &ReconciliationRepo{reports: make(map[uuid.UUID]domain.ReconciliationReport)}
}

func (r *ReconciliationRepo) Create(ctx context.Context, report *domain.ReconciliationReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *report
	stored.Discrepancies = append([]domain.Discrepancy(nil), report.Discrepancies...)
	r.reports[report.ID] = stored
	return nil
}

func (r *ReconciliationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconciliationReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.reports[id]
	if !ok {
		return nil, nil
	}
	return &report, nil
}
