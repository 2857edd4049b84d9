package service

import (
	"context"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"
	"hostel-payments/pkg/apperror"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	payments ports.PaymentRepository
}

// NewReportingService creates a new reporting service.
func NewReportingService(payments ports.PaymentRepository) ports.ReportingService {
	return &reportingService{payments: payments}
}

// GetPayment returns a payment together with its recorded refunds.
func (s *reportingService) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, []domain.Refund, error) {
	payment, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, nil, apperror.InternalError(err)
	}
	if payment == nil {
		return nil, nil, apperror.ErrNotFound("payment")
	}

	refunds, err := s.payments.ListRefunds(ctx, id)
	if err != nil {
		return nil, nil, apperror.InternalError(err)
	}
	return payment, refunds, nil
}

// ListPayments returns a paginated list of payments, newest first.
func (s *reportingService) ListPayments(ctx context.Context, params ports.PaymentListParams) ([]domain.Payment, int64, error) {
	if params.Status != nil && !params.Status.Valid() {
		return nil, 0, apperror.Validation("invalid status filter")
	}
	if params.From != nil && params.To != nil && !params.From.Before(*params.To) {
		return nil, 0, apperror.Validation("from must be before to")
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	payments, total, err := s.payments.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return payments, total, nil
}

// GetStats returns ledger totals for the optional [from, to) range.
func (s *reportingService) GetStats(ctx context.Context, from, to *time.Time) (*ports.LedgerStats, error) {
	if from != nil && to != nil && !from.Before(*to) {
		return nil, apperror.Validation("from must be before to")
	}
	stats, err := s.payments.GetStats(ctx, from, to)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return stats, nil
}
