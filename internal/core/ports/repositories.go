package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"hostel-payments/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrDuplicateIdempotencyKey is returned by PaymentRepository.Create when a
// non-FAILED payment already holds the (payer, key) pair.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// PaymentRepository is the ledger store. Lookups return (nil, nil) when no
// row matches. Every transition is a single conditional update and reports
// whether it changed the row.
type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error)
	// GetByIdempotencyKey returns the live (non-FAILED) payment for the pair.
	GetByIdempotencyKey(ctx context.Context, payerID, key string) (*domain.Payment, error)

	MarkSuccess(ctx context.Context, id uuid.UUID, details domain.CaptureDetails) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, details domain.FailureDetails) (bool, error)
	// ClaimRefund moves SUCCESS or PARTIALLY_REFUNDED to REFUND_PENDING.
	ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error)
	// ReleaseRefund returns a REFUND_PENDING claim to the status implied by
	// the refunded amount.
	ReleaseRefund(ctx context.Context, id uuid.UUID) (bool, error)
	// ApplyRefund records refund and accumulates it onto the payment. A
	// refund id that was already applied is a no-op.
	ApplyRefund(ctx context.Context, refund *domain.Refund) (bool, error)
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]domain.Refund, error)
	// ListStaleRefundClaims returns REFUND_PENDING payments last updated
	// before the cutoff.
	ListStaleRefundClaims(ctx context.Context, before time.Time) ([]domain.Payment, error)

	// StreamSettled calls fn for every SUCCESS or refund-state payment whose
	// paid_at falls in [from, to). Rows are not buffered.
	StreamSettled(ctx context.Context, from, to time.Time, fn func(*domain.Payment) error) error

	List(ctx context.Context, params PaymentListParams) ([]domain.Payment, int64, error)
	GetStats(ctx context.Context, from, to *time.Time) (*LedgerStats, error)
}

// PaymentListParams holds filter + pagination for listing payments.
type PaymentListParams struct {
	PayerID  string
	Status   *domain.PaymentStatus
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// LedgerStats holds aggregated ledger statistics.
type LedgerStats struct {
	TotalPayments     int64           `json:"total_payments"`
	Initiated         int64           `json:"initiated"`
	Successful        int64           `json:"successful"`
	Failed            int64           `json:"failed"`
	RefundPending     int64           `json:"refund_pending"`
	PartiallyRefunded int64           `json:"partially_refunded"`
	Refunded          int64           `json:"refunded"`
	TotalCollected    decimal.Decimal `json:"total_collected"`
	TotalRefunded     decimal.Decimal `json:"total_refunded"`
}

// ReconciliationRepository persists reconciliation reports.
type ReconciliationRepository interface {
	Create(ctx context.Context, report *domain.ReconciliationReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconciliationReport, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]domain.AuditLog, error)
}

// HookDeliveryRepository records outbound hook attempts.
type HookDeliveryRepository interface {
	Create(ctx context.Context, delivery *domain.HookDelivery) error
	UpdateAttempt(ctx context.Context, id uuid.UUID, status domain.HookStatus, attempt int, httpStatus *int, lastError *string) error
}
