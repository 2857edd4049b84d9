// Package memory is a mutex-guarded ledger used for local development
// (storage.driver=memory) and service-level tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRepo implements ports.PaymentRepository in memory.
type PaymentRepo struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]*domain.Payment
	refunds  map[string]domain.Refund // by gateway refund id
}

// NewPaymentRepo creates an empty in-memory ledger.
func NewPaymentRepo() *PaymentRepo {
	return &PaymentRepo{
		payments: make(map[uuid.UUID]*domain.Payment),
		refunds:  make(map[string]domain.Refund),
	}
}

func clonePayment(p *domain.Payment) *domain.Payment {
	c := *p
	if p.FeeBreakdown != nil {
		c.FeeBreakdown = append([]domain.FeeItem(nil), p.FeeBreakdown...)
	}
	if p.RawGatewayResponse != nil {
		c.RawGatewayResponse = append([]byte(nil), p.RawGatewayResponse...)
	}
	return &c
}

// Create inserts a payment, enforcing the same uniqueness rules as the
// Postgres schema.
func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.payments {
		if existing.OrderID == p.OrderID {
			return fmt.Errorf("order id %s already recorded", p.OrderID)
		}
		if existing.PayerID == p.PayerID &&
			existing.IdempotencyKey == p.IdempotencyKey &&
			existing.Status != domain.PaymentStatusFailed {
			return ports.ErrDuplicateIdempotencyKey
		}
	}
	r.payments[p.ID] = clonePayment(p)
	return nil
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return clonePayment(p), nil
}

func (r *PaymentRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.find(func(p *domain.Payment) bool { return p.OrderID == orderID }), nil
}

func (r *PaymentRepo) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	return r.find(func(p *domain.Payment) bool {
		return p.GatewayPaymentID != nil && *p.GatewayPaymentID == gatewayPaymentID
	}), nil
}

func (r *PaymentRepo) GetByIdempotencyKey(ctx context.Context, payerID, key string) (*domain.Payment, error) {
	return r.find(func(p *domain.Payment) bool {
		return p.PayerID == payerID && p.IdempotencyKey == key && p.Status != domain.PaymentStatusFailed
	}), nil
}

func (r *PaymentRepo) find(match func(*domain.Payment) bool) *domain.Payment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payments {
		if match(p) {
			return clonePayment(p)
		}
	}
	return nil
}

// MarkSuccess applies INITIATED -> SUCCESS.
func (r *PaymentRepo) MarkSuccess(ctx context.Context, id uuid.UUID, d domain.CaptureDetails) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok || !p.Status.In(domain.CapturePredecessors) {
		return false, nil
	}
	for otherID, other := range r.payments {
		if otherID != id && other.GatewayPaymentID != nil && *other.GatewayPaymentID == d.GatewayPaymentID {
			return false, fmt.Errorf("gateway payment id %s already recorded", d.GatewayPaymentID)
		}
	}

	gw, method, paidAt := d.GatewayPaymentID, d.Method, d.PaidAt
	p.Status = domain.PaymentStatusSuccess
	p.GatewayPaymentID = &gw
	if method != "" {
		p.PaymentMethod = &method
	}
	p.PaidAt = &paidAt
	p.RawGatewayResponse = append([]byte(nil), d.Raw...)
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarkFailed applies INITIATED -> FAILED.
func (r *PaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID, d domain.FailureDetails) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok || !p.Status.In(domain.FailurePredecessors) {
		return false, nil
	}
	if d.GatewayPaymentID != "" && p.GatewayPaymentID == nil {
		for otherID, other := range r.payments {
			if otherID != id && other.GatewayPaymentID != nil && *other.GatewayPaymentID == d.GatewayPaymentID {
				return false, fmt.Errorf("gateway payment id %s already recorded", d.GatewayPaymentID)
			}
		}
		gw := d.GatewayPaymentID
		p.GatewayPaymentID = &gw
	}
	reason := d.Reason
	p.Status = domain.PaymentStatusFailed
	p.FailureReason = &reason
	if d.Raw != nil {
		p.RawGatewayResponse = append([]byte(nil), d.Raw...)
	}
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ClaimRefund applies SUCCESS|PARTIALLY_REFUNDED -> REFUND_PENDING.
func (r *PaymentRepo) ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok || !p.Status.In(domain.RefundClaimPredecessors) {
		return false, nil
	}
	p.Status = domain.PaymentStatusRefundPending
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ReleaseRefund returns a REFUND_PENDING claim to its prior status.
func (r *PaymentRepo) ReleaseRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok || p.Status != domain.PaymentStatusRefundPending {
		return false, nil
	}
	p.Status = p.ReleasedStatus()
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ApplyRefund records the refund once per gateway refund id.
func (r *PaymentRepo) ApplyRefund(ctx context.Context, refund *domain.Refund) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.refunds[refund.GatewayRefundID]; seen {
		return false, nil
	}
	p, ok := r.payments[refund.PaymentID]
	if !ok || !p.Status.In(domain.RefundApplyPredecessors) {
		return false, nil
	}
	total := p.RefundedAmount.Add(refund.Amount)
	if total.GreaterThan(p.Amount) {
		return false, nil
	}

	now := time.Now().UTC()
	rid := refund.GatewayRefundID

	p.RefundedAmount = total
	p.Status = p.StatusAfterRefund(total)
	p.LastRefundID = &rid
	if p.RefundedAt == nil {
		refundedAt := now
		if refund.ProcessedAt != nil {
			refundedAt = *refund.ProcessedAt
		}
		p.RefundedAt = &refundedAt
	}
	p.UpdatedAt = now

	stored := *refund
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	r.refunds[rid] = stored
	return true, nil
}

func (r *PaymentRepo) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]domain.Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Refund
	for _, rf := range r.refunds {
		if rf.PaymentID == paymentID {
			out = append(out, rf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// StreamSettled snapshots matching payments then calls fn outside the lock.
func (r *PaymentRepo) StreamSettled(ctx context.Context, from, to time.Time, fn func(*domain.Payment) error) error {
	r.mu.RLock()
	var batch []*domain.Payment
	for _, p := range r.payments {
		if !p.Status.In(domain.SettledStatuses) || p.PaidAt == nil {
			continue
		}
		if p.PaidAt.Before(from) || !p.PaidAt.Before(to) {
			continue
		}
		batch = append(batch, clonePayment(p))
	}
	r.mu.RUnlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].PaidAt.Before(*batch[j].PaidAt) })
	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// ListStaleRefundClaims returns REFUND_PENDING payments last touched before
// the cutoff.
func (r *PaymentRepo) ListStaleRefundClaims(ctx context.Context, before time.Time) ([]domain.Payment, error) {
	r.mu.RLock()
	var stale []domain.Payment
	for _, p := range r.payments {
		if p.Status == domain.PaymentStatusRefundPending && p.UpdatedAt.Before(before) {
			stale = append(stale, *clonePayment(p))
		}
	}
	r.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	return stale, nil
}

func (r *PaymentRepo) List(ctx context.Context, params ports.PaymentListParams) ([]domain.Payment, int64, error) {
	r.mu.RLock()
	var matched []domain.Payment
	for _, p := range r.payments {
		if params.PayerID != "" && p.PayerID != params.PayerID {
			continue
		}
		if params.Status != nil && p.Status != *params.Status {
			continue
		}
		if !inRange(p.CreatedAt, params.From, params.To) {
			continue
		}
		matched = append(matched, *clonePayment(p))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start < 0 {
		start = 0
	}
	if start >= len(matched) {
		return []domain.Payment{}, total, nil
	}
	end := start + params.PageSize
	if params.PageSize <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *PaymentRepo) GetStats(ctx context.Context, from, to *time.Time) (*ports.LedgerStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &ports.LedgerStats{TotalCollected: decimal.Zero, TotalRefunded: decimal.Zero}
	for _, p := range r.payments {
		if !inRange(p.CreatedAt, from, to) {
			continue
		}
		stats.TotalPayments++
		switch p.Status {
		case domain.PaymentStatusInitiated:
			stats.Initiated++
		case domain.PaymentStatusSuccess:
			stats.Successful++
		case domain.PaymentStatusFailed:
			stats.Failed++
		case domain.PaymentStatusRefundPending:
			stats.RefundPending++
		case domain.PaymentStatusPartiallyRefunded:
			stats.PartiallyRefunded++
		case domain.PaymentStatusRefunded:
			stats.Refunded++
		}
		if p.Status.IsSettled() {
			stats.TotalCollected = stats.TotalCollected.Add(p.Amount)
			stats.TotalRefunded = stats.TotalRefunded.Add(p.RefundedAmount)
		}
	}
	return stats, nil
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*to) {
		return false
	}
	return true
}
