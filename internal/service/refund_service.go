package service

import (
	"context"
	"fmt"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"
	"hostel-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultRefundClaimTTL is how long a REFUND_PENDING claim may sit before
// recovery treats it as abandoned.
const DefaultRefundClaimTTL = 5 * time.Minute

// RefundServiceImpl implements ports.RefundService.
type RefundServiceImpl struct {
	payments ports.PaymentRepository
	gateway  ports.GatewayClient
	audit    ports.AuditService
	claimTTL time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewRefundService creates a new RefundServiceImpl. A non-positive claimTTL
// falls back to DefaultRefundClaimTTL.
func NewRefundService(
	payments ports.PaymentRepository,
	gateway ports.GatewayClient,
	audit ports.AuditService,
	claimTTL time.Duration,
	log zerolog.Logger,
) *RefundServiceImpl {
	if claimTTL <= 0 {
		claimTTL = DefaultRefundClaimTTL
	}
	return &RefundServiceImpl{
		payments: payments,
		gateway:  gateway,
		audit:    audit,
		claimTTL: claimTTL,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Refund issues a full or partial refund. The payment is held in
// REFUND_PENDING while the gateway call is outstanding and released if the
// call fails, so a failed refund leaves no visible state change. A claim
// older than the claim TTL is recovered before the new refund is checked.
func (s *RefundServiceImpl) Refund(ctx context.Context, req ports.RefundRequest) (*ports.RefundResult, error) {
	payment, err := s.payments.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payment: %w", err))
	}
	if payment == nil {
		return nil, apperror.ErrNotFound("payment")
	}

	if payment.Status == domain.PaymentStatusRefundPending && s.isStale(payment) {
		payment, err = s.recoverAndReload(ctx, payment)
		if err != nil {
			return nil, err
		}
	}

	if !payment.Status.In(domain.RefundClaimPredecessors) {
		return nil, apperror.ErrInvalidState(fmt.Sprintf("payment in status %s cannot be refunded", payment.Status))
	}
	if payment.GatewayPaymentID == nil {
		return nil, apperror.ErrInvalidState("payment has no gateway payment id")
	}

	remaining := payment.RemainingRefundable()
	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
	}
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if !domain.HasMinorPrecision(amount) {
		return nil, apperror.Validation("amount has more than two decimal places")
	}
	if amount.GreaterThan(remaining) {
		return nil, apperror.ErrAmountExceedsRemaining()
	}

	claimed, err := s.payments.ClaimRefund(ctx, payment.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("claim refund: %w", err))
	}
	if !claimed {
		return nil, apperror.ErrInvalidState("another refund for this payment is in progress")
	}

	actor := req.ActorID
	if actor == "" {
		actor = domain.SystemActor
	}

	gr, err := s.gateway.CreateRefund(ctx, domain.CreateRefundRequest{
		GatewayPaymentID: *payment.GatewayPaymentID,
		AmountMinor:      domain.ToMinor(amount),
		Notes: map[string]string{
			"reason":     req.Reason,
			"actor":      actor,
			"payment_id": payment.ID.String(),
		},
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("payment_id", payment.ID.String()).
			Str("amount", amount.StringFixed(2)).
			Msg("gateway refund failed, releasing claim")
		s.release(ctx, payment.ID)
		return nil, apperror.ErrGatewayUnavailable(err)
	}

	now := s.now()
	refund := &domain.Refund{
		ID:              uuid.New(),
		PaymentID:       payment.ID,
		GatewayRefundID: gr.ID,
		Amount:          amount,
		GatewayStatus:   gr.Status,
		Reason:          req.Reason,
		ActorID:         actor,
		Source:          domain.RefundSourceAPI,
		ProcessedAt:     &now,
		CreatedAt:       now,
	}

	applied, err := s.payments.ApplyRefund(ctx, refund)
	if err != nil {
		// The claim stays in place: the refund.created webhook or claim
		// recovery applies it later.
		s.log.Error().Err(err).
			Str("payment_id", payment.ID.String()).
			Str("gateway_refund_id", gr.ID).
			Str("amount", amount.StringFixed(2)).
			Msg("gateway refund issued but not recorded in ledger")
		return nil, apperror.ErrPersistenceFailure(err)
	}

	recordedBy := "api"
	if !applied {
		recordedBy = "webhook"
	}
	s.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("gateway_refund_id", gr.ID).
		Str("amount", amount.StringFixed(2)).
		Str("actor_id", actor).
		Str("recorded_by", recordedBy).
		Msg("refund issued")

	s.audit.Log(ctx, ports.AuditEntry{
		EntityType: domain.EntityPayment,
		EntityID:   payment.ID.String(),
		Action:     domain.AuditActionRefundIssued,
		ActorID:    actor,
		Metadata: map[string]any{
			"gateway_refund_id": gr.ID,
			"amount":            amount.StringFixed(2),
			"reason":            req.Reason,
			"recorded_by":       recordedBy,
		},
	})

	current, err := s.payments.GetByID(ctx, payment.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("reload payment: %w", err))
	}
	if current == nil {
		return nil, apperror.ErrNotFound("payment")
	}
	if !applied && current.Status == domain.PaymentStatusRefundPending {
		s.release(ctx, payment.ID)
		if current, err = s.payments.GetByID(ctx, payment.ID); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("reload payment: %w", err))
		}
	}

	return &ports.RefundResult{
		GatewayRefundID: gr.ID,
		Amount:          amount,
		GatewayStatus:   gr.Status,
		ProcessedAt:     now,
		Payment:         current,
	}, nil
}

// RecoverStaleClaims resolves every REFUND_PENDING claim older than the
// claim TTL. Refunds the gateway already holds for the payment are recorded
// first, then whatever claim remains is released. A payment whose gateway
// lookup fails keeps its claim until the next sweep.
func (s *RefundServiceImpl) RecoverStaleClaims(ctx context.Context) (int, error) {
	stale, err := s.payments.ListStaleRefundClaims(ctx, s.now().Add(-s.claimTTL))
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list stale refund claims: %w", err))
	}

	resolved := 0
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		ok, err := s.recoverClaim(ctx, &stale[i])
		if err != nil {
			s.log.Warn().Err(err).Str("payment_id", stale[i].ID.String()).Msg("stale refund claim not recovered")
			continue
		}
		if ok {
			resolved++
		}
	}
	if len(stale) > 0 {
		s.log.Info().Int("stale", len(stale)).Int("resolved", resolved).Msg("refund claim sweep finished")
	}
	return resolved, nil
}

// recoverAndReload recovers a stale claim found on the refund path. A failed
// recovery leaves p as it was, so the claim still blocks the new refund.
func (s *RefundServiceImpl) recoverAndReload(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	if _, err := s.recoverClaim(ctx, p); err != nil {
		s.log.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("stale refund claim not recovered")
		return p, nil
	}
	current, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("reload payment: %w", err))
	}
	if current == nil {
		return nil, apperror.ErrNotFound("payment")
	}
	return current, nil
}

func (s *RefundServiceImpl) isStale(p *domain.Payment) bool {
	return p.UpdatedAt.Before(s.now().Add(-s.claimTTL))
}

// recoverClaim records the gateway refunds the ledger is missing for p and
// then releases its claim. It reports whether it changed anything.
func (s *RefundServiceImpl) recoverClaim(ctx context.Context, p *domain.Payment) (bool, error) {
	var recorded []string
	if p.GatewayPaymentID != nil {
		refunds, err := s.gateway.ListPaymentRefunds(ctx, *p.GatewayPaymentID)
		if err != nil {
			return false, fmt.Errorf("list gateway refunds: %w", err)
		}
		for _, gr := range refunds {
			if gr.ID == "" || gr.Amount <= 0 || gr.Status == domain.GatewayRefundFailed {
				continue
			}
			applied, err := s.payments.ApplyRefund(ctx, s.recoveredRefund(p.ID, gr))
			if err != nil {
				return false, fmt.Errorf("apply refund %s: %w", gr.ID, err)
			}
			if applied {
				recorded = append(recorded, gr.ID)
			}
		}
	}

	released, err := s.payments.ReleaseRefund(ctx, p.ID)
	if err != nil {
		return false, fmt.Errorf("release refund claim: %w", err)
	}
	if len(recorded) == 0 && !released {
		return false, nil
	}

	s.log.Warn().
		Str("payment_id", p.ID.String()).
		Strs("recorded_refunds", recorded).
		Bool("released", released).
		Time("claimed_at", p.UpdatedAt).
		Msg("stale refund claim recovered")

	s.audit.Log(ctx, ports.AuditEntry{
		EntityType: domain.EntityPayment,
		EntityID:   p.ID.String(),
		Action:     domain.AuditActionRefundReleased,
		ActorID:    domain.SystemActor,
		Metadata: map[string]any{
			"recorded_refunds": recorded,
			"released":         released,
			"claimed_at":       p.UpdatedAt.UTC().Format(time.RFC3339),
		},
	})
	return true, nil
}

func (s *RefundServiceImpl) recoveredRefund(paymentID uuid.UUID, gr domain.GatewayRefund) *domain.Refund {
	refund := &domain.Refund{
		ID:              uuid.New(),
		PaymentID:       paymentID,
		GatewayRefundID: gr.ID,
		Amount:          domain.FromMinor(gr.Amount),
		GatewayStatus:   gr.Status,
		Reason:          gr.Notes["reason"],
		ActorID:         gr.Notes["actor"],
		Source:          domain.RefundSourceRecovery,
		CreatedAt:       s.now(),
	}
	if gr.CreatedAt > 0 {
		processed := time.Unix(gr.CreatedAt, 0).UTC()
		refund.ProcessedAt = &processed
	}
	if refund.ActorID == "" {
		refund.ActorID = domain.SystemActor
	}
	return refund
}

func (s *RefundServiceImpl) release(ctx context.Context, id uuid.UUID) {
	released, err := s.payments.ReleaseRefund(context.WithoutCancel(ctx), id)
	if err != nil {
		s.log.Error().Err(err).Str("payment_id", id.String()).Msg("failed to release refund claim, left for recovery")
		return
	}
	if !released {
		s.log.Debug().Str("payment_id", id.String()).Msg("refund claim already resolved")
	}
}
