package service

import (
	"context"
	"fmt"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"
	"hostel-payments/pkg/apperror"

	"github.com/rs/zerolog"
)

// transitionRecorder applies gateway-observed outcomes to the ledger. The
// verifier and the webhook processor share it so that side effects fire only
// for the call whose conditional update actually changed the row.
type transitionRecorder struct {
	payments ports.PaymentRepository
	audit    ports.AuditService
	hook     ports.FeeSettlementHook
	now      func() time.Time
	log      zerolog.Logger
}

// capture applies INITIATED -> SUCCESS and returns the re-read payment. A
// gateway amount that differs from the ledger is recorded but does not block
// the capture: the money was collected and reconciliation reports the gap.
func (r *transitionRecorder) capture(ctx context.Context, p *domain.Payment, gp *domain.GatewayPayment) (*domain.Payment, bool, error) {
	if p.Status == domain.PaymentStatusInitiated {
		r.checkAmount(ctx, p, gp)
	}

	details := domain.CaptureDetails{
		GatewayPaymentID: gp.ID,
		Method:           gp.Method,
		PaidAt:           gp.PaidAt(r.now()),
		Raw:              gp.Raw,
	}

	changed, err := r.payments.MarkSuccess(ctx, p.ID, details)
	if err != nil {
		r.log.Error().Err(err).
			Str("payment_id", p.ID.String()).
			Str("gateway_payment_id", gp.ID).
			Msg("ledger write failed after gateway capture")
		return nil, false, apperror.ErrPersistenceFailure(fmt.Errorf("mark success: %w", err))
	}

	current, err := r.reload(ctx, p)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		r.log.Debug().
			Str("payment_id", p.ID.String()).
			Str("status", string(current.Status)).
			Msg("capture not applied, payment already transitioned")
		return current, false, nil
	}

	r.log.Info().
		Str("payment_id", current.ID.String()).
		Str("order_id", current.OrderID).
		Str("gateway_payment_id", gp.ID).
		Str("amount", current.Amount.StringFixed(2)).
		Msg("payment captured")

	r.audit.Log(ctx, ports.AuditEntry{
		EntityType: domain.EntityPayment,
		EntityID:   current.ID.String(),
		Action:     domain.AuditActionPaymentCaptured,
		Metadata: map[string]any{
			"order_id":           current.OrderID,
			"gateway_payment_id": gp.ID,
			"amount":             current.Amount.StringFixed(2),
			"method":             gp.Method,
		},
	})
	r.notifyFeeLedger(ctx, current)
	return current, true, nil
}

// fail applies INITIATED -> FAILED and returns the re-read payment.
func (r *transitionRecorder) fail(ctx context.Context, p *domain.Payment, gp *domain.GatewayPayment) (*domain.Payment, bool, error) {
	details := domain.FailureDetails{
		GatewayPaymentID: gp.ID,
		Reason:           gp.FailureReason(),
		FailedAt:         r.now(),
		Raw:              gp.Raw,
	}

	changed, err := r.payments.MarkFailed(ctx, p.ID, details)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("mark failed: %w", err))
	}

	current, err := r.reload(ctx, p)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		r.log.Info().
			Str("payment_id", p.ID.String()).
			Str("status", string(current.Status)).
			Msg("failure ignored, payment no longer initiated")
		return current, false, nil
	}

	r.log.Info().
		Str("payment_id", current.ID.String()).
		Str("order_id", current.OrderID).
		Str("reason", details.Reason).
		Msg("payment failed")

	r.audit.Log(ctx, ports.AuditEntry{
		EntityType: domain.EntityPayment,
		EntityID:   current.ID.String(),
		Action:     domain.AuditActionPaymentFailed,
		Metadata: map[string]any{
			"order_id":           current.OrderID,
			"gateway_payment_id": gp.ID,
			"reason":             details.Reason,
		},
	})
	return current, true, nil
}

func (r *transitionRecorder) checkAmount(ctx context.Context, p *domain.Payment, gp *domain.GatewayPayment) {
	expected := domain.ToMinor(p.Amount)
	if gp.Amount <= 0 || gp.Amount == expected {
		return
	}

	r.log.Warn().
		Str("payment_id", p.ID.String()).
		Str("order_id", p.OrderID).
		Str("gateway_payment_id", gp.ID).
		Int64("expected_minor", expected).
		Int64("gateway_minor", gp.Amount).
		Msg("gateway amount differs from ledger amount")

	r.audit.Log(ctx, ports.AuditEntry{
		EntityType: domain.EntityPayment,
		EntityID:   p.ID.String(),
		Action:     domain.AuditActionAmountMismatch,
		Metadata: map[string]any{
			"order_id":           p.OrderID,
			"gateway_payment_id": gp.ID,
			"expected":           p.Amount.StringFixed(2),
			"gateway_amount":     domain.FromMinor(gp.Amount).StringFixed(2),
		},
	})
}

func (r *transitionRecorder) reload(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	current, err := r.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("reload payment: %w", err))
	}
	if current == nil {
		return nil, apperror.ErrNotFound("payment")
	}
	return current, nil
}

// notifyFeeLedger hands a freshly captured payment to the fee ledger hook.
// Hook failures are logged only.
func (r *transitionRecorder) notifyFeeLedger(ctx context.Context, p *domain.Payment) {
	if r.hook == nil || p.FeeReference == nil || *p.FeeReference == "" {
		return
	}
	paidAt := r.now()
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	settlement := domain.FeeSettlement{
		FeeReference: *p.FeeReference,
		AmountPaid:   p.Amount,
		PaymentID:    p.ID,
		PayerID:      p.PayerID,
		PaidAt:       paidAt,
	}
	if err := r.hook.Enqueue(ctx, settlement); err != nil {
		r.log.Error().Err(err).
			Str("payment_id", p.ID.String()).
			Str("fee_reference", settlement.FeeReference).
			Msg("fee settlement hook enqueue failed")
	}
}
