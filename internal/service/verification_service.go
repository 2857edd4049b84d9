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

// VerificationServiceImpl implements ports.VerificationService.
type VerificationServiceImpl struct {
	payments       ports.PaymentRepository
	gateway        ports.GatewayClient
	signer         ports.SignatureService
	audit          ports.AuditService
	recorder       *transitionRecorder
	checkoutSecret string
	log            zerolog.Logger
}

// NewVerificationService creates a verifier. checkoutSecret is the gateway
// key secret the checkout form signs callbacks with.
func NewVerificationService(
	payments ports.PaymentRepository,
	gateway ports.GatewayClient,
	signer ports.SignatureService,
	audit ports.AuditService,
	hook ports.FeeSettlementHook,
	checkoutSecret string,
	log zerolog.Logger,
) *VerificationServiceImpl {
	return &VerificationServiceImpl{
		payments:       payments,
		gateway:        gateway,
		signer:         signer,
		audit:          audit,
		checkoutSecret: checkoutSecret,
		log:            log,
		recorder: &transitionRecorder{
			payments: payments,
			audit:    audit,
			hook:     hook,
			now:      func() time.Time { return time.Now().UTC() },
			log:      log,
		},
	}
}

// Verify authenticates a checkout callback and records the capture.
func (s *VerificationServiceImpl) Verify(ctx context.Context, req ports.VerifyRequest) (*domain.Payment, error) {
	if req.OrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		return nil, apperror.Validation("order_id, payment_id and signature are required")
	}

	payload := s.signer.BuildCheckoutPayload(req.OrderID, req.GatewayPaymentID)
	if !s.signer.Verify(s.checkoutSecret, payload, req.Signature) {
		s.log.Warn().
			Str("order_id", req.OrderID).
			Str("gateway_payment_id", req.GatewayPaymentID).
			Msg("checkout signature mismatch")
		return nil, apperror.ErrInvalidSignature()
	}

	payment, err := s.payments.GetByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup order: %w", err))
	}
	if payment == nil {
		return nil, apperror.ErrNotFound("payment")
	}

	switch {
	case payment.Status.IsSettled():
		if payment.GatewayPaymentID != nil && *payment.GatewayPaymentID != req.GatewayPaymentID {
			s.mismatch(ctx, payment, req.GatewayPaymentID, "order already settled by another gateway payment")
			return nil, apperror.ErrPaymentMismatch()
		}
		return payment, nil
	case payment.Status == domain.PaymentStatusFailed:
		return nil, apperror.ErrInvalidState("payment has already failed")
	}

	gp, err := s.gateway.FetchPayment(ctx, req.GatewayPaymentID)
	if err != nil {
		s.log.Warn().Err(err).
			Str("payment_id", payment.ID.String()).
			Str("gateway_payment_id", req.GatewayPaymentID).
			Msg("fetch payment failed, capture deferred")
		return nil, apperror.ErrGatewayUnavailable(err)
	}
	if gp.OrderID != "" && gp.OrderID != payment.OrderID {
		s.mismatch(ctx, payment, req.GatewayPaymentID, "gateway payment belongs to order "+gp.OrderID)
		return nil, apperror.ErrPaymentMismatch()
	}

	switch {
	case gp.Status == domain.GatewayPaymentFailed:
		current, _, err := s.recorder.fail(ctx, payment, gp)
		return current, err
	case !gp.IsSuccessful():
		s.log.Info().
			Str("payment_id", payment.ID.String()).
			Str("gateway_status", gp.Status).
			Msg("gateway payment not yet captured")
		return payment, nil
	}

	current, _, err := s.recorder.capture(ctx, payment, gp)
	return current, err
}

func (s *VerificationServiceImpl) mismatch(ctx context.Context, p *domain.Payment, gatewayPaymentID, reason string) {
	s.log.Warn().
		Str("payment_id", p.ID.String()).
		Str("order_id", p.OrderID).
		Str("gateway_payment_id", gatewayPaymentID).
		Msg(reason)
	s.audit.Log(ctx, ports.AuditEntry{
		EntityType: domain.EntityPayment,
		EntityID:   p.ID.String(),
		Action:     domain.AuditActionVerifyMismatch,
		Metadata: map[string]any{
			"order_id":           p.OrderID,
			"gateway_payment_id": gatewayPaymentID,
			"reason":             reason,
		},
	})
}
