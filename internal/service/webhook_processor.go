package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"
	"hostel-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultEventTTL = 72 * time.Hour

// WebhookConfig holds the inbound webhook settings.
type WebhookConfig struct {
	Secret   string // empty disables signature verification
	EventTTL time.Duration
}

// WebhookProcessorImpl implements ports.WebhookProcessor. Every handled event
// performs at most one ledger transition and tolerates redelivery.
type WebhookProcessorImpl struct {
	payments ports.PaymentRepository
	gateway  ports.GatewayClient
	signer   ports.SignatureService
	events   ports.EventStore
	audit    ports.AuditService
	recorder *transitionRecorder
	cfg      WebhookConfig
	now      func() time.Time
	log      zerolog.Logger
}

// NewWebhookProcessor creates a new WebhookProcessorImpl. events may be nil.
func NewWebhookProcessor(
	payments ports.PaymentRepository,
	gateway ports.GatewayClient,
	signer ports.SignatureService,
	events ports.EventStore,
	audit ports.AuditService,
	hook ports.FeeSettlementHook,
	cfg WebhookConfig,
	log zerolog.Logger,
) *WebhookProcessorImpl {
	if cfg.EventTTL <= 0 {
		cfg.EventTTL = defaultEventTTL
	}
	now := func() time.Time { return time.Now().UTC() }
	if cfg.Secret == "" {
		log.Warn().Msg("webhook secret not configured: signature verification is DISABLED")
	}
	return &WebhookProcessorImpl{
		payments: payments,
		gateway:  gateway,
		signer:   signer,
		events:   events,
		audit:    audit,
		cfg:      cfg,
		now:      now,
		log:      log,
		recorder: &transitionRecorder{
			payments: payments,
			audit:    audit,
			hook:     hook,
			now:      now,
			log:      log,
		},
	}
}

// Process verifies and applies one gateway event. Unknown events and
// unmatched references are acknowledged without error.
func (s *WebhookProcessorImpl) Process(ctx context.Context, eventID string, body []byte, signature string) error {
	if s.cfg.Secret == "" {
		s.log.Warn().Str("event_id", eventID).Msg("webhook accepted without signature verification")
	} else if !s.signer.Verify(s.cfg.Secret, string(body), signature) {
		s.log.Warn().Str("event_id", eventID).Msg("webhook signature mismatch")
		return apperror.ErrInvalidSignature()
	}

	if eventID != "" && s.events != nil {
		seen, err := s.events.Seen(ctx, eventID)
		if err != nil {
			s.log.Warn().Err(err).Str("event_id", eventID).Msg("event store unavailable, processing anyway")
		} else if seen {
			s.log.Debug().Str("event_id", eventID).Msg("duplicate webhook event skipped")
			return nil
		}
	}

	var event domain.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return apperror.ErrMalformedPayload(err)
	}
	if gp := event.PaymentEntity(); gp != nil {
		gp.Raw = body
	}

	log := s.log.With().Str("event", event.Event).Str("event_id", eventID).Logger()

	var err error
	switch event.Event {
	case domain.EventPaymentCaptured:
		err = s.handlePaymentCaptured(ctx, event.PaymentEntity(), log)
	case domain.EventPaymentFailed:
		err = s.handlePaymentFailed(ctx, event.PaymentEntity(), log)
	case domain.EventRefundCreated, domain.EventRefundProcessed:
		err = s.handleRefund(ctx, event.RefundEntity(), log)
	default:
		log.Info().Msg("unhandled webhook event ignored")
	}
	if err != nil {
		return err
	}

	if eventID != "" && s.events != nil {
		if err := s.events.MarkSeen(ctx, eventID, s.cfg.EventTTL); err != nil {
			log.Warn().Err(err).Msg("failed to mark webhook event seen")
		}
	}
	return nil
}

func (s *WebhookProcessorImpl) handlePaymentCaptured(ctx context.Context, gp *domain.GatewayPayment, log zerolog.Logger) error {
	if gp == nil || gp.ID == "" {
		return apperror.ErrMalformedPayload(errors.New("payment entity missing"))
	}
	payment, err := s.findPayment(ctx, gp)
	if err != nil {
		return err
	}
	if payment == nil {
		log.Warn().Str("order_id", gp.OrderID).Str("gateway_payment_id", gp.ID).Msg("captured payment matches no ledger record")
		return nil
	}
	_, _, err = s.recorder.capture(ctx, payment, gp)
	return err
}

func (s *WebhookProcessorImpl) handlePaymentFailed(ctx context.Context, gp *domain.GatewayPayment, log zerolog.Logger) error {
	if gp == nil || gp.ID == "" {
		return apperror.ErrMalformedPayload(errors.New("payment entity missing"))
	}
	payment, err := s.findPayment(ctx, gp)
	if err != nil {
		return err
	}
	if payment == nil {
		log.Warn().Str("order_id", gp.OrderID).Str("gateway_payment_id", gp.ID).Msg("failed payment matches no ledger record")
		return nil
	}
	_, _, err = s.recorder.fail(ctx, payment, gp)
	return err
}

func (s *WebhookProcessorImpl) handleRefund(ctx context.Context, rf *domain.GatewayRefund, log zerolog.Logger) error {
	if rf == nil || rf.ID == "" || rf.PaymentID == "" || rf.Amount <= 0 {
		return apperror.ErrMalformedPayload(errors.New("refund entity incomplete"))
	}

	payment, err := s.payments.GetByGatewayPaymentID(ctx, rf.PaymentID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lookup gateway payment: %w", err))
	}
	if payment == nil {
		// Capture was never recorded locally: resolve the order through the
		// gateway and record the capture before the refund.
		payment, err = s.resolveUncaptured(ctx, rf.PaymentID, log)
		if err != nil || payment == nil {
			return err
		}
	}

	refund := &domain.Refund{
		ID:              uuid.New(),
		PaymentID:       payment.ID,
		GatewayRefundID: rf.ID,
		Amount:          domain.FromMinor(rf.Amount),
		GatewayStatus:   rf.Status,
		Reason:          rf.Notes["reason"],
		ActorID:         rf.Notes["actor"],
		Source:          domain.RefundSourceWebhook,
		CreatedAt:       s.now(),
	}
	if rf.CreatedAt > 0 {
		processed := time.Unix(rf.CreatedAt, 0).UTC()
		refund.ProcessedAt = &processed
	}
	if refund.ActorID == "" {
		refund.ActorID = domain.SystemActor
	}

	applied, err := s.payments.ApplyRefund(ctx, refund)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("apply refund: %w", err))
	}
	if !applied {
		log.Info().
			Str("payment_id", payment.ID.String()).
			Str("gateway_refund_id", rf.ID).
			Msg("refund already recorded or not applicable")
		return nil
	}

	log.Info().
		Str("payment_id", payment.ID.String()).
		Str("gateway_refund_id", rf.ID).
		Str("amount", refund.Amount.StringFixed(2)).
		Msg("refund recorded from webhook")

	s.audit.Log(ctx, ports.AuditEntry{
		EntityType: domain.EntityPayment,
		EntityID:   payment.ID.String(),
		Action:     domain.AuditActionRefundRecorded,
		ActorID:    refund.ActorID,
		Metadata: map[string]any{
			"gateway_refund_id": rf.ID,
			"amount":            refund.Amount.StringFixed(2),
			"gateway_status":    rf.Status,
		},
	})
	return nil
}

func (s *WebhookProcessorImpl) resolveUncaptured(ctx context.Context, gatewayPaymentID string, log zerolog.Logger) (*domain.Payment, error) {
	gp, err := s.gateway.FetchPayment(ctx, gatewayPaymentID)
	if err != nil {
		return nil, apperror.ErrGatewayUnavailable(err)
	}
	payment, err := s.payments.GetByOrderID(ctx, gp.OrderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup order: %w", err))
	}
	if payment == nil {
		log.Warn().Str("gateway_payment_id", gatewayPaymentID).Str("order_id", gp.OrderID).Msg("refunded payment matches no ledger record")
		return nil, nil
	}
	if payment.Status == domain.PaymentStatusInitiated && gp.IsSuccessful() {
		current, _, err := s.recorder.capture(ctx, payment, gp)
		if err != nil {
			return nil, err
		}
		return current, nil
	}
	return payment, nil
}

// findPayment matches an event to the ledger by order id, falling back to
// the gateway payment id.
func (s *WebhookProcessorImpl) findPayment(ctx context.Context, gp *domain.GatewayPayment) (*domain.Payment, error) {
	if gp.OrderID != "" {
		p, err := s.payments.GetByOrderID(ctx, gp.OrderID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("lookup order: %w", err))
		}
		if p != nil {
			return p, nil
		}
	}
	p, err := s.payments.GetByGatewayPaymentID(ctx, gp.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup gateway payment: %w", err))
	}
	return p, nil
}
