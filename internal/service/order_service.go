package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"
	"hostel-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

// defaultInitiationLockTTL bounds how long a crashed request can block its key.
const defaultInitiationLockTTL = 30 * time.Second

// OrderConfig holds the checkout settings returned to the client.
type OrderConfig struct {
	PublicKey    string
	Currency     string
	CheckoutName string
	LockTTL      time.Duration
}

// OrderServiceImpl implements ports.OrderService.
type OrderServiceImpl struct {
	payments ports.PaymentRepository
	gateway  ports.GatewayClient
	lock     ports.InitiationLock
	audit    ports.AuditService
	cfg      OrderConfig
	now      func() time.Time
	log      zerolog.Logger
}

// NewOrderService creates a new OrderServiceImpl.
func NewOrderService(
	payments ports.PaymentRepository,
	gateway ports.GatewayClient,
	lock ports.InitiationLock,
	audit ports.AuditService,
	cfg OrderConfig,
	log zerolog.Logger,
) *OrderServiceImpl {
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultInitiationLockTTL
	}
	return &OrderServiceImpl{
		payments: payments,
		gateway:  gateway,
		lock:     lock,
		audit:    audit,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Initiate creates a gateway order for a fee payment. Repeating the call with
// the same (payer, idempotency key) returns the existing order without a
// second gateway call.
func (s *OrderServiceImpl) Initiate(ctx context.Context, req ports.InitiateRequest) (*ports.InitiateResult, error) {
	if err := validateInitiate(req); err != nil {
		return nil, err
	}
	if req.Currency == "" {
		req.Currency = s.cfg.Currency
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = generateIdempotencyKey(req.PayerID, req.Amount.StringFixed(2), req.FeeReference, s.now())
	}

	lockKey := domain.BuildInitiationKey(req.PayerID, req.IdempotencyKey)
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, lockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			// The partial unique index still rejects a second live payment.
			s.log.Warn().Err(err).Str("key", lockKey).Msg("initiation lock unavailable, continuing unlocked")
		case !acquired:
			return nil, apperror.ErrRequestInProgress()
		default:
			defer func() {
				if err := s.lock.Release(context.WithoutCancel(ctx), lockKey); err != nil {
					s.log.Warn().Err(err).Str("key", lockKey).Msg("failed to release initiation lock")
				}
			}()
		}
	}

	existing, err := s.payments.GetByIdempotencyKey(ctx, req.PayerID, req.IdempotencyKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency lookup: %w", err))
	}
	if existing != nil {
		return s.replay(existing, req)
	}

	paymentID := uuid.New()
	notes := map[string]string{
		"payment_id":      paymentID.String(),
		"payer_id":        req.PayerID,
		"idempotency_key": req.IdempotencyKey,
	}
	if req.FeeReference != nil {
		notes["fee_reference"] = *req.FeeReference
	}
	if req.ApplicationReference != nil {
		notes["application_reference"] = *req.ApplicationReference
	}

	order, err := s.gateway.CreateOrder(ctx, domain.CreateOrderRequest{
		AmountMinor: domain.ToMinor(req.Amount),
		Currency:    req.Currency,
		Receipt:     paymentID.String(),
		Notes:       notes,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("payer_id", req.PayerID).Msg("gateway order creation failed")
		return nil, apperror.ErrGatewayUnavailable(err)
	}

	now := s.now()
	payment := &domain.Payment{
		ID:                   paymentID,
		PayerID:              req.PayerID,
		FeeReference:         req.FeeReference,
		ApplicationReference: req.ApplicationReference,
		Amount:               req.Amount,
		Currency:             req.Currency,
		FeeBreakdown:         req.FeeBreakdown,
		OrderID:              order.ID,
		Status:               domain.PaymentStatusInitiated,
		IdempotencyKey:       req.IdempotencyKey,
		RawGatewayResponse:   order.Raw,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, ports.ErrDuplicateIdempotencyKey) {
			winner, lookupErr := s.payments.GetByIdempotencyKey(ctx, req.PayerID, req.IdempotencyKey)
			if lookupErr == nil && winner != nil {
				s.log.Warn().
					Str("orphan_order_id", order.ID).
					Str("order_id", winner.OrderID).
					Msg("lost initiation race, returning winning order")
				return s.replay(winner, req)
			}
		}

		s.log.Error().Err(err).
			Str("order_id", order.ID).
			Str("payer_id", req.PayerID).
			Str("amount", req.Amount.StringFixed(2)).
			Msg("gateway order created but not recorded in ledger")
		s.audit.Log(ctx, ports.AuditEntry{
			EntityType: domain.EntityOrder,
			EntityID:   order.ID,
			Action:     domain.AuditActionOrderUntracked,
			ActorID:    req.PayerID,
			Metadata: map[string]any{
				"payment_id": paymentID.String(),
				"amount":     req.Amount.StringFixed(2),
				"error":      err.Error(),
			},
		})
		return nil, apperror.ErrPersistenceFailure(err)
	}

	s.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("order_id", payment.OrderID).
		Str("payer_id", payment.PayerID).
		Str("amount", payment.Amount.StringFixed(2)).
		Msg("order initiated")

	s.audit.Log(ctx, ports.AuditEntry{
		EntityType: domain.EntityPayment,
		EntityID:   payment.ID.String(),
		Action:     domain.AuditActionOrderCreated,
		ActorID:    req.PayerID,
		Metadata: map[string]any{
			"order_id": payment.OrderID,
			"amount":   payment.Amount.StringFixed(2),
		},
	})

	result := s.result(payment)
	result.Notes = notes
	return result, nil
}

// replay answers a repeated initiation from the stored payment.
func (s *OrderServiceImpl) replay(existing *domain.Payment, req ports.InitiateRequest) (*ports.InitiateResult, error) {
	if !existing.Amount.Equal(req.Amount) {
		return nil, apperror.Validation("idempotency key already used for a different amount")
	}
	s.log.Info().
		Str("payment_id", existing.ID.String()).
		Str("order_id", existing.OrderID).
		Str("status", string(existing.Status)).
		Msg("initiation replayed")

	result := s.result(existing)
	result.Replayed = true
	return result, nil
}

func (s *OrderServiceImpl) result(p *domain.Payment) *ports.InitiateResult {
	description := "Hostel fee payment"
	if p.FeeReference != nil {
		description += " " + *p.FeeReference
	}
	return &ports.InitiateResult{
		PaymentID:        p.ID,
		OrderID:          p.OrderID,
		PublicKey:        s.cfg.PublicKey,
		AmountMinorUnits: domain.ToMinor(p.Amount),
		Currency:         p.Currency,
		Status:           p.Status,
		CheckoutName:     s.cfg.CheckoutName,
		IdempotencyKey:   p.IdempotencyKey,
		Description:      description,
	}
}

func validateInitiate(req ports.InitiateRequest) error {
	if req.PayerID == "" {
		return apperror.Validation("payer_id is required")
	}
	if !req.Amount.IsPositive() {
		return apperror.ErrInvalidAmount()
	}
	if !domain.HasMinorPrecision(req.Amount) {
		return apperror.Validation("amount has more than two decimal places")
	}
	if len(req.FeeBreakdown) > 0 {
		for _, item := range req.FeeBreakdown {
			if item.Label == "" || item.Amount.IsNegative() {
				return apperror.Validation("fee breakdown items need a label and a non-negative amount")
			}
		}
		if !domain.SumFees(req.FeeBreakdown).Equal(req.Amount) {
			return apperror.Validation("fee breakdown does not sum to amount")
		}
	}
	return nil
}

// generateIdempotencyKey derives a key for callers that did not send one.
func generateIdempotencyKey(payerID, amount string, feeReference *string, now time.Time) string {
	ref := ""
	if feeReference != nil {
		ref = *feeReference
	}
	sum := blake2b.Sum256([]byte(payerID + "|" + amount + "|" + ref + "|" + strconv.FormatInt(now.UnixNano(), 10)))
	return "auto_" + hex.EncodeToString(sum[:16])
}
