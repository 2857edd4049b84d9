package domain

import (
	"encoding/json"
	"time"
)

// Gateway payment statuses as reported by the processor.
const (
	GatewayPaymentCreated    = "created"
	GatewayPaymentAuthorized = "authorized"
	GatewayPaymentCaptured   = "captured"
	GatewayPaymentRefunded   = "refunded"
	GatewayPaymentFailed     = "failed"
)

// GatewayRefundFailed marks a refund the processor rejected.
const GatewayRefundFailed = "failed"

// SettlementTypePayment is the only settlement entry type reconciled.
const SettlementTypePayment = "payment"

// GatewayOrder is an order created at the gateway. Amounts are minor units.
type GatewayOrder struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes,omitempty"`
	Raw      json.RawMessage   `json:"-"`
}

// GatewayPayment is a payment entity as the gateway reports it.
type GatewayPayment struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	Method           string          `json:"method"`
	Captured         bool            `json:"captured"`
	ErrorCode        string          `json:"error_code,omitempty"`
	ErrorDescription string          `json:"error_description,omitempty"`
	CreatedAt        int64           `json:"created_at"`
	Raw              json.RawMessage `json:"-"`
}

// IsSuccessful reports whether the gateway considers the money collected.
func (p *GatewayPayment) IsSuccessful() bool {
	return p.Status == GatewayPaymentCaptured ||
		p.Status == GatewayPaymentAuthorized ||
		p.Status == GatewayPaymentRefunded
}

// FailureReason returns the gateway error description, or a generic reason.
func (p *GatewayPayment) FailureReason() string {
	if p.ErrorDescription != "" {
		return p.ErrorDescription
	}
	if p.ErrorCode != "" {
		return p.ErrorCode
	}
	return "payment failed at gateway"
}

// PaidAt returns the gateway creation time, falling back to now.
func (p *GatewayPayment) PaidAt(now time.Time) time.Time {
	if p.CreatedAt > 0 {
		return time.Unix(p.CreatedAt, 0).UTC()
	}
	return now
}

// GatewayRefund is a refund entity as the gateway reports it.
type GatewayRefund struct {
	ID        string            `json:"id"`
	PaymentID string            `json:"payment_id"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Status    string            `json:"status"`
	Notes     map[string]string `json:"notes,omitempty"`
	CreatedAt int64             `json:"created_at"`
	Raw       json.RawMessage   `json:"-"`
}

// SettlementRecord is one entry of the gateway settlement feed.
type SettlementRecord struct {
	EntityID     string    `json:"entity_id"` // gateway payment id for type=payment
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	Fee          int64     `json:"fee"`
	Tax          int64     `json:"tax"`
	OrderID      string    `json:"order_id,omitempty"`
	SettlementID string    `json:"settlement_id"`
	SettledAt    time.Time `json:"settled_at"`
}

// CreateOrderRequest asks the gateway for a new order.
type CreateOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// CreateRefundRequest asks the gateway to refund a captured payment.
type CreateRefundRequest struct {
	GatewayPaymentID string
	AmountMinor      int64
	Notes            map[string]string
}

// SettlementQuery selects one page of the settlement feed over [From, To).
type SettlementQuery struct {
	From  time.Time
	To    time.Time
	Count int
	Skip  int
}

// Webhook event names handled by the processor.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventRefundCreated   = "refund.created"
	EventRefundProcessed = "refund.processed"
)

// WebhookEvent is the envelope the gateway posts.
type WebhookEvent struct {
	Event     string         `json:"event"`
	Payload   WebhookPayload `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

// WebhookPayload carries the entities referenced by an event.
type WebhookPayload struct {
	Payment *struct {
		Entity GatewayPayment `json:"entity"`
	} `json:"payment,omitempty"`
	Refund *struct {
		Entity GatewayRefund `json:"entity"`
	} `json:"refund,omitempty"`
}

// PaymentEntity returns the payment entity or nil.
func (e *WebhookEvent) PaymentEntity() *GatewayPayment {
	if e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}

// RefundEntity returns the refund entity or nil.
func (e *WebhookEvent) RefundEntity() *GatewayRefund {
	if e.Payload.Refund == nil {
		return nil
	}
	return &e.Payload.Refund.Entity
}
