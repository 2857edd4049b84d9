package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentStatusInitiated         PaymentStatus = "INITIATED"
	PaymentStatusSuccess           PaymentStatus = "SUCCESS"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefundPending     PaymentStatus = "REFUND_PENDING"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// Predecessor sets used by the ledger's conditional updates. A transition is
// applied only when the stored status is one of these.
var (
	CapturePredecessors     = []PaymentStatus{PaymentStatusInitiated}
	FailurePredecessors     = []PaymentStatus{PaymentStatusInitiated}
	RefundClaimPredecessors = []PaymentStatus{PaymentStatusSuccess, PaymentStatusPartiallyRefunded}
	RefundApplyPredecessors = []PaymentStatus{PaymentStatusSuccess, PaymentStatusRefundPending, PaymentStatusPartiallyRefunded}
	SettledStatuses         = []PaymentStatus{PaymentStatusSuccess, PaymentStatusRefundPending, PaymentStatusPartiallyRefunded, PaymentStatusRefunded}
)

// transitions is the forward-only graph. REFUND_PENDING may fall back to the
// status implied by the refunded amount when the gateway refund call fails.
var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusInitiated:         {PaymentStatusSuccess, PaymentStatusFailed},
	PaymentStatusSuccess:           {PaymentStatusRefundPending, PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
	PaymentStatusRefundPending:     {PaymentStatusPartiallyRefunded, PaymentStatusRefunded, PaymentStatusSuccess},
	PaymentStatusPartiallyRefunded: {PaymentStatusRefundPending, PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
}

// Valid reports whether s is one of the defined statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusInitiated, PaymentStatusSuccess, PaymentStatusFailed,
		PaymentStatusRefundPending, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

// IsTerminal returns true if no transition leaves s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// IsRefundState returns true for the refund states layered on top of SUCCESS.
func (s PaymentStatus) IsRefundState() bool {
	return s == PaymentStatusRefundPending ||
		s == PaymentStatusRefunded ||
		s == PaymentStatusPartiallyRefunded
}

// IsSettled returns true once money has moved: SUCCESS or any refund state.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentStatusSuccess || s.IsRefundState()
}

// CanTransitionTo reports whether the graph has an edge s -> next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// In reports whether s is a member of set.
func (s PaymentStatus) In(set []PaymentStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

// FeeItem is one labelled line of a fee breakdown.
type FeeItem struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// Payment is the ledger record for one gateway order.
type Payment struct {
	ID                   uuid.UUID       `json:"id"`
	PayerID              string          `json:"payer_id"`
	FeeReference         *string         `json:"fee_reference,omitempty"`
	ApplicationReference *string         `json:"application_reference,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	FeeBreakdown         []FeeItem       `json:"fee_breakdown,omitempty"`
	OrderID              string          `json:"order_id"`
	GatewayPaymentID     *string         `json:"gateway_payment_id,omitempty"`
	PaymentMethod        *string         `json:"payment_method,omitempty"`
	Status               PaymentStatus   `json:"status"`
	IdempotencyKey       string          `json:"idempotency_key"`
	RefundedAmount       decimal.Decimal `json:"refunded_amount"`
	LastRefundID         *string         `json:"last_refund_id,omitempty"`
	FailureReason        *string         `json:"failure_reason,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	RefundedAt           *time.Time      `json:"refunded_at,omitempty"`
	RawGatewayResponse   []byte          `json:"-"` // audit only
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// RemainingRefundable is amount minus what has already been refunded.
func (p *Payment) RemainingRefundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// IsRefundable returns true if a new refund may be requested.
func (p *Payment) IsRefundable() bool {
	return p.Status.In(RefundClaimPredecessors) && p.GatewayPaymentID != nil
}

// StatusAfterRefund returns the status a payment lands in once its cumulative
// refunded amount reaches refunded.
func (p *Payment) StatusAfterRefund(refunded decimal.Decimal) PaymentStatus {
	if refunded.GreaterThanOrEqual(p.Amount) {
		return PaymentStatusRefunded
	}
	return PaymentStatusPartiallyRefunded
}

// ReleasedStatus is the status a REFUND_PENDING claim falls back to.
func (p *Payment) ReleasedStatus() PaymentStatus {
	if p.RefundedAmount.IsPositive() {
		return PaymentStatusPartiallyRefunded
	}
	return PaymentStatusSuccess
}

// CaptureDetails are the fields recorded by the SUCCESS transition.
type CaptureDetails struct {
	GatewayPaymentID string
	Method           string
	PaidAt           time.Time
	Raw              []byte
}

// FailureDetails are the fields recorded by the FAILED transition.
type FailureDetails struct {
	GatewayPaymentID string
	Reason           string
	FailedAt         time.Time
	Raw              []byte
}

// RefundSource tells which path recorded a refund.
type RefundSource string

const (
	RefundSourceAPI      RefundSource = "API"
	RefundSourceWebhook  RefundSource = "WEBHOOK"
	RefundSourceRecovery RefundSource = "RECOVERY"
)

// Refund is one gateway refund applied to a payment. GatewayRefundID is
// unique, which is what keeps the API and webhook paths from counting the
// same refund twice.
type Refund struct {
	ID              uuid.UUID       `json:"id"`
	PaymentID       uuid.UUID       `json:"payment_id"`
	GatewayRefundID string          `json:"gateway_refund_id"`
	Amount          decimal.Decimal `json:"amount"`
	GatewayStatus   string          `json:"gateway_status"`
	Reason          string          `json:"reason,omitempty"`
	ActorID         string          `json:"actor_id,omitempty"`
	Source          RefundSource    `json:"source"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
