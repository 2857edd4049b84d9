package dto

import (
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"

	"github.com/shopspring/decimal"
)

// InitiateOrderRequest is the request body for order initiation. Amounts are
// in major units (rupees) with at most two decimal places.
type InitiateOrderRequest struct {
	PayerID              string           `json:"payer_id" binding:"required,max=64,safe_id"`
	Amount               decimal.Decimal  `json:"amount" binding:"required,money"`
	FeeReference         *string          `json:"fee_reference,omitempty" binding:"omitempty,max=100,safe_id"`
	ApplicationReference *string          `json:"application_reference,omitempty" binding:"omitempty,max=100,safe_id"`
	FeeBreakdown         []FeeItemRequest `json:"fee_breakdown,omitempty" binding:"omitempty,max=20,dive"`
	IdempotencyKey       string           `json:"idempotency_key,omitempty" binding:"omitempty,max=128,safe_id"`
}

// FeeItemRequest is one labelled line of a fee breakdown.
type FeeItemRequest struct {
	Label  string          `json:"label" binding:"required,max=100"`
	Amount decimal.Decimal `json:"amount" binding:"required,money"`
}

// InitiateOrderResponse carries everything the checkout form needs.
type InitiateOrderResponse struct {
	PaymentID      string            `json:"payment_id"`
	OrderID        string            `json:"order_id"`
	Key            string            `json:"key"`
	Amount         int64             `json:"amount"` // minor units
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	IdempotencyKey string            `json:"idempotency_key"`
	Notes          map[string]string `json:"notes,omitempty"`
	Replayed       bool              `json:"replayed"`
}

// VerifyRequest is the checkout callback posted by the client after payment.
type VerifyRequest struct {
	OrderID          string `json:"razorpay_order_id" binding:"required,max=64,safe_id"`
	GatewayPaymentID string `json:"razorpay_payment_id" binding:"required,max=64,safe_id"`
	Signature        string `json:"razorpay_signature" binding:"required,hexadecimal,max=128"`
}

// RefundRequest is the request body for a staff-issued refund. A missing
// amount refunds whatever remains.
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty" binding:"omitempty,money"`
	Reason string           `json:"reason" binding:"required,max=255"`
}

// ReconcileRequest triggers an on-demand reconciliation over [from, to).
type ReconcileRequest struct {
	From time.Time `json:"from" binding:"required"`
	To   time.Time `json:"to" binding:"required,gtfield=From"`
}

// PaymentResponse is the public view of a ledger record.
type PaymentResponse struct {
	ID                   string           `json:"id"`
	PayerID              string           `json:"payer_id"`
	FeeReference         *string          `json:"fee_reference,omitempty"`
	ApplicationReference *string          `json:"application_reference,omitempty"`
	Amount               string           `json:"amount"`
	Currency             string           `json:"currency"`
	FeeBreakdown         []FeeItemView    `json:"fee_breakdown,omitempty"`
	OrderID              string           `json:"order_id"`
	GatewayPaymentID     *string          `json:"gateway_payment_id,omitempty"`
	PaymentMethod        *string          `json:"payment_method,omitempty"`
	Status               string           `json:"status"`
	RefundedAmount       string           `json:"refunded_amount"`
	RemainingRefundable  string           `json:"remaining_refundable"`
	FailureReason        *string          `json:"failure_reason,omitempty"`
	PaidAt               *string          `json:"paid_at,omitempty"`
	RefundedAt           *string          `json:"refunded_at,omitempty"`
	LastRefundID         *string          `json:"last_refund_id,omitempty"`
	CreatedAt            string           `json:"created_at"`
	Refunds              []RefundResponse `json:"refunds,omitempty"`
}

// FeeItemView is a fee breakdown line with a fixed-point amount.
type FeeItemView struct {
	Label  string `json:"label"`
	Amount string `json:"amount"`
}

// RefundResponse is one recorded gateway refund.
type RefundResponse struct {
	GatewayRefundID string  `json:"gateway_refund_id"`
	Amount          string  `json:"amount"`
	GatewayStatus   string  `json:"gateway_status"`
	Reason          string  `json:"reason,omitempty"`
	ActorID         string  `json:"actor_id,omitempty"`
	Source          string  `json:"source"`
	ProcessedAt     *string `json:"processed_at,omitempty"`
}

// RefundIssuedResponse answers a staff refund. Status is the payment status
// after the refund; GatewayStatus is the processor's status for the refund.
type RefundIssuedResponse struct {
	RefundID      string          `json:"refund_id"`
	Status        string          `json:"status"`
	Amount        string          `json:"amount"`
	GatewayStatus string          `json:"gateway_status,omitempty"`
	ProcessedAt   string          `json:"processed_at"`
	Payment       PaymentResponse `json:"payment"`
}

// NewRefundIssuedResponse converts the outcome of one refund call.
func NewRefundIssuedResponse(r *ports.RefundResult) RefundIssuedResponse {
	payment := NewPaymentResponse(r.Payment, nil)
	return RefundIssuedResponse{
		RefundID:      r.GatewayRefundID,
		Status:        payment.Status,
		Amount:        r.Amount.StringFixed(2),
		GatewayStatus: r.GatewayStatus,
		ProcessedAt:   r.ProcessedAt.UTC().Format(time.RFC3339),
		Payment:       payment,
	}
}

// PaymentListResponse wraps a paginated payment list.
type PaymentListResponse struct {
	Items      []PaymentResponse `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// StatsResponse is the ledger summary for a date range.
type StatsResponse struct {
	TotalPayments     int64  `json:"total_payments"`
	Initiated         int64  `json:"initiated"`
	Successful        int64  `json:"successful"`
	Failed            int64  `json:"failed"`
	RefundPending     int64  `json:"refund_pending"`
	PartiallyRefunded int64  `json:"partially_refunded"`
	Refunded          int64  `json:"refunded"`
	TotalCollected    string `json:"total_collected"`
	TotalRefunded     string `json:"total_refunded"`
}

// NewPaymentResponse converts a ledger record and its refunds.
func NewPaymentResponse(p *domain.Payment, refunds []domain.Refund) PaymentResponse {
	resp := PaymentResponse{
		ID:                   p.ID.String(),
		PayerID:              p.PayerID,
		FeeReference:         p.FeeReference,
		ApplicationReference: p.ApplicationReference,
		Amount:               p.Amount.StringFixed(2),
		Currency:             p.Currency,
		OrderID:              p.OrderID,
		GatewayPaymentID:     p.GatewayPaymentID,
		PaymentMethod:        p.PaymentMethod,
		Status:               string(p.Status),
		RefundedAmount:       p.RefundedAmount.StringFixed(2),
		RemainingRefundable:  p.RemainingRefundable().StringFixed(2),
		FailureReason:        p.FailureReason,
		PaidAt:               formatTime(p.PaidAt),
		RefundedAt:           formatTime(p.RefundedAt),
		LastRefundID:         p.LastRefundID,
		CreatedAt:            p.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, item := range p.FeeBreakdown {
		resp.FeeBreakdown = append(resp.FeeBreakdown, FeeItemView{Label: item.Label, Amount: item.Amount.StringFixed(2)})
	}
	for _, r := range refunds {
		resp.Refunds = append(resp.Refunds, RefundResponse{
			GatewayRefundID: r.GatewayRefundID,
			Amount:          r.Amount.StringFixed(2),
			GatewayStatus:   r.GatewayStatus,
			Reason:          r.Reason,
			ActorID:         r.ActorID,
			Source:          string(r.Source),
			ProcessedAt:     formatTime(r.ProcessedAt),
		})
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
