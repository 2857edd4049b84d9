package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HookStatus represents the delivery state of an outbound collaborator hook.
type HookStatus string

const (
	HookStatusPending   HookStatus = "PENDING"
	HookStatusDelivered HookStatus = "DELIVERED"
	HookStatusFailed    HookStatus = "FAILED"
)

// HookKindFeeSettlement identifies the fee ledger increment hook.
const HookKindFeeSettlement = "FEE_SETTLEMENT"

// FeeSettlement is the payload handed to the fee ledger collaborator when a
// payment reaches SUCCESS.
type FeeSettlement struct {
	FeeReference string          `json:"fee_reference"`
	AmountPaid   decimal.Decimal `json:"amount_paid"`
	PaymentID    uuid.UUID       `json:"payment_id"`
	PayerID      string          `json:"payer_id"`
	PaidAt       time.Time       `json:"paid_at"`
}

// HookDelivery records each outbound hook delivery and its attempts.
type HookDelivery struct {
	ID         uuid.UUID  `json:"id"`
	Kind       string     `json:"kind"`
	PaymentID  uuid.UUID  `json:"payment_id"`
	TargetURL  string     `json:"target_url"`
	Payload    string     `json:"payload"` // JSON string
	HTTPStatus *int       `json:"http_status"`
	Attempt    int        `json:"attempt"`
	Status     HookStatus `json:"status"`
	LastError  *string    `json:"last_error"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
