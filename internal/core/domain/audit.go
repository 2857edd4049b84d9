package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionOrderCreated      AuditAction = "ORDER_CREATED"
	AuditActionOrderUntracked    AuditAction = "ORDER_UNTRACKED"
	AuditActionPaymentCaptured   AuditAction = "PAYMENT_CAPTURED"
	AuditActionPaymentFailed     AuditAction = "PAYMENT_FAILED"
	AuditActionVerifyMismatch    AuditAction = "VERIFY_MISMATCH"
	AuditActionRefundIssued      AuditAction = "REFUND_ISSUED"
	AuditActionRefundRecorded    AuditAction = "REFUND_RECORDED"
	AuditActionReconciliationRun AuditAction = "RECONCILIATION_RUN"
	AuditActionAccessDenied      AuditAction = "ACCESS_DENIED"
	AuditActionAmountMismatch    AuditAction = "CAPTURE_AMOUNT_MISMATCH"
	AuditActionRefundReleased    AuditAction = "REFUND_CLAIM_RELEASED"
)

// Audited entity types.
const (
	EntityPayment        = "payment"
	EntityOrder          = "order"
	EntityReconciliation = "reconciliation"
	EntityRoute          = "route"
)

// SystemActor is the actor id recorded for gateway- and scheduler-driven actions.
const SystemActor = "system"

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID         uuid.UUID   `json:"id"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Action     AuditAction `json:"action"`
	ActorID    string      `json:"actor_id"`
	Metadata   string      `json:"metadata,omitempty"` // JSON string
	CreatedAt  time.Time   `json:"created_at"`
}
