package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReconciliationStatus is the outcome of a reconciliation run.
type ReconciliationStatus string

const (
	ReconciliationSuccess ReconciliationStatus = "SUCCESS"
	ReconciliationPartial ReconciliationStatus = "PARTIAL"
	ReconciliationFailed  ReconciliationStatus = "FAILED"
)

// ReconciliationTrigger records who started a run.
type ReconciliationTrigger string

const (
	TriggerScheduled ReconciliationTrigger = "SCHEDULED"
	TriggerManual    ReconciliationTrigger = "MANUAL"
)

// DiscrepancyType classifies a difference between ledger and settlements.
type DiscrepancyType string

const (
	DiscrepancyAmountMismatch      DiscrepancyType = "AMOUNT_MISMATCH"
	DiscrepancyMissingInLedger     DiscrepancyType = "MISSING_IN_LEDGER"
	DiscrepancyMissingInGateway    DiscrepancyType = "MISSING_IN_GATEWAY"
	DiscrepancyDuplicateSettlement DiscrepancyType = "DUPLICATE_SETTLEMENT"
)

// Severity ranks how urgently a discrepancy needs attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severity returns the fixed severity of a discrepancy type.
func (t DiscrepancyType) Severity() Severity {
	switch t {
	case DiscrepancyMissingInLedger:
		return SeverityCritical
	case DiscrepancyAmountMismatch:
		return SeverityHigh
	case DiscrepancyDuplicateSettlement:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Discrepancy is one difference found by a run.
type Discrepancy struct {
	Type             DiscrepancyType  `json:"type"`
	Severity         Severity         `json:"severity"`
	GatewayPaymentID string           `json:"gateway_payment_id"`
	PaymentID        *uuid.UUID       `json:"payment_id,omitempty"`
	LocalAmount      *decimal.Decimal `json:"local_amount,omitempty"`
	GatewayAmount    *decimal.Decimal `json:"gateway_amount,omitempty"`
	SettlementID     string           `json:"settlement_id,omitempty"`
	Description      string           `json:"description"`
}

// ReconciliationReport is the persisted result of one run over [From, To).
type ReconciliationReport struct {
	ID              uuid.UUID             `json:"id"`
	From            time.Time             `json:"from"`
	To              time.Time             `json:"to"`
	Trigger         ReconciliationTrigger `json:"trigger"`
	Status          ReconciliationStatus  `json:"status"`
	TotalPayments   int                   `json:"total_payments"`
	TotalAmount     decimal.Decimal       `json:"total_amount"`
	MatchedCount    int                   `json:"matched_count"`
	SettlementCount int                   `json:"settlement_count"`
	Discrepancies   []Discrepancy         `json:"discrepancies"`
	Error           string                `json:"error,omitempty"`
	StartedAt       time.Time             `json:"started_at"`
	CompletedAt     time.Time             `json:"completed_at"`
}

// AddDiscrepancy appends d with its severity filled in.
func (r *ReconciliationReport) AddDiscrepancy(d Discrepancy) {
	d.Severity = d.Type.Severity()
	r.Discrepancies = append(r.Discrepancies, d)
}

// Conclude derives the run status from the discrepancy count. Runs with
// fewer discrepancies than half the local payments are PARTIAL.
func (r *ReconciliationReport) Conclude() {
	n := len(r.Discrepancies)
	switch {
	case r.Error != "":
		r.Status = ReconciliationFailed
	case n == 0:
		r.Status = ReconciliationSuccess
	case n*2 < r.TotalPayments:
		r.Status = ReconciliationPartial
	default:
		r.Status = ReconciliationFailed
	}
}

// CountBySeverity tallies discrepancies per severity.
func (r *ReconciliationReport) CountBySeverity() map[Severity]int {
	out := make(map[Severity]int)
	for _, d := range r.Discrepancies {
		out[d.Severity]++
	}
	return out
}
