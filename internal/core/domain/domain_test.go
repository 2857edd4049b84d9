package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from PaymentStatus
		to   PaymentStatus
		want bool
	}{
		{"initiated to success", PaymentStatusInitiated, PaymentStatusSuccess, true},
		{"initiated to failed", PaymentStatusInitiated, PaymentStatusFailed, true},
		{"initiated to refunded", PaymentStatusInitiated, PaymentStatusRefunded, false},
		{"success to failed", PaymentStatusSuccess, PaymentStatusFailed, false},
		{"success to refund pending", PaymentStatusSuccess, PaymentStatusRefundPending, true},
		{"success to initiated", PaymentStatusSuccess, PaymentStatusInitiated, false},
		{"pending to refunded", PaymentStatusRefundPending, PaymentStatusRefunded, true},
		{"pending released", PaymentStatusRefundPending, PaymentStatusSuccess, true},
		{"partial to partial", PaymentStatusPartiallyRefunded, PaymentStatusPartiallyRefunded, true},
		{"partial to success", PaymentStatusPartiallyRefunded, PaymentStatusSuccess, false},
		{"failed to success", PaymentStatusFailed, PaymentStatusSuccess, false},
		{"refunded to anything", PaymentStatusRefunded, PaymentStatusPartiallyRefunded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPaymentStatus_Predicates(t *testing.T) {
	tests := []struct {
		status   PaymentStatus
		terminal bool
		refund   bool
		settled  bool
	}{
		{PaymentStatusInitiated, false, false, false},
		{PaymentStatusSuccess, false, false, true},
		{PaymentStatusFailed, true, false, false},
		{PaymentStatusRefundPending, false, true, true},
		{PaymentStatusPartiallyRefunded, false, true, true},
		{PaymentStatusRefunded, true, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.True(t, tt.status.Valid())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.refund, tt.status.IsRefundState())
			assert.Equal(t, tt.settled, tt.status.IsSettled())
		})
	}
	assert.False(t, PaymentStatus("PENDING").Valid())
}

func TestPayment_RefundHelpers(t *testing.T) {
	gw := "pay_1"
	p := &Payment{
		Amount:           decimal.RequireFromString("5000"),
		RefundedAmount:   decimal.RequireFromString("1500"),
		Status:           PaymentStatusPartiallyRefunded,
		GatewayPaymentID: &gw,
	}

	assert.True(t, p.RemainingRefundable().Equal(decimal.RequireFromString("3500")))
	assert.True(t, p.IsRefundable())
	assert.Equal(t, PaymentStatusPartiallyRefunded, p.StatusAfterRefund(decimal.RequireFromString("4999.99")))
	assert.Equal(t, PaymentStatusRefunded, p.StatusAfterRefund(decimal.RequireFromString("5000")))
	assert.Equal(t, PaymentStatusPartiallyRefunded, p.ReleasedStatus())

	p.RefundedAmount = decimal.Zero
	assert.Equal(t, PaymentStatusSuccess, p.ReleasedStatus())

	p.GatewayPaymentID = nil
	assert.False(t, p.IsRefundable())
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(500000), ToMinor(decimal.RequireFromString("5000")))
	assert.Equal(t, int64(1999), ToMinor(decimal.RequireFromString("19.99")))
	assert.True(t, FromMinor(1999).Equal(decimal.RequireFromString("19.99")))

	assert.True(t, HasMinorPrecision(decimal.RequireFromString("10.50")))
	assert.False(t, HasMinorPrecision(decimal.RequireFromString("10.505")))
}

func TestSumFees(t *testing.T) {
	items := []FeeItem{
		{Label: "rent", Amount: decimal.RequireFromString("4500")},
		{Label: "mess", Amount: decimal.RequireFromString("499.50")},
		{Label: "laundry", Amount: decimal.RequireFromString("0.50")},
	}
	assert.True(t, SumFees(items).Equal(decimal.RequireFromString("5000")))
	assert.True(t, SumFees(nil).IsZero())
}

func TestBuildInitiationKey(t *testing.T) {
	assert.Equal(t, "stu-42:ORD-001", BuildInitiationKey("stu-42", "ORD-001"))
}

func TestReconciliationReport_Conclude(t *testing.T) {
	tests := []struct {
		name          string
		total         int
		discrepancies int
		err           string
		want          ReconciliationStatus
	}{
		{"clean", 10, 0, "", ReconciliationSuccess},
		{"few", 10, 4, "", ReconciliationPartial},
		{"half", 10, 5, "", ReconciliationFailed},
		{"empty ledger with extras", 0, 1, "", ReconciliationFailed},
		{"feed unreachable", 10, 0, "timeout", ReconciliationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ReconciliationReport{TotalPayments: tt.total, Error: tt.err}
			for i := 0; i < tt.discrepancies; i++ {
				r.AddDiscrepancy(Discrepancy{Type: DiscrepancyMissingInGateway})
			}
			r.Conclude()
			assert.Equal(t, tt.want, r.Status)
		})
	}
}

func TestDiscrepancyType_Severity(t *testing.T) {
	assert.Equal(t, SeverityCritical, DiscrepancyMissingInLedger.Severity())
	assert.Equal(t, SeverityHigh, DiscrepancyAmountMismatch.Severity())
	assert.Equal(t, SeverityMedium, DiscrepancyDuplicateSettlement.Severity())
	assert.Equal(t, SeverityLow, DiscrepancyMissingInGateway.Severity())

	r := &ReconciliationReport{}
	r.AddDiscrepancy(Discrepancy{Type: DiscrepancyMissingInLedger})
	r.AddDiscrepancy(Discrepancy{Type: DiscrepancyMissingInLedger})
	r.AddDiscrepancy(Discrepancy{Type: DiscrepancyAmountMismatch})
	counts := r.CountBySeverity()
	assert.Equal(t, 2, counts[SeverityCritical])
	assert.Equal(t, 1, counts[SeverityHigh])
}

func TestWebhookEvent_Decode(t *testing.T) {
	body := `{"event":"refund.created","payload":{
		"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_1","amount":150000,"status":"processed"}},
		"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":500000,"status":"captured","method":"upi"}}
	},"created_at":1700000000}`

	var evt WebhookEvent
	require.NoError(t, json.Unmarshal([]byte(body), &evt))

	assert.Equal(t, EventRefundCreated, evt.Event)
	require.NotNil(t, evt.RefundEntity())
	assert.Equal(t, int64(150000), evt.RefundEntity().Amount)
	require.NotNil(t, evt.PaymentEntity())
	assert.Equal(t, "order_1", evt.PaymentEntity().OrderID)
	assert.True(t, evt.PaymentEntity().IsSuccessful())
}

func TestGatewayPayment_Helpers(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	p := &GatewayPayment{Status: GatewayPaymentFailed, ErrorDescription: "card declined"}
	assert.False(t, p.IsSuccessful())
	assert.Equal(t, "card declined", p.FailureReason())
	assert.Equal(t, now, p.PaidAt(now))

	p = &GatewayPayment{Status: GatewayPaymentFailed}
	assert.Equal(t, "payment failed at gateway", p.FailureReason())

	p = &GatewayPayment{Status: GatewayPaymentCaptured, CreatedAt: 1700000000}
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), p.PaidAt(now))
}
