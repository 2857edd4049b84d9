package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"hostel-payments/internal/adapter/storage/memory"
	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testCheckoutSecret = "rzp_test_checkout_secret"
	testWebhookSecret  = "whsec_test"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strPtr(s string) *string { return &s }

// recordingAudit collects audit entries synchronously.
type recordingAudit struct {
	mu      sync.Mutex
	entries []ports.AuditEntry
}

func (a *recordingAudit) Log(_ context.Context, entry ports.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *recordingAudit) actions() []domain.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AuditAction, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func (a *recordingAudit) count(action domain.AuditAction) int {
	n := 0
	for _, got := range a.actions() {
		if got == action {
			n++
		}
	}
	return n
}

// countingHook records fee settlements handed to the fee ledger.
type countingHook struct {
	mu          sync.Mutex
	settlements []domain.FeeSettlement
	err         error
}

func (h *countingHook) Enqueue(_ context.Context, s domain.FeeSettlement) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settlements = append(h.settlements, s)
	return h.err
}

func (h *countingHook) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.settlements)
}

// seedInitiated stores an INITIATED payment for 5000.00 and returns it.
func seedInitiated(t *testing.T, repo *memory.PaymentRepo, orderID string) *domain.Payment {
	t.Helper()
	return seedPayment(t, repo, orderID, "5000")
}

func seedPayment(t *testing.T, repo *memory.PaymentRepo, orderID, amount string) *domain.Payment {
	t.Helper()
	now := time.Now().UTC()
	p := &domain.Payment{
		ID:             uuid.New(),
		PayerID:        "stu-42",
		FeeReference:   strPtr("fee-2026-h1"),
		Amount:         dec(amount),
		Currency:       "INR",
		OrderID:        orderID,
		Status:         domain.PaymentStatusInitiated,
		IdempotencyKey: "key-" + orderID,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

// seedSettled stores a payment already captured at paidAt.
func seedSettled(t *testing.T, repo *memory.PaymentRepo, orderID, gatewayPaymentID, amount string, paidAt time.Time) *domain.Payment {
	t.Helper()
	p := seedPayment(t, repo, orderID, amount)
	changed, err := repo.MarkSuccess(context.Background(), p.ID, domain.CaptureDetails{
		GatewayPaymentID: gatewayPaymentID,
		Method:           "upi",
		PaidAt:           paidAt,
	})
	require.NoError(t, err)
	require.True(t, changed)

	got, err := repo.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	return got
}

func capturedGatewayPayment(id, orderID string, amountMinor int64) *domain.GatewayPayment {
	return &domain.GatewayPayment{
		ID:        id,
		OrderID:   orderID,
		Amount:    amountMinor,
		Currency:  "INR",
		Status:    domain.GatewayPaymentCaptured,
		Method:    "upi",
		Captured:  true,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Unix(),
	}
}
