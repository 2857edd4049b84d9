package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"hostel-payments/internal/adapter/storage/memory"
	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"
	"hostel-payments/internal/core/ports/mocks"
	"hostel-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testOrderConfig = OrderConfig{
	PublicKey:    "rzp_test_key",
	Currency:     "INR",
	CheckoutName: "Hostel Administration",
}

func newOrderFixture(t *testing.T) (*OrderServiceImpl, *memory.PaymentRepo, *mocks.MockGatewayClient, *recordingAudit) {
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockGatewayClient(ctrl)
	repo := memory.NewPaymentRepo()
	audit := &recordingAudit{}
	svc := NewOrderService(repo, gateway, memory.NewInitiationLock(), audit, testOrderConfig, newTestLogger())
	return svc, repo, gateway, audit
}

func baseInitiate() ports.InitiateRequest {
	return ports.InitiateRequest{
		PayerID:        "stu-42",
		Amount:         dec("5000"),
		FeeReference:   strPtr("fee-2026-h1"),
		IdempotencyKey: "checkout-1",
		FeeBreakdown: []domain.FeeItem{
			{Label: "room rent", Amount: dec("4500")},
			{Label: "mess", Amount: dec("500")},
		},
	}
}

func TestOrderService_Initiate_Success(t *testing.T) {
	svc, repo, gateway, audit := newOrderFixture(t)

	gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.CreateOrderRequest) (*domain.GatewayOrder, error) {
			assert.Equal(t, int64(500000), req.AmountMinor)
			assert.Equal(t, "INR", req.Currency)
			assert.Equal(t, req.Receipt, req.Notes["payment_id"])
			assert.Equal(t, "fee-2026-h1", req.Notes["fee_reference"])
			return &domain.GatewayOrder{ID: "order_1", Amount: req.AmountMinor, Currency: "INR", Raw: []byte(`{"id":"order_1"}`)}, nil
		})

	result, err := svc.Initiate(context.Background(), baseInitiate())
	require.NoError(t, err)

	assert.Equal(t, "order_1", result.OrderID)
	assert.Equal(t, "rzp_test_key", result.PublicKey)
	assert.Equal(t, int64(500000), result.AmountMinorUnits)
	assert.Equal(t, "INR", result.Currency)
	assert.Equal(t, domain.PaymentStatusInitiated, result.Status)
	assert.Equal(t, "checkout-1", result.IdempotencyKey)
	assert.False(t, result.Replayed)

	stored, err := repo.GetByID(context.Background(), result.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.PaymentStatusInitiated, stored.Status)
	assert.Len(t, stored.FeeBreakdown, 2)
	assert.Equal(t, []domain.AuditAction{domain.AuditActionOrderCreated}, audit.actions())
}

func TestOrderService_Initiate_SameKeyReturnsSameOrder(t *testing.T) {
	svc, _, gateway, _ := newOrderFixture(t)

	gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).
		Return(&domain.GatewayOrder{ID: "order_1"}, nil).
		Times(1)

	first, err := svc.Initiate(context.Background(), baseInitiate())
	require.NoError(t, err)
	second, err := svc.Initiate(context.Background(), baseInitiate())
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.True(t, second.Replayed)
}

func TestOrderService_Initiate_KeyReuseWithDifferentAmount(t *testing.T) {
	svc, _, gateway, _ := newOrderFixture(t)
	gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(&domain.GatewayOrder{ID: "order_1"}, nil)

	_, err := svc.Initiate(context.Background(), baseInitiate())
	require.NoError(t, err)

	req := baseInitiate()
	req.Amount = dec("4000")
	req.FeeBreakdown = nil
	_, err = svc.Initiate(context.Background(), req)
	assert.Equal(t, "VAL_001", apperror.CodeOf(err))
}

func TestOrderService_Initiate_SettledPaymentReturnedAsIs(t *testing.T) {
	svc, repo, _, _ := newOrderFixture(t)
	settled := seedSettled(t, repo, "order_paid", "pay_1", "5000", time.Now())

	req := baseInitiate()
	req.IdempotencyKey = settled.IdempotencyKey
	result, err := svc.Initiate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "order_paid", result.OrderID)
	assert.Equal(t, domain.PaymentStatusSuccess, result.Status)
	assert.True(t, result.Replayed)
}

func TestOrderService_Initiate_FailedPaymentFreesKey(t *testing.T) {
	svc, repo, gateway, _ := newOrderFixture(t)
	failed := seedInitiated(t, repo, "order_failed")
	_, err := repo.MarkFailed(context.Background(), failed.ID, domain.FailureDetails{Reason: "card declined"})
	require.NoError(t, err)

	gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(&domain.GatewayOrder{ID: "order_retry"}, nil)

	req := baseInitiate()
	req.IdempotencyKey = failed.IdempotencyKey
	result, err := svc.Initiate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "order_retry", result.OrderID)
	assert.NotEqual(t, failed.ID, result.PaymentID)
}

func TestOrderService_Initiate_ConcurrentSameKey(t *testing.T) {
	svc, _, gateway, _ := newOrderFixture(t)

	gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, domain.CreateOrderRequest) (*domain.GatewayOrder, error) {
			time.Sleep(20 * time.Millisecond)
			return &domain.GatewayOrder{ID: "order_once"}, nil
		}).Times(1)

	const n = 20
	var wg sync.WaitGroup
	results := make([]*ports.InitiateResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Initiate(context.Background(), baseInitiate())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			assert.Equal(t, "PAY_009", apperror.CodeOf(errs[i]))
			assert.True(t, apperror.IsRetryable(errs[i]))
			continue
		}
		succeeded++
		assert.Equal(t, "order_once", results[i].OrderID)
	}
	assert.GreaterOrEqual(t, succeeded, 1)
}

func TestOrderService_Initiate_LockHeld(t *testing.T) {
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockGatewayClient(ctrl)
	lock := mocks.NewMockInitiationLock(ctrl)
	svc := NewOrderService(memory.NewPaymentRepo(), gateway, lock, &recordingAudit{}, testOrderConfig, newTestLogger())

	lock.EXPECT().Acquire(gomock.Any(), "stu-42:checkout-1", defaultInitiationLockTTL).Return(false, nil)

	_, err := svc.Initiate(context.Background(), baseInitiate())
	assert.Equal(t, "PAY_009", apperror.CodeOf(err))
}

func TestOrderService_Initiate_LockErrorContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockGatewayClient(ctrl)
	lock := mocks.NewMockInitiationLock(ctrl)
	svc := NewOrderService(memory.NewPaymentRepo(), gateway, lock, &recordingAudit{}, testOrderConfig, newTestLogger())

	lock.EXPECT().Acquire(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("redis down"))
	gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(&domain.GatewayOrder{ID: "order_1"}, nil)

	result, err := svc.Initiate(context.Background(), baseInitiate())
	require.NoError(t, err)
	assert.Equal(t, "order_1", result.OrderID)
}

func TestOrderService_Initiate_GatewayUnavailable(t *testing.T) {
	svc, repo, gateway, _ := newOrderFixture(t)
	gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))

	_, err := svc.Initiate(context.Background(), baseInitiate())
	require.Error(t, err)
	assert.Equal(t, "GW_001", apperror.CodeOf(err))
	assert.True(t, apperror.IsRetryable(err))

	existing, err := repo.GetByIdempotencyKey(context.Background(), "stu-42", "checkout-1")
	require.NoError(t, err)
	assert.Nil(t, existing)
}

func TestOrderService_Initiate_PersistenceFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockGatewayClient(ctrl)
	repo := mocks.NewMockPaymentRepository(ctrl)
	audit := &recordingAudit{}
	svc := NewOrderService(repo, gateway, nil, audit, testOrderConfig, newTestLogger())

	repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "stu-42", "checkout-1").Return(nil, nil)
	gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(&domain.GatewayOrder{ID: "order_lost"}, nil)
	repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	_, err := svc.Initiate(context.Background(), baseInitiate())
	require.Error(t, err)
	assert.Equal(t, "SYS_002", apperror.CodeOf(err))
	require.Equal(t, []domain.AuditAction{domain.AuditActionOrderUntracked}, audit.actions())
	assert.Equal(t, "order_lost", audit.entries[0].EntityID)
}

func TestOrderService_Initiate_LostInsertRaceReturnsWinner(t *testing.T) {
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockGatewayClient(ctrl)
	repo := mocks.NewMockPaymentRepository(ctrl)
	svc := NewOrderService(repo, gateway, nil, &recordingAudit{}, testOrderConfig, newTestLogger())

	winner := &domain.Payment{
		ID:             uuid.New(),
		PayerID:        "stu-42",
		Amount:         dec("5000"),
		Currency:       "INR",
		OrderID:        "order_winner",
		Status:         domain.PaymentStatusInitiated,
		IdempotencyKey: "checkout-1",
	}
	gomock.InOrder(
		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "stu-42", "checkout-1").Return(nil, nil),
		gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(&domain.GatewayOrder{ID: "order_loser"}, nil),
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(ports.ErrDuplicateIdempotencyKey),
		repo.EXPECT().GetByIdempotencyKey(gomock.Any(), "stu-42", "checkout-1").Return(winner, nil),
	)

	result, err := svc.Initiate(context.Background(), baseInitiate())
	require.NoError(t, err)
	assert.Equal(t, "order_winner", result.OrderID)
	assert.True(t, result.Replayed)
}

func TestOrderService_Initiate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ports.InitiateRequest)
	}{
		{"missing payer", func(r *ports.InitiateRequest) { r.PayerID = "" }},
		{"zero amount", func(r *ports.InitiateRequest) { r.Amount = dec("0"); r.FeeBreakdown = nil }},
		{"negative amount", func(r *ports.InitiateRequest) { r.Amount = dec("-10"); r.FeeBreakdown = nil }},
		{"sub-paisa amount", func(r *ports.InitiateRequest) { r.Amount = dec("10.005"); r.FeeBreakdown = nil }},
		{"breakdown mismatch", func(r *ports.InitiateRequest) { r.Amount = dec("5001") }},
		{"unlabelled item", func(r *ports.InitiateRequest) { r.FeeBreakdown[0].Label = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, _ := newOrderFixture(t)
			req := baseInitiate()
			tt.mutate(&req)

			_, err := svc.Initiate(context.Background(), req)
			assert.Equal(t, "VAL_001", apperror.CodeOf(err))
		})
	}
}

func TestOrderService_Initiate_GeneratedKey(t *testing.T) {
	svc, _, gateway, _ := newOrderFixture(t)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	gateway.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).Return(&domain.GatewayOrder{ID: "order_1"}, nil).Times(1)

	req := baseInitiate()
	req.IdempotencyKey = ""
	first, err := svc.Initiate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.IdempotencyKey, "auto_"))

	// Same inputs at the same instant derive the same key.
	second, err := svc.Initiate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.True(t, second.Replayed)
}

func TestGenerateIdempotencyKey(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := generateIdempotencyKey("stu-42", "5000.00", strPtr("fee-1"), at)
	b := generateIdempotencyKey("stu-42", "5000.00", strPtr("fee-1"), at.Add(time.Nanosecond))
	c := generateIdempotencyKey("stu-42", "5000.00", nil, at)

	assert.Len(t, a, len("auto_")+32)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}
