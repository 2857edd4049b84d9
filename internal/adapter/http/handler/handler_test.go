package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"
	"hostel-payments/internal/core/ports/mocks"
	"hostel-payments/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testDeps struct {
	orders    *mocks.MockOrderService
	verifier  *mocks.MockVerificationService
	webhooks  *mocks.MockWebhookProcessor
	refunds   *mocks.MockRefundService
	recon     *mocks.MockReconciliationService
	reporting *mocks.MockReportingService
	tokens    *mocks.MockTokenService
	router    *gin.Engine
}

func newTestRouter(t *testing.T, checkers ...ports.HealthChecker) *testDeps {
	ctrl := gomock.NewController(t)
	d := &testDeps{
		orders:    mocks.NewMockOrderService(ctrl),
		verifier:  mocks.NewMockVerificationService(ctrl),
		webhooks:  mocks.NewMockWebhookProcessor(ctrl),
		refunds:   mocks.NewMockRefundService(ctrl),
		recon:     mocks.NewMockReconciliationService(ctrl),
		reporting: mocks.NewMockReportingService(ctrl),
		tokens:    mocks.NewMockTokenService(ctrl),
	}
	d.tokens.EXPECT().Validate("warden-token").Return(&ports.TokenClaims{StaffID: "warden-1", Role: "warden"}, nil).AnyTimes()
	d.tokens.EXPECT().Validate("clerk-token").Return(&ports.TokenClaims{StaffID: "clerk-1", Role: "clerk"}, nil).AnyTimes()

	d.router = SetupRouter(RouterDeps{
		OrderSvc:          d.orders,
		VerificationSvc:   d.verifier,
		WebhookProcessor:  d.webhooks,
		RefundSvc:         d.refunds,
		ReconciliationSvc: d.recon,
		ReportingSvc:      d.reporting,
		TokenSvc:          d.tokens,
		RefundRoles:       []string{"admin", "warden"},
		HealthCheckers:    checkers,
		Logger:            zerolog.Nop(),
	})
	return d
}

func (d *testDeps) do(method, path, token string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func errorCodeOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	code, _ := resp["error_code"].(string)
	return code
}

func samplePayment(status domain.PaymentStatus) *domain.Payment {
	gw := "pay_123"
	return &domain.Payment{
		ID:               uuid.New(),
		PayerID:          "stu-42",
		Amount:           decimal.RequireFromString("5000"),
		Currency:         "INR",
		OrderID:          "order_123",
		Status:           status,
		GatewayPaymentID: &gw,
		RefundedAmount:   decimal.Zero,
		CreatedAt:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// --- Order initiation ---

func TestInitiateOrder_Created(t *testing.T) {
	d := newTestRouter(t)
	paymentID := uuid.New()

	d.orders.EXPECT().Initiate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.InitiateRequest) (*ports.InitiateResult, error) {
			assert.Equal(t, "stu-42", req.PayerID)
			assert.True(t, req.Amount.Equal(decimal.RequireFromString("5000.50")))
			assert.Equal(t, "hdr-key-1", req.IdempotencyKey)
			require.Len(t, req.FeeBreakdown, 2)
			assert.Equal(t, "Room rent", req.FeeBreakdown[0].Label)
			return &ports.InitiateResult{
				PaymentID:        paymentID,
				OrderID:          "order_abc",
				PublicKey:        "rzp_test_key",
				AmountMinorUnits: 500050,
				Currency:         "INR",
				Status:           domain.PaymentStatusInitiated,
				CheckoutName:     "Hostel Administration",
				IdempotencyKey:   req.IdempotencyKey,
			}, nil
		})

	body := []byte(`{"payer_id":"stu-42","amount":"5000.50","fee_breakdown":[{"label":"Room rent","amount":4500},{"label":"Mess","amount":"500.50"}]}`)
	w := d.do(http.MethodPost, "/api/v1/payments/orders", "", body, map[string]string{HeaderIdempotencyKey: "hdr-key-1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, paymentID.String(), data["payment_id"])
	assert.Equal(t, "order_abc", data["order_id"])
	assert.Equal(t, "rzp_test_key", data["key"])
	assert.EqualValues(t, 500050, data["amount"])
	assert.Equal(t, false, data["replayed"])
}

func TestInitiateOrder_ReplayReturnsOK(t *testing.T) {
	d := newTestRouter(t)
	d.orders.EXPECT().Initiate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.InitiateRequest) (*ports.InitiateResult, error) {
			assert.Equal(t, "body-key", req.IdempotencyKey)
			return &ports.InitiateResult{PaymentID: uuid.New(), OrderID: "order_abc", Replayed: true}, nil
		})

	body := []byte(`{"payer_id":"stu-42","amount":100,"idempotency_key":"body-key"}`)
	w := d.do(http.MethodPost, "/api/v1/payments/orders", "", body, map[string]string{HeaderIdempotencyKey: "ignored"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeData(t, w)["replayed"])
}

func TestInitiateOrder_ValidationError(t *testing.T) {
	d := newTestRouter(t)

	for _, body := range []string{
		`{}`,
		`{"payer_id":"stu-42","amount":0}`,
		`{"payer_id":"stu-42","amount":"10.001"}`,
		`{"payer_id":"stu 42","amount":10}`,
		`not json`,
	} {
		w := d.do(http.MethodPost, "/api/v1/payments/orders", "", []byte(body), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "VAL_001", errorCodeOf(t, w), body)
	}
}

func TestInitiateOrder_InProgressIsRetryable(t *testing.T) {
	d := newTestRouter(t)
	d.orders.EXPECT().Initiate(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrRequestInProgress())

	w := d.do(http.MethodPost, "/api/v1/payments/orders", "", []byte(`{"payer_id":"stu-42","amount":100}`), nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAY_009", resp["error_code"])
	assert.Equal(t, true, resp["retryable"])
}

// --- Verification ---

func TestVerify_Success(t *testing.T) {
	d := newTestRouter(t)
	payment := samplePayment(domain.PaymentStatusSuccess)

	d.verifier.EXPECT().Verify(gomock.Any(), ports.VerifyRequest{
		OrderID:          "order_123",
		GatewayPaymentID: "pay_123",
		Signature:        "deadbeef",
	}).Return(payment, nil)

	body := []byte(`{"razorpay_order_id":"order_123","razorpay_payment_id":"pay_123","razorpay_signature":"deadbeef"}`)
	w := d.do(http.MethodPost, "/api/v1/payments/verify", "", body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "SUCCESS", data["status"])
	assert.Equal(t, "5000.00", data["amount"])
}

func TestVerify_InvalidSignature(t *testing.T) {
	d := newTestRouter(t)
	d.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrInvalidSignature())

	body := []byte(`{"razorpay_order_id":"order_123","razorpay_payment_id":"pay_123","razorpay_signature":"00"}`)
	w := d.do(http.MethodPost, "/api/v1/payments/verify", "", body, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_002", errorCodeOf(t, w))
}

// --- Staff reads ---

func TestGetPayment_RequiresToken(t *testing.T) {
	d := newTestRouter(t)
	w := d.do(http.MethodGet, "/api/v1/payments/"+uuid.NewString(), "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetPayment_WithRefunds(t *testing.T) {
	d := newTestRouter(t)
	payment := samplePayment(domain.PaymentStatusPartiallyRefunded)
	payment.RefundedAmount = decimal.RequireFromString("1000")
	refunds := []domain.Refund{{
		GatewayRefundID: "rfnd_1",
		PaymentID:       payment.ID,
		Amount:          decimal.RequireFromString("1000"),
		GatewayStatus:   "processed",
		Source:          domain.RefundSourceAPI,
	}}
	d.reporting.EXPECT().GetPayment(gomock.Any(), payment.ID).Return(payment, refunds, nil)

	w := d.do(http.MethodGet, "/api/v1/payments/"+payment.ID.String(), "clerk-token", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "4000.00", data["remaining_refundable"])
	refundList := data["refunds"].([]interface{})
	require.Len(t, refundList, 1)
	assert.Equal(t, "rfnd_1", refundList[0].(map[string]interface{})["gateway_refund_id"])
}

func TestGetPayment_InvalidID(t *testing.T) {
	d := newTestRouter(t)
	w := d.do(http.MethodGet, "/api/v1/payments/not-a-uuid", "clerk-token", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPayment_NotFound(t *testing.T) {
	d := newTestRouter(t)
	d.reporting.EXPECT().GetPayment(gomock.Any(), gomock.Any()).Return(nil, nil, apperror.ErrNotFound("payment"))

	w := d.do(http.MethodGet, "/api/v1/payments/"+uuid.NewString(), "clerk-token", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PAY_004", errorCodeOf(t, w))
}

func TestListPayments_Filters(t *testing.T) {
	d := newTestRouter(t)
	d.reporting.EXPECT().ListPayments(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, params ports.PaymentListParams) ([]domain.Payment, int64, error) {
			assert.Equal(t, "stu-42", params.PayerID)
			require.NotNil(t, params.Status)
			assert.Equal(t, domain.PaymentStatusSuccess, *params.Status)
			require.NotNil(t, params.From)
			assert.Equal(t, 2026, params.From.Year())
			assert.Nil(t, params.To)
			assert.Equal(t, 2, params.Page)
			assert.Equal(t, 10, params.PageSize)
			return []domain.Payment{*samplePayment(domain.PaymentStatusSuccess)}, 11, nil
		})

	w := d.do(http.MethodGet, "/api/v1/payments?payer_id=stu-42&status=SUCCESS&from=2026-03-01T00:00:00Z&page=2&page_size=10", "clerk-token", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.EqualValues(t, 11, data["total"])
	assert.EqualValues(t, 2, data["total_pages"])
	assert.Len(t, data["items"], 1)
}

func TestListPayments_BadTimestamp(t *testing.T) {
	d := newTestRouter(t)
	w := d.do(http.MethodGet, "/api/v1/payments?from=yesterday", "clerk-token", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetStats(t *testing.T) {
	d := newTestRouter(t)
	d.reporting.EXPECT().GetStats(gomock.Any(), gomock.Nil(), gomock.Nil()).Return(&ports.LedgerStats{
		TotalPayments:  3,
		Successful:     2,
		Failed:         1,
		TotalCollected: decimal.RequireFromString("10000"),
		TotalRefunded:  decimal.Zero,
	}, nil)

	w := d.do(http.MethodGet, "/api/v1/payments/stats", "clerk-token", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.EqualValues(t, 3, data["total_payments"])
	assert.Equal(t, "10000.00", data["total_collected"])
	assert.Equal(t, "0.00", data["total_refunded"])
}

// --- Refunds ---

func TestRefund_WardenIssuesRefund(t *testing.T) {
	d := newTestRouter(t)
	payment := samplePayment(domain.PaymentStatusPartiallyRefunded)

	rid := "rfnd_1"
	payment.LastRefundID = &rid
	processedAt := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)

	d.refunds.EXPECT().Refund(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.RefundRequest) (*ports.RefundResult, error) {
			assert.Equal(t, payment.ID, req.PaymentID)
			assert.Equal(t, "warden-1", req.ActorID)
			assert.Equal(t, "room vacated", req.Reason)
			require.NotNil(t, req.Amount)
			assert.True(t, req.Amount.Equal(decimal.RequireFromString("1500")))
			return &ports.RefundResult{
				GatewayRefundID: rid,
				Amount:          *req.Amount,
				GatewayStatus:   "processed",
				ProcessedAt:     processedAt,
				Payment:         payment,
			}, nil
		})

	body := []byte(`{"amount":"1500","reason":" room vacated "}`)
	w := d.do(http.MethodPost, "/api/v1/payments/"+payment.ID.String()+"/refunds", "warden-token", body, nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "rfnd_1", data["refund_id"])
	assert.Equal(t, "PARTIALLY_REFUNDED", data["status"])
	assert.Equal(t, "1500.00", data["amount"])
	assert.Equal(t, "processed", data["gateway_status"])
	assert.Equal(t, "2026-03-02T10:15:00Z", data["processed_at"])

	view, ok := data["payment"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, payment.ID.String(), view["id"])
	assert.Equal(t, "rfnd_1", view["last_refund_id"])
}

func TestRefund_FullRefundWhenAmountOmitted(t *testing.T) {
	d := newTestRouter(t)
	payment := samplePayment(domain.PaymentStatusRefunded)

	d.refunds.EXPECT().Refund(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.RefundRequest) (*ports.RefundResult, error) {
			assert.Nil(t, req.Amount)
			return &ports.RefundResult{GatewayRefundID: "rfnd_2", Amount: payment.Amount, ProcessedAt: time.Now(), Payment: payment}, nil
		})

	w := d.do(http.MethodPost, "/api/v1/payments/"+payment.ID.String()+"/refunds", "warden-token", []byte(`{"reason":"duplicate"}`), nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRefund_RoleNotAllowed(t *testing.T) {
	d := newTestRouter(t)
	w := d.do(http.MethodPost, "/api/v1/payments/"+uuid.NewString()+"/refunds", "clerk-token", []byte(`{"reason":"x"}`), nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AUTH_004", errorCodeOf(t, w))
}

func TestRefund_ServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperror.ErrAmountExceedsRemaining(), http.StatusBadRequest, "PAY_007"},
		{apperror.ErrInvalidState("payment is not refundable"), http.StatusConflict, "PAY_006"},
		{apperror.ErrGatewayUnavailable(errors.New("timeout")), http.StatusBadGateway, "GW_001"},
	}
	for _, tc := range cases {
		d := newTestRouter(t)
		d.refunds.EXPECT().Refund(gomock.Any(), gomock.Any()).Return(nil, tc.err)

		w := d.do(http.MethodPost, "/api/v1/payments/"+uuid.NewString()+"/refunds", "warden-token", []byte(`{"reason":"x"}`), nil)
		assert.Equal(t, tc.status, w.Code, tc.code)
		assert.Equal(t, tc.code, errorCodeOf(t, w))
	}
}

// --- Webhooks ---

func TestWebhook_PassesRawBodyAndHeaders(t *testing.T) {
	d := newTestRouter(t)
	body := []byte(`{"event":"payment.captured","payload":{}}`)

	d.webhooks.EXPECT().Process(gomock.Any(), "evt_1", body, "sig_abc").Return(nil)

	w := d.do(http.MethodPost, "/api/v1/webhooks/gateway", "", body, map[string]string{
		HeaderWebhookEventID:   "evt_1",
		HeaderWebhookSignature: "sig_abc",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWebhook_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperror.ErrInvalidSignature(), http.StatusUnauthorized},
		{apperror.ErrMalformedPayload(errors.New("bad json")), http.StatusBadRequest},
		{apperror.InternalError(errors.New("db down")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		d := newTestRouter(t)
		d.webhooks.EXPECT().Process(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(tc.err)

		w := d.do(http.MethodPost, "/api/v1/webhooks/gateway", "", []byte(`{}`), nil)
		assert.Equal(t, tc.status, w.Code)
	}
}

// --- Reconciliation ---

func TestReconciliation_RunManual(t *testing.T) {
	d := newTestRouter(t)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	report := &domain.ReconciliationReport{ID: uuid.New(), From: from, To: to, Trigger: domain.TriggerManual, Status: domain.ReconciliationPartial}

	d.recon.EXPECT().Run(gomock.Any(), from, to, domain.TriggerManual).Return(report, nil)

	body := []byte(`{"from":"2026-03-01T00:00:00Z","to":"2026-03-02T00:00:00Z"}`)
	w := d.do(http.MethodPost, "/api/v1/reconciliations", "clerk-token", body, nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, report.ID.String(), data["id"])
	assert.Equal(t, "PARTIAL", data["status"])
}

func TestReconciliation_RejectsInvertedRange(t *testing.T) {
	d := newTestRouter(t)
	body := []byte(`{"from":"2026-03-02T00:00:00Z","to":"2026-03-01T00:00:00Z"}`)
	w := d.do(http.MethodPost, "/api/v1/reconciliations", "clerk-token", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReconciliation_GetNotFound(t *testing.T) {
	d := newTestRouter(t)
	d.recon.EXPECT().GetReport(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrNotFound("reconciliation report"))

	w := d.do(http.MethodGet, "/api/v1/reconciliations/"+uuid.NewString(), "clerk-token", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Health ---

type fakeChecker struct {
	name string
	err  error
}

func (f fakeChecker) Ping(context.Context) error { return f.err }
func (f fakeChecker) Name() string               { return f.name }

func TestHealthCheck(t *testing.T) {
	d := newTestRouter(t, fakeChecker{name: "postgresql"}, fakeChecker{name: "redis"})
	w := d.do(http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	d = newTestRouter(t, fakeChecker{name: "postgresql"}, fakeChecker{name: "redis", err: errors.New("connection refused")})
	w = d.do(http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
