package dto

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	Register(v)
	return v
}

func validInitiate() InitiateOrderRequest {
	return InitiateOrderRequest{
		PayerID: "stu-42",
		Amount:  decimal.RequireFromString("5000.50"),
	}
}

func TestInitiateOrderRequest_Valid(t *testing.T) {
	v := newValidator()
	feeRef := "fee-2026-h1"
	req := validInitiate()
	req.FeeReference = &feeRef
	req.FeeBreakdown = []FeeItemRequest{
		{Label: "Room rent", Amount: decimal.RequireFromString("4500")},
		{Label: "Mess", Amount: decimal.RequireFromString("500.50")},
	}
	assert.NoError(t, v.Struct(req))
}

func TestInitiateOrderRequest_RejectsBadAmounts(t *testing.T) {
	v := newValidator()
	for _, amount := range []string{"0", "-10", "10.005"} {
		req := validInitiate()
		req.Amount = decimal.RequireFromString(amount)
		assert.Error(t, v.Struct(req), "amount %s", amount)
	}
}

func TestInitiateOrderRequest_RejectsUnsafePayer(t *testing.T) {
	v := newValidator()
	req := validInitiate()
	req.PayerID = "stu 42; drop"
	assert.Error(t, v.Struct(req))

	req = validInitiate()
	req.PayerID = ""
	assert.Error(t, v.Struct(req))
}

func TestInitiateOrderRequest_ValidatesBreakdownItems(t *testing.T) {
	v := newValidator()
	req := validInitiate()
	req.FeeBreakdown = []FeeItemRequest{{Label: "", Amount: decimal.RequireFromString("10")}}
	assert.Error(t, v.Struct(req))
}

func TestRefundRequest_OptionalAmount(t *testing.T) {
	v := newValidator()
	assert.NoError(t, v.Struct(RefundRequest{Reason: "room vacated"}))

	zero := decimal.Zero
	assert.Error(t, v.Struct(RefundRequest{Amount: &zero, Reason: "room vacated"}))
	assert.Error(t, v.Struct(RefundRequest{}))
}

func TestVerifyRequest_SignatureMustBeHex(t *testing.T) {
	v := newValidator()
	req := VerifyRequest{OrderID: "order_1", GatewayPaymentID: "pay_1", Signature: "abc123"}
	require.NoError(t, v.Struct(req))

	req.Signature = "not-hex!"
	assert.Error(t, v.Struct(req))
}

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := RefundRequest{Reason: "  room vacated  "}
	SanitizeStruct(&req)
	assert.Equal(t, "room vacated", req.Reason)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := RefundRequest{Reason: "duplicate <script>alert('x')</script> charge"}
	SanitizeStruct(&req)

	assert.Contains(t, req.Reason, "&lt;script&gt;")
	assert.NotContains(t, req.Reason, "<script>")
}

func TestSanitizeStruct_HandlesPointersAndSlices(t *testing.T) {
	feeRef := "  fee-2026-h1  "
	req := InitiateOrderRequest{
		PayerID:      " stu-42 ",
		FeeReference: &feeRef,
		FeeBreakdown: []FeeItemRequest{{Label: " <b>Mess</b> "}},
	}
	SanitizeStruct(&req)

	assert.Equal(t, "stu-42", req.PayerID)
	assert.Equal(t, "fee-2026-h1", *req.FeeReference)
	assert.Equal(t, "&lt;b&gt;Mess&lt;/b&gt;", req.FeeBreakdown[0].Label)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	req := RefundRequest{Reason: " x "}
	SanitizeStruct(req)
	assert.Equal(t, " x ", req.Reason)
}
