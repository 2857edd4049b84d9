package handler

import (
	"math"
	"strconv"
	"time"

	"hostel-payments/internal/adapter/http/dto"
	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"
	"hostel-payments/pkg/apperror"
	"hostel-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey may carry the idempotency key instead of the body.
const HeaderIdempotencyKey = "Idempotency-Key"

// PaymentHandler handles checkout and ledger read endpoints.
type PaymentHandler struct {
	orders    ports.OrderService
	verifier  ports.VerificationService
	reporting ports.ReportingService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(orders ports.OrderService, verifier ports.VerificationService, reporting ports.ReportingService) *PaymentHandler {
	return &PaymentHandler{orders: orders, verifier: verifier, reporting: reporting}
}

// InitiateOrder handles POST /api/v1/payments/orders.
func (h *PaymentHandler) InitiateOrder(c *gin.Context) {
	var req dto.InitiateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader(HeaderIdempotencyKey)
	}

	breakdown := make([]domain.FeeItem, 0, len(req.FeeBreakdown))
	for _, item := range req.FeeBreakdown {
		breakdown = append(breakdown, domain.FeeItem{Label: item.Label, Amount: item.Amount})
	}

	result, err := h.orders.Initiate(c.Request.Context(), ports.InitiateRequest{
		PayerID:              req.PayerID,
		Amount:               req.Amount,
		FeeReference:         req.FeeReference,
		ApplicationReference: req.ApplicationReference,
		FeeBreakdown:         breakdown,
		IdempotencyKey:       key,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.InitiateOrderResponse{
		PaymentID:      result.PaymentID.String(),
		OrderID:        result.OrderID,
		Key:            result.PublicKey,
		Amount:         result.AmountMinorUnits,
		Currency:       result.Currency,
		Status:         string(result.Status),
		Name:           result.CheckoutName,
		Description:    result.Description,
		IdempotencyKey: result.IdempotencyKey,
		Notes:          result.Notes,
		Replayed:       result.Replayed,
	}
	if result.Replayed {
		response.OK(c, resp)
		return
	}
	response.Created(c, resp)
}

// Verify handles POST /api/v1/payments/verify.
func (h *PaymentHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	payment, err := h.verifier.Verify(c.Request.Context(), ports.VerifyRequest{
		OrderID:          req.OrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewPaymentResponse(payment, nil))
}

// GetPayment handles GET /api/v1/payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	payment, refunds, err := h.reporting.GetPayment(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewPaymentResponse(payment, refunds))
}

// ListPayments handles GET /api/v1/payments.
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	params := ports.PaymentListParams{
		PayerID:  c.Query("payer_id"),
		Page:     page,
		PageSize: pageSize,
	}
	if s := c.Query("status"); s != "" {
		status := domain.PaymentStatus(s)
		params.Status = &status
	}
	from, to, err := parseRange(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	params.From, params.To = from, to

	payments, total, err := h.reporting.ListPayments(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.PaymentResponse, 0, len(payments))
	for i := range payments {
		items = append(items, dto.NewPaymentResponse(&payments[i], nil))
	}

	response.OK(c, dto.PaymentListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	})
}

// GetStats handles GET /api/v1/payments/stats.
func (h *PaymentHandler) GetStats(c *gin.Context) {
	from, to, err := parseRange(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	stats, err := h.reporting.GetStats(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.StatsResponse{
		TotalPayments:     stats.TotalPayments,
		Initiated:         stats.Initiated,
		Successful:        stats.Successful,
		Failed:            stats.Failed,
		RefundPending:     stats.RefundPending,
		PartiallyRefunded: stats.PartiallyRefunded,
		Refunded:          stats.Refunded,
		TotalCollected:    stats.TotalCollected.StringFixed(2),
		TotalRefunded:     stats.TotalRefunded.StringFixed(2),
	})
}

// parseRange reads the optional RFC 3339 from/to query parameters.
func parseRange(c *gin.Context) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if s := c.Query("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, nil, apperror.Validation("from must be an RFC 3339 timestamp")
		}
		from = &t
	}
	if s := c.Query("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, nil, apperror.Validation("to must be an RFC 3339 timestamp")
		}
		to = &t
	}
	return from, to, nil
}
