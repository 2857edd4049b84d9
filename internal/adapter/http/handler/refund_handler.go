package handler

import (
	"hostel-payments/internal/adapter/http/dto"
	"hostel-payments/internal/adapter/http/middleware"
	"hostel-payments/internal/core/ports"
	"hostel-payments/pkg/apperror"
	"hostel-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RefundHandler handles staff-issued refunds.
type RefundHandler struct {
	refunds ports.RefundService
}

// NewRefundHandler creates a new RefundHandler.
func NewRefundHandler(refunds ports.RefundService) *RefundHandler {
	return &RefundHandler{refunds: refunds}
}

// Refund handles POST /api/v1/payments/:id/refunds.
func (h *RefundHandler) Refund(c *gin.Context) {
	actor := middleware.StaffID(c)
	if actor == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.refunds.Refund(c.Request.Context(), ports.RefundRequest{
		PaymentID: id,
		Amount:    req.Amount,
		Reason:    req.Reason,
		ActorID:   actor,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewRefundIssuedResponse(result))
}
