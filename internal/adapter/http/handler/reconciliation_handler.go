package handler

import (
	"hostel-payments/internal/adapter/http/dto"
	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"
	"hostel-payments/pkg/apperror"
	"hostel-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReconciliationHandler exposes on-demand runs and stored reports.
type ReconciliationHandler struct {
	svc ports.ReconciliationService
}

// NewReconciliationHandler creates a new ReconciliationHandler.
func NewReconciliationHandler(svc ports.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{svc: svc}
}

// Run handles POST /api/v1/reconciliations. A completed run is returned even
// when its status is FAILED; an error is returned only when the report could
// not be persisted.
func (h *ReconciliationHandler) Run(c *gin.Context) {
	var req dto.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	report, err := h.svc.Run(c.Request.Context(), req.From, req.To, domain.TriggerManual)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}

// Get handles GET /api/v1/reconciliations/:id.
func (h *ReconciliationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid report id"))
		return
	}

	report, err := h.svc.GetReport(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}
