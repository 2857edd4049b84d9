package handler

import (
	"hostel-payments/internal/core/ports"
	"hostel-payments/pkg/apperror"
	"hostel-payments/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Headers sent by the gateway with every webhook.
const (
	HeaderWebhookSignature = "X-Razorpay-Signature"
	HeaderWebhookEventID   = "X-Razorpay-Event-Id"
)

// WebhookHandler receives gateway-originated events.
type WebhookHandler struct {
	processor ports.WebhookProcessor
	log       zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(processor ports.WebhookProcessor, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, log: log}
}

// Handle handles POST /api/v1/webhooks/gateway. The body is passed on
// unparsed so the signature is checked over the exact bytes received.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.Error(c, apperror.ErrMalformedPayload(err))
		return
	}

	eventID := c.GetHeader(HeaderWebhookEventID)
	if err := h.processor.Process(c.Request.Context(), eventID, body, c.GetHeader(HeaderWebhookSignature)); err != nil {
		h.log.Warn().Err(err).Str("event_id", eventID).Msg("webhook rejected")
		response.Error(c, err)
		return
	}
	response.Ack(c)
}
