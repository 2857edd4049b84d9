package handler

import (
	"hostel-payments/internal/adapter/http/middleware"
	"hostel-payments/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes        = 1 << 20
	maxWebhookBodyBytes = 256 << 10
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	OrderSvc          ports.OrderService
	VerificationSvc   ports.VerificationService
	WebhookProcessor  ports.WebhookProcessor
	RefundSvc         ports.RefundService
	ReconciliationSvc ports.ReconciliationService
	ReportingSvc      ports.ReportingService
	TokenSvc          ports.TokenService
	RefundRoles       []string
	RateLimitStore    middleware.RateLimitStore // nil = rate limiting disabled
	HealthCheckers    []ports.HealthChecker
	AuditSvc          ports.AuditService // nil = denied requests not audited
	Mode              string             // gin mode: debug, release, test
	Logger            zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode != "" {
		gin.SetMode(deps.Mode)
	}
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}
	auditDenied := func(c *gin.Context) { c.Next() }
	if deps.AuditSvc != nil {
		auditDenied = middleware.AuditDenied(deps.AuditSvc)
	}

	paymentHandler := NewPaymentHandler(deps.OrderSvc, deps.VerificationSvc, deps.ReportingSvc)
	refundHandler := NewRefundHandler(deps.RefundSvc)
	webhookHandler := NewWebhookHandler(deps.WebhookProcessor, deps.Logger)
	reconHandler := NewReconciliationHandler(deps.ReconciliationSvc)

	v1 := r.Group("/api/v1")

	// --- Gateway webhooks (signature verified by the processor) ---
	v1.POST("/webhooks/gateway", middleware.MaxBodySize(maxWebhookBodyBytes), rl("webhooks"), webhookHandler.Handle)

	// --- Checkout (called by the hostel application backend) ---
	checkout := v1.Group("/payments", middleware.MaxBodySize(maxBodyBytes))
	{
		checkout.POST("/orders", rl("orders"), paymentHandler.InitiateOrder)
		checkout.POST("/verify", rl("verify"), paymentHandler.Verify)
	}

	// --- Staff routes (JWT from the identity collaborator) ---
	staffAuth := middleware.StaffAuth(deps.TokenSvc, deps.Logger)
	staff := v1.Group("", auditDenied, middleware.MaxBodySize(maxBodyBytes), staffAuth)
	{
		staff.GET("/payments", rl("staff"), paymentHandler.ListPayments)
		staff.GET("/payments/stats", rl("staff"), paymentHandler.GetStats)
		staff.GET("/payments/:id", rl("staff"), paymentHandler.GetPayment)
		staff.POST("/payments/:id/refunds", middleware.RequireRole(deps.RefundRoles...), rl("refunds"), refundHandler.Refund)

		staff.POST("/reconciliations", rl("reconciliations"), reconHandler.Run)
		staff.GET("/reconciliations/:id", rl("staff"), reconHandler.Get)
	}

	return r
}
