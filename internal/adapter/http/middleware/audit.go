package middleware

import (
	"net/http"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// AuditDenied records rejected staff requests (401/403) on the routes it
// guards. Successful writes are audited by the services themselves.
func AuditDenied(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status != http.StatusUnauthorized && status != http.StatusForbidden {
			return
		}

		actor := StaffID(c)
		if actor == "" {
			actor = "anonymous"
		}
		auditSvc.Log(c.Request.Context(), ports.AuditEntry{
			EntityType: domain.EntityRoute,
			EntityID:   c.Request.Method + " " + c.FullPath(),
			Action:     domain.AuditActionAccessDenied,
			ActorID:    actor,
			Metadata: map[string]any{
				"status":    status,
				"path":      c.Request.URL.Path,
				"client_ip": c.ClientIP(),
				"role":      c.GetString(CtxStaffRole),
			},
		})
	}
}
