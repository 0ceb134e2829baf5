package middleware

import (
	"github.com/gin-gonic/gin"

	"audittrail/internal/audit"
)

// ChangeReasonHeader lets clients attach a free-text reason to the changes a
// request makes.
const ChangeReasonHeader = "X-Change-Reason"

// AuditContext stamps the request context with the acting user and request
// provenance, so every save made while serving the request is attributed.
// Requests without an authenticated user act as audit.AnonymousActor.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := audit.Actor{
			ID:        c.GetString(UserIDKey),
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Reason:    c.GetHeader(ChangeReasonHeader),
		}
		if actor.ID == "" {
			actor.ID = audit.AnonymousActor
		}

		c.Request = c.Request.WithContext(audit.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}
