package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"audittrail/internal/audit"
	apperrors "audittrail/internal/errors"
	"audittrail/internal/logger"
)

// ErrorHandler renders the last error attached to the Gin context unless a
// response has already been written.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		RenderError(c, c.Errors.Last().Err)
	}
}

// RenderError writes err as the standard {"error": {"code", "message"}} body.
// Unknown errors become INTERNAL_ERROR with their details only in the log.
// Change log write failures are always logged with the actor whose save was
// rolled back.
func RenderError(c *gin.Context, err error) {
	log := logger.Get().With(
		"request_id", c.GetString(requestIDKey),
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
	)

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		log.Errorw("unexpected error", "error", err.Error())
		writeError(c, apperrors.ErrInternalServer)
		return
	}

	switch {
	case errors.Is(appErr, apperrors.ErrPersistenceWrite):
		fields := []interface{}{"actor", audit.ActorFromContext(c.Request.Context()).ID}
		if appErr.Internal != nil {
			fields = append(fields, "internal", appErr.Internal.Error())
		}
		log.Errorw("change log write failed", fields...)
	case appErr.Internal != nil:
		log.Errorw("app error",
			"code", appErr.Code,
			"message", appErr.Message,
			"internal", appErr.Internal.Error(),
		)
	}
	writeError(c, appErr)
}

func writeError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.StatusCode, gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}

func abortWithError(c *gin.Context, appErr *apperrors.AppError) {
	c.Abort()
	writeError(c, appErr)
}
