package middleware

import (
	"potluck-chat/internal/services"
	"potluck-chat/internal/transport/httpdto"
	potluck_errors "potluck-chat/pkg/errors"
	"potluck-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last handler error as a Response envelope. Store and
// internal failures are logged and masked.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		code := potluck_errors.Code(err)
		message := err.Error()
		switch code {
		case potluck_errors.CodeInternal, potluck_errors.CodeStoreUnavailable:
			if l != nil {
				l.WithContext(c.Request.Context()).Error("request failed", zap.Error(err))
			}
			message = "internal error"
			if code == potluck_errors.CodeStoreUnavailable {
				message = "service unavailable"
			}
		}
		c.JSON(services.HTTPStatus(err), httpdto.NewErrorResponse(message, code))
	}
}
