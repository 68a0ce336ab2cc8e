package middleware

import (
	"context"
	"net/http"
	"strings"

	"potluck-chat/internal/services"
	"potluck-chat/internal/transport/httpdto"
	potluck_errors "potluck-chat/pkg/errors"
	"potluck-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (int64, error)
}

func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		userID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if !isAuthError(err) {
				status = services.HTTPStatus(err)
			}
			c.JSON(status, httpdto.NewErrorResponse("unauthorized", potluck_errors.Code(err)))
			c.Abort()
			return
		}

		ctx := services.WithUserContext(c.Request.Context(), userID)
		ctx = logger.WithUserID(ctx, userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func isAuthError(err error) bool {
	return potluck_errors.Code(err) == potluck_errors.CodeUnauthenticated
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
