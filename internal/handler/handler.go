package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"potluck-chat/internal/services"
	"potluck-chat/internal/transport/httpdto"
	potluck_errors "potluck-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// currentUser reads the caller set by the auth middleware and writes 401 when absent.
func currentUser(c *gin.Context) (int64, bool) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", potluck_errors.CodeUnauthenticated))
		return 0, false
	}
	return userID, true
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(fmt.Errorf("invalid %s: %w", name, potluck_errors.ErrInvalidInput))
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string) int {
	v, _ := strconv.Atoi(c.Query(name))
	return v
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(fmt.Errorf("invalid request: %v: %w", err, potluck_errors.ErrInvalidInput))
}
