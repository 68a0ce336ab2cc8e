package middleware

import (
	"context"
	"net/http"
	"sync"

	"potluck-chat/internal/services"
	"potluck-chat/internal/transport/httpdto"
	potluck_errors "potluck-chat/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// UserLimiter is the shared per-user limiter, the redis one in production.
type UserLimiter interface {
	Allow(ctx context.Context, userID int64) (bool, error)
}

// UserRateLimitMiddleware applies the per-user limit after auth. A limiter error lets
// the request through.
func UserRateLimitMiddleware(limiter UserLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok || limiter == nil {
			c.Next()
			return
		}

		allowed, err := limiter.Allow(c.Request.Context(), userID)
		if err == nil && !allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("rate limit exceeded", potluck_errors.CodeRateLimited))
			c.Abort()
			return
		}

		c.Next()
	}
}

// IPRateLimitMiddleware keeps a token bucket per client address.
func IPRateLimitMiddleware(perSecond float64, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		l, ok := limiters[ip]
		if !ok {
			l = rate.NewLimiter(rate.Limit(perSecond), burst)
			limiters[ip] = l
		}
		mu.Unlock()

		if !l.Allow() {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("rate limit exceeded", potluck_errors.CodeRateLimited))
			c.Abort()
			return
		}
		c.Next()
	}
}
