package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/step-sync-service/internal/dto"
	"github.com/prperemyshlev/step-sync-service/internal/service"
	"go.uber.org/zap"
)

// Limiter is a sliding window request limiter
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	GetRemainingRequests(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// RateLimitMiddleware creates a rate limiting middleware
func RateLimitMiddleware(limiter Limiter, limit int, window time.Duration, keyFunc func(*gin.Context) string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)
		ctx := c.Request.Context()

		if _, err := limiter.Allow(ctx, key, limit, window); err != nil {
			var limitErr *service.RateLimitError
			if !errors.As(err, &limitErr) {
				// Fail open when the limiter backend is unavailable
				logger.Warn("Rate limiter unavailable", zap.String("key", key), zap.Error(err))
				c.Next()
				return
			}

			c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Retry-After", retryAfterSeconds(limitErr.RetryAfter, window))

			c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{
				Error:   "Too Many Requests",
				Message: err.Error(),
			})
			c.Abort()
			return
		}

		remaining, _ := limiter.GetRemainingRequests(ctx, key, limit, window)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

// IPBasedKey extracts rate limit key from client IP
func IPBasedKey(c *gin.Context) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if ip := c.GetHeader("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	return c.ClientIP()
}

// UserParamKey keys the limit on the userId path parameter and the route, so each user has its
// own budget per endpoint
func UserParamKey(c *gin.Context) string {
	return fmt.Sprintf("%s:%s", c.FullPath(), c.Param("userId"))
}

func retryAfterSeconds(retryAfter, window time.Duration) string {
	if retryAfter <= 0 {
		retryAfter = window
	}
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
