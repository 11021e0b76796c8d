package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/internal/dto"
	"github.com/prperemyshlev/step-sync-service/internal/repository"
	"github.com/prperemyshlev/step-sync-service/internal/scheduler"
	"github.com/prperemyshlev/step-sync-service/internal/service"
	"go.uber.org/zap"
)

// statusFor maps a core error to an HTTP status and a short title
func statusFor(err error) (int, string) {
	var (
		providerErr  *domain.ProviderError
		refreshErr   *domain.RefreshFailedError
		rateLimitErr *service.RateLimitError
	)

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, repository.ErrDuplicateEmail), errors.Is(err, repository.ErrDuplicateProviderID):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, service.ErrInvalidIdentity), errors.Is(err, scheduler.ErrInvalidDays):
		return http.StatusBadRequest, "Bad request"
	case domain.IsTerminalCredentialError(err), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "Re-authentication required"
	case errors.As(err, &rateLimitErr):
		return http.StatusTooManyRequests, "Too Many Requests"
	case errors.As(err, &providerErr), errors.As(err, &refreshErr):
		return http.StatusBadGateway, "Provider failure"
	case errors.Is(err, domain.ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Provider unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// respondError writes err as a dto.ErrorResponse. Server-side failures are logged and their
// details kept out of the body.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, title := statusFor(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("user_id", c.Param("userId")),
			zap.Error(err),
		)
		message = "internal error"
	}

	c.JSON(status, dto.ErrorResponse{
		Error:   title,
		Message: message,
	})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "Bad request",
		Message: message,
	})
}
