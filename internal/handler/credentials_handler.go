package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/internal/dto"
	"github.com/prperemyshlev/step-sync-service/internal/service"
	"go.uber.org/zap"
)

// CredentialsHandler handles credential linking and status requests
type CredentialsHandler struct {
	credentials service.CredentialManager
	logger      *zap.Logger
}

// NewCredentialsHandler creates a new credentials handler
func NewCredentialsHandler(credentials service.CredentialManager, logger *zap.Logger) *CredentialsHandler {
	return &CredentialsHandler{
		credentials: credentials,
		logger:      logger,
	}
}

// Link handles Google credentials handed over by the login flow
// @Summary Link Google credentials
// @Tags credentials
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.CredentialsRequest true "Google credentials"
// @Success 200 {object} dto.LinkedUserResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /internal/credentials [post]
func (h *CredentialsHandler) Link(c *gin.Context) {
	var req dto.CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Validation failed",
			Message: err.Error(),
		})
		return
	}

	user, err := h.credentials.StoreGoogleCredentials(c.Request.Context(), &domain.GoogleIdentity{
		ProviderID:   req.ProviderID,
		Email:        req.Email,
		Name:         req.Name,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresIn:    time.Duration(req.ExpiresIn) * time.Second,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewLinkedUserResponse(user))
}

// Status handles the credential health read
// @Summary Credential status
// @Tags credentials
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} domain.CredentialStatus
// @Failure 404 {object} dto.ErrorResponse
// @Router /users/{userId}/credentials/status [get]
func (h *CredentialsHandler) Status(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	status, err := h.credentials.CredentialStatus(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
