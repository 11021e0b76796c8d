package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/internal/dto"
	"github.com/prperemyshlev/step-sync-service/internal/service"
	"github.com/prperemyshlev/step-sync-service/internal/utils"
	"go.uber.org/zap"
)

// Syncer is the scheduler surface the HTTP layer drives
type Syncer interface {
	TriggerFleetSync() bool
	SyncUser(ctx context.Context, userID string) (*domain.DailyStepRecord, error)
	BackfillDays(requested *int) (int, error)
	Backfill(ctx context.Context, userID string, days int) (*domain.BackfillResult, error)
}

// StepsHandler handles sync and step read requests
type StepsHandler struct {
	syncer Syncer
	steps  service.StepsService
	logger *zap.Logger
	now    func() time.Time
}

// NewStepsHandler creates a new steps handler
func NewStepsHandler(syncer Syncer, steps service.StepsService, logger *zap.Logger) *StepsHandler {
	return &StepsHandler{
		syncer: syncer,
		steps:  steps,
		logger: logger,
		now:    time.Now,
	}
}

// SyncAll handles a fleet sync trigger
// @Summary Trigger fleet sync
// @Description Start syncing yesterday for every linked user in the background
// @Tags steps
// @Security BearerAuth
// @Produce json
// @Success 202 {object} dto.SyncAllResponse
// @Success 200 {object} dto.SyncAllResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /steps/sync-all [post]
func (h *StepsHandler) SyncAll(c *gin.Context) {
	if !h.syncer.TriggerFleetSync() {
		c.JSON(http.StatusOK, dto.SyncAllResponse{
			Message:   "Fleet sync already running",
			Timestamp: h.now().UTC(),
		})
		return
	}

	h.logger.Info("Fleet sync triggered", zap.String("operator", c.GetString(operatorSubjectKey)))

	c.JSON(http.StatusAccepted, dto.SyncAllResponse{
		Message:   "Fleet sync started",
		Timestamp: h.now().UTC(),
	})
}

// SyncUser handles a single-user sync of yesterday
// @Summary Sync one user
// @Tags steps
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} dto.DailyStepsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /steps/sync/{userId} [put]
func (h *StepsHandler) SyncUser(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	record, err := h.syncer.SyncUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewDailyStepsResponse(record))
}

// SyncHistory backfills the most recent days for one user
// @Summary Backfill one user
// @Tags steps
// @Produce json
// @Param userId path string true "User ID"
// @Param days query int false "Number of past days"
// @Success 200 {object} dto.BackfillResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /steps/sync-history/{userId} [get]
func (h *StepsHandler) SyncHistory(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	var query dto.SyncHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondBadRequest(c, "days must be an integer")
		return
	}

	days, err := h.syncer.BackfillDays(query.Days)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	result, err := h.syncer.Backfill(c.Request.Context(), userID, days)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewBackfillResponse(result))
}

// ListByUser handles reading stored days
// @Summary List stored days
// @Tags steps
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {array} dto.DailyStepsResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /steps/{userId} [get]
func (h *StepsHandler) ListByUser(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	records, err := h.steps.ListByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewDailyStepsList(records))
}

// Recompute handles rebuilding a user's total
// @Summary Recompute total steps
// @Tags steps
// @Security BearerAuth
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} dto.RecomputeResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /steps/{userId}/recompute [post]
func (h *StepsHandler) Recompute(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	total, err := h.steps.RecomputeTotal(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.RecomputeResponse{
		UserID:     userID,
		TotalSteps: total,
	})
}

// Leaderboard handles the ranked total steps read
// @Summary Leaderboard
// @Tags steps
// @Produce json
// @Param limit query int false "Maximum entries"
// @Success 200 {array} domain.LeaderboardEntry
// @Router /leaderboard [get]
func (h *StepsHandler) Leaderboard(c *gin.Context) {
	var query dto.LeaderboardQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondBadRequest(c, "limit must be an integer")
		return
	}

	entries, err := h.steps.Leaderboard(c.Request.Context(), query.Limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

// userIDParam reads and validates the userId path parameter, answering 400 when malformed
func userIDParam(c *gin.Context) (string, bool) {
	userID := c.Param("userId")
	if !utils.ValidateUserID(userID) {
		respondBadRequest(c, "userId must be a UUID")
		return "", false
	}
	return userID, true
}
