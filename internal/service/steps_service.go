package service

import (
	"context"

	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/internal/repository"
	"go.uber.org/zap"
)

const (
	// DefaultLeaderboardLimit is used when no limit is requested
	DefaultLeaderboardLimit = 100
	// MaxLeaderboardLimit caps a leaderboard page
	MaxLeaderboardLimit = 500
)

// stepsService implements StepsService interface
type stepsService struct {
	users  repository.UserRepository
	steps  repository.DailyStepsRepository
	logger *zap.Logger
}

// NewStepsService creates a new steps service
func NewStepsService(users repository.UserRepository, steps repository.DailyStepsRepository, logger *zap.Logger) StepsService {
	return &stepsService{users: users, steps: steps, logger: logger}
}

// ListByUser returns a user's daily records, newest first
func (s *stepsService) ListByUser(ctx context.Context, userID string) ([]*domain.DailyStepRecord, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, storageError(err)
	}

	records, err := s.steps.ListByUser(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}
	return records, nil
}

// RecomputeTotal rebuilds a user's total from their daily records
func (s *stepsService) RecomputeTotal(ctx context.Context, userID string) (int64, error) {
	total, err := s.steps.RecomputeTotal(ctx, userID)
	if err != nil {
		return 0, storageError(err)
	}

	s.logger.Info("Total steps recomputed", zap.String("user_id", userID), zap.Int64("total_steps", total))
	return total, nil
}

// Leaderboard returns users ranked by total steps. limit is clamped to [1, MaxLeaderboardLimit].
func (s *stepsService) Leaderboard(ctx context.Context, limit int) ([]*domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}

	entries, err := s.users.ListLeaderboard(ctx, limit)
	if err != nil {
		return nil, storageError(err)
	}
	return entries, nil
}
