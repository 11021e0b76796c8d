package repository

import (
	"context"
	"time"

	"github.com/prperemyshlev/step-sync-service/internal/domain"
)

// UserRepository defines methods for user and credential operations
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByProviderID(ctx context.Context, providerID string) (*domain.User, error)
	// UpdateAccessToken stores a refreshed access token; the refresh token is untouched
	UpdateAccessToken(ctx context.Context, userID, accessToken string, expiresAt time.Time) error
	// UpdateCredentials links the provider identity and stores new tokens.
	// A nil refreshToken keeps the stored one.
	UpdateCredentials(ctx context.Context, userID, providerID, accessToken string, refreshToken *string, expiresAt time.Time) error
	ListAll(ctx context.Context) ([]*domain.User, error)
	ListLeaderboard(ctx context.Context, limit int) ([]*domain.LeaderboardEntry, error)
}

// DailyStepsRepository defines methods for daily step records and the running total
type DailyStepsRepository interface {
	// UpsertDaily writes the day's count and moves the user's total by the difference in one transaction
	UpsertDaily(ctx context.Context, userID string, day time.Time, steps int64) (*domain.DailyStepRecord, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.DailyStepRecord, error)
	RecomputeTotal(ctx context.Context, userID string) (int64, error)
}
