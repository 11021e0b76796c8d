package service

import (
	"context"
	"time"

	"github.com/prperemyshlev/step-sync-service/internal/domain"
)

// StepsProvider fetches step totals for a time window
type StepsProvider interface {
	FetchSteps(ctx context.Context, accessToken string, start, end time.Time) (int64, error)
}

// TokenRefresher exchanges a refresh token for a new access token
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*domain.RefreshedToken, error)
}

// RefreshLocker serializes token refreshes for one user across service replicas
type RefreshLocker interface {
	// Acquire blocks until the lock for userID is held or ctx ends, and returns its release func
	Acquire(ctx context.Context, userID string) (func(context.Context) error, error)
}

// CredentialManager hands out live Google access tokens
type CredentialManager interface {
	GetValidToken(ctx context.Context, userID string) (string, error)
	Refresh(ctx context.Context, userID, rejected string) (string, error)
	StoreGoogleCredentials(ctx context.Context, identity *domain.GoogleIdentity) (*domain.User, error)
	CredentialStatus(ctx context.Context, userID string) (*domain.CredentialStatus, error)
}

// SyncEngine syncs daily step counts for one user
type SyncEngine interface {
	SyncOne(ctx context.Context, userID string, day time.Time) (*domain.DailyStepRecord, error)
	SyncYesterday(ctx context.Context, userID string) (*domain.DailyStepRecord, error)
	// SyncBackfill returns an error instead of an empty result when the first day already fails
	// for a reason every other day would share (unknown user, re-authentication required).
	SyncBackfill(ctx context.Context, userID string, days int) (*domain.BackfillResult, error)
}

// StepsService serves stored step data
type StepsService interface {
	ListByUser(ctx context.Context, userID string) ([]*domain.DailyStepRecord, error)
	RecomputeTotal(ctx context.Context, userID string) (int64, error)
	Leaderboard(ctx context.Context, limit int) ([]*domain.LeaderboardEntry, error)
}
