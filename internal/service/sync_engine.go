package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/internal/repository"
	"github.com/prperemyshlev/step-sync-service/pkg/observability"
	"go.uber.org/zap"
)

// syncEngine implements SyncEngine interface
type syncEngine struct {
	credentials CredentialManager
	provider    StepsProvider
	steps       repository.DailyStepsRepository
	metrics     *observability.SyncMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewSyncEngine creates a new sync engine. A nil clock means time.Now.
func NewSyncEngine(
	credentials CredentialManager,
	provider StepsProvider,
	steps repository.DailyStepsRepository,
	metrics *observability.SyncMetrics,
	logger *zap.Logger,
	now func() time.Time,
) SyncEngine {
	if metrics == nil {
		metrics = observability.NewNopSyncMetrics()
	}
	if now == nil {
		now = time.Now
	}
	return &syncEngine{
		credentials: credentials,
		provider:    provider,
		steps:       steps,
		metrics:     metrics,
		logger:      logger,
		now:         now,
	}
}

// SyncOne fetches the UTC calendar day containing day and stores it. A 401 from Google triggers
// one forced refresh and one retry. Nothing is written unless the fetch succeeded.
func (e *syncEngine) SyncOne(ctx context.Context, userID string, day time.Time) (*domain.DailyStepRecord, error) {
	record, err := e.syncOne(ctx, userID, day)
	if err != nil {
		e.metrics.RecordDaySync(ctx, observability.ResultFailure)
		return nil, err
	}
	e.metrics.RecordDaySync(ctx, observability.ResultSuccess)
	return record, nil
}

func (e *syncEngine) syncOne(ctx context.Context, userID string, day time.Time) (*domain.DailyStepRecord, error) {
	start, end := domain.DayWindow(day)

	token, err := e.credentials.GetValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	steps, err := e.provider.FetchSteps(ctx, token, start, end)
	if errors.Is(err, domain.ErrUnauthorized) {
		e.logger.Info("Google rejected access token, forcing refresh",
			zap.String("user_id", userID),
			zap.Time("day", start),
		)

		token, err = e.credentials.Refresh(ctx, userID, token)
		if err != nil {
			return nil, err
		}

		steps, err = e.provider.FetchSteps(ctx, token, start, end)
	}
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := e.steps.UpsertDaily(ctx, userID, start, steps)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}

	return record, nil
}

// SyncYesterday syncs the last fully closed UTC day
func (e *syncEngine) SyncYesterday(ctx context.Context, userID string) (*domain.DailyStepRecord, error) {
	return e.SyncOne(ctx, userID, domain.DaysAgo(e.now(), 1))
}

// SyncBackfill syncs the days days before today, newest first. A failing day is logged and
// skipped. Errors that would fail every remaining day (unknown user, credentials needing
// re-authentication, cancellation) stop the loop; they are returned only when no day synced.
func (e *syncEngine) SyncBackfill(ctx context.Context, userID string, days int) (*domain.BackfillResult, error) {
	result := &domain.BackfillResult{Records: []*domain.DailyStepRecord{}}
	now := e.now()

	for i := 1; i <= days; i++ {
		day := domain.DaysAgo(now, i)

		record, err := e.SyncOne(ctx, userID, day)
		if err == nil {
			result.Synced++
			result.Records = append(result.Records, record)
			continue
		}

		e.logger.Warn("Backfill day failed",
			zap.String("user_id", userID),
			zap.Time("day", day),
			zap.Error(err),
		)

		if stopsBackfill(ctx, err) {
			if result.Synced == 0 {
				return nil, err
			}
			break
		}
	}

	return result, nil
}

func stopsBackfill(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, repository.ErrNotFound) ||
		domain.IsTerminalCredentialError(err)
}
