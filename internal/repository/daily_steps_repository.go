package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/pkg/database"
)

// dailyStepsRepository implements DailyStepsRepository interface
type dailyStepsRepository struct {
	db *database.Postgres
}

// NewDailyStepsRepository creates a new daily steps repository
func NewDailyStepsRepository(db *database.Postgres) DailyStepsRepository {
	return &dailyStepsRepository{db: db}
}

// UpsertDaily inserts or overwrites the record for day and applies steps - old to the user's total.
// The user row is locked first so concurrent upserts for the same user serialize.
func (r *dailyStepsRepository) UpsertDaily(ctx context.Context, userID string, day time.Time, steps int64) (*domain.DailyStepRecord, error) {
	if steps < 0 {
		return nil, fmt.Errorf("upsert %d steps for user %s: %w", steps, userID, ErrInvalidSteps)
	}

	date := domain.MidnightUTC(day)
	record := &domain.DailyStepRecord{UserID: userID, Date: date, Steps: steps}

	err := database.WithTx(ctx, r.db.DB, nil, func(ctx context.Context, tx database.DBTX) error {
		var total int64
		err := tx.QueryRowContext(ctx, `SELECT total_steps FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&total)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
				return fmt.Errorf("user with id %s not found: %w", userID, ErrNotFound)
			}
			return fmt.Errorf("failed to lock user: %w", err)
		}

		var old int64
		err = tx.QueryRowContext(ctx,
			`SELECT steps FROM daily_steps WHERE user_id = $1 AND date = $2`,
			userID, date,
		).Scan(&old)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read daily steps: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_steps (user_id, date, steps)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, date) DO UPDATE SET steps = EXCLUDED.steps
		`, userID, date, steps)
		if err != nil {
			return fmt.Errorf("failed to upsert daily steps: %w", err)
		}

		delta := steps - old
		if delta == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE users SET total_steps = total_steps + $2, updated_at = NOW() WHERE id = $1`,
			userID, delta,
		)
		if err != nil {
			return fmt.Errorf("failed to adjust total steps: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// ListByUser returns a user's records, newest first
func (r *dailyStepsRepository) ListByUser(ctx context.Context, userID string) ([]*domain.DailyStepRecord, error) {
	query := `
		SELECT user_id, date, steps
		FROM daily_steps
		WHERE user_id = $1
		ORDER BY date DESC
	`

	rows, err := r.db.DB.QueryContext(ctx, query, userID)
	if err != nil {
		if isInvalidID(err) {
			return nil, fmt.Errorf("user with id %s not found: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to list daily steps: %w", err)
	}
	defer rows.Close()

	records := []*domain.DailyStepRecord{}
	for rows.Next() {
		record := &domain.DailyStepRecord{}
		if err := rows.Scan(&record.UserID, &record.Date, &record.Steps); err != nil {
			return nil, fmt.Errorf("failed to scan daily steps: %w", err)
		}
		record.Date = domain.MidnightUTC(record.Date)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily steps: %w", err)
	}

	return records, nil
}

// RecomputeTotal resets the user's total to the sum of their records
func (r *dailyStepsRepository) RecomputeTotal(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE users
		SET total_steps = COALESCE((SELECT SUM(steps) FROM daily_steps WHERE user_id = $1), 0),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING total_steps
	`

	var total int64
	err := r.db.DB.QueryRowContext(ctx, query, userID).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
			return 0, fmt.Errorf("user with id %s not found: %w", userID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to recompute total steps: %w", err)
	}

	return total, nil
}
