// Package scheduler runs the nightly fleet sync and serves on-demand sync requests.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/internal/repository"
	"github.com/prperemyshlev/step-sync-service/internal/service"
	"github.com/prperemyshlev/step-sync-service/pkg/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrFleetSyncRunning is returned when a fleet sync is requested while one is in progress
var ErrFleetSyncRunning = errors.New("fleet sync already running")

// ErrInvalidDays is returned for a negative backfill length
var ErrInvalidDays = errors.New("days must not be negative")

// Config tunes the scheduler
type Config struct {
	Location        *time.Location
	Concurrency     int
	BackfillDefault int
	BackfillMax     int
	FleetTimeout    time.Duration

	// DisableNightly keeps Start from arming the midnight timer; on-demand runs still work
	DisableNightly bool
}

// FleetReport summarises one fleet sync run
type FleetReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Users     int           `json:"users"`
	Synced    int           `json:"synced"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
}

// Scheduler drives fleet-wide and per-user syncs
type Scheduler struct {
	users   repository.UserRepository
	engine  service.SyncEngine
	config  Config
	metrics *observability.SyncMetrics
	logger  *zap.Logger
	now     func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup

	mu      sync.Mutex
	baseCtx context.Context
	last    *FleetReport
}

// New creates a new scheduler. A nil clock means time.Now.
func New(
	users repository.UserRepository,
	engine service.SyncEngine,
	config Config,
	metrics *observability.SyncMetrics,
	logger *zap.Logger,
	now func() time.Time,
) *Scheduler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if metrics == nil {
		metrics = observability.NewNopSyncMetrics()
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		users:   users,
		engine:  engine,
		config:  config,
		metrics: metrics,
		logger:  logger,
		now:     now,
		baseCtx: context.Background(),
	}
}

// NextMidnight returns the next 00:00 in loc strictly after now
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// Start runs the midnight trigger until ctx is cancelled. Background fleet runs started by
// TriggerFleetSync are bound to ctx as well.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.config.DisableNightly {
		s.logger.Info("Nightly fleet sync disabled")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		now := s.now()
		next := NextMidnight(now, s.config.Location)
		s.logger.Info("Next fleet sync scheduled", zap.Time("at", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler stopped")
			return
		case <-timer.C:
		}

		if ctx.Err() != nil {
			s.logger.Info("Scheduler stopped")
			return
		}

		if _, err := s.RunFleetSync(ctx); err != nil {
			s.logger.Warn("Scheduled fleet sync did not run", zap.Error(err))
		}
	}
}

// Wait blocks until the trigger loop and any background fleet run have returned
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Running reports whether a fleet sync is in progress
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastReport returns the most recent finished fleet run, if any
func (s *Scheduler) LastReport() *FleetReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunFleetSync syncs yesterday for every user holding an access token. Per-user failures are
// logged and counted; they never abort the batch.
func (s *Scheduler) RunFleetSync(ctx context.Context) (*FleetReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrFleetSyncRunning
	}
	defer s.running.Store(false)

	return s.runFleet(ctx)
}

// TriggerFleetSync starts a fleet sync in the background. It returns false when one is already
// running or the context given to Start has ended.
func (s *Scheduler) TriggerFleetSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.baseCtx
	if ctx.Err() != nil {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if _, err := s.runFleet(ctx); err != nil {
			s.logger.Error("Triggered fleet sync failed", zap.Error(err))
		}
	}()

	return true
}

func (s *Scheduler) runFleet(ctx context.Context) (*FleetReport, error) {
	if s.config.FleetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FleetTimeout)
		defer cancel()
	}

	report := &FleetReport{StartedAt: s.now()}
	started := time.Now()

	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	report.Users = len(users)

	s.logger.Info("Fleet sync started", zap.Int("users", len(users)))

	var synced, skipped, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(s.config.Concurrency)

	for _, user := range users {
		if !user.HasAccessToken() {
			skipped.Add(1)
			s.logger.Info("Skipping user without access token", zap.String("user_id", user.ID))
			continue
		}
		if ctx.Err() != nil {
			break
		}

		userID := user.ID
		g.Go(func() error {
			if ctx.Err() != nil {
				failed.Add(1)
				return nil
			}

			record, err := s.engine.SyncYesterday(ctx, userID)
			if err != nil {
				failed.Add(1)
				s.logger.Warn("User sync failed",
					zap.String("user_id", userID),
					zap.Bool("reauth_required", domain.IsTerminalCredentialError(err)),
					zap.Error(err),
				)
				return nil
			}

			synced.Add(1)
			s.logger.Debug("User synced",
				zap.String("user_id", userID),
				zap.Time("day", record.Date),
				zap.Int64("steps", record.Steps),
			)
			return nil
		})
	}
	_ = g.Wait()

	report.Synced = int(synced.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())
	report.Duration = time.Since(started)

	s.metrics.RecordFleetRun(context.WithoutCancel(ctx), report.Duration, report.Synced, report.Skipped, report.Failed)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.logger.Info("Fleet sync finished",
		zap.Int("users", report.Users),
		zap.Int("synced", report.Synced),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("fleet sync interrupted: %w", err)
	}

	return report, nil
}

// SyncUser syncs yesterday for one user and returns the stored record
func (s *Scheduler) SyncUser(ctx context.Context, userID string) (*domain.DailyStepRecord, error) {
	return s.engine.SyncYesterday(ctx, userID)
}

// BackfillDays resolves a requested backfill length. nil means the default; values above the
// maximum are capped.
func (s *Scheduler) BackfillDays(requested *int) (int, error) {
	if requested == nil {
		return s.config.BackfillDefault, nil
	}
	days := *requested
	if days < 0 {
		return 0, ErrInvalidDays
	}
	if days > s.config.BackfillMax {
		days = s.config.BackfillMax
	}
	return days, nil
}

// Backfill syncs the given number of past days for one user, capped at the configured maximum
func (s *Scheduler) Backfill(ctx context.Context, userID string, days int) (*domain.BackfillResult, error) {
	days, err := s.BackfillDays(&days)
	if err != nil {
		return nil, err
	}
	return s.engine.SyncBackfill(ctx, userID, days)
}
