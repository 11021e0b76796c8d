package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Outcome labels shared by the sync instruments
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultRevoked = "revoked"
	ResultShared  = "shared"

	OutcomeSynced  = "synced"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// SyncMetrics holds the step sync instruments
type SyncMetrics struct {
	daySyncs      otelmetric.Int64Counter
	refreshes     otelmetric.Int64Counter
	fleetDuration otelmetric.Float64Histogram
	fleetUsers    otelmetric.Int64Counter
}

// NewSyncMetrics registers the step sync instruments on meter
func NewSyncMetrics(meter otelmetric.Meter) (*SyncMetrics, error) {
	daySyncs, err := meter.Int64Counter("step_sync_days_total",
		otelmetric.WithDescription("Per user per day sync attempts"))
	if err != nil {
		return nil, fmt.Errorf("failed to create step_sync_days_total: %w", err)
	}

	refreshes, err := meter.Int64Counter("token_refresh_total",
		otelmetric.WithDescription("Google access token refreshes"))
	if err != nil {
		return nil, fmt.Errorf("failed to create token_refresh_total: %w", err)
	}

	fleetDuration, err := meter.Float64Histogram("fleet_sync_duration_seconds",
		otelmetric.WithDescription("Wall time of a fleet sync run"),
		otelmetric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create fleet_sync_duration_seconds: %w", err)
	}

	fleetUsers, err := meter.Int64Counter("fleet_sync_users_total",
		otelmetric.WithDescription("Users visited by fleet sync runs"))
	if err != nil {
		return nil, fmt.Errorf("failed to create fleet_sync_users_total: %w", err)
	}

	return &SyncMetrics{
		daySyncs:      daySyncs,
		refreshes:     refreshes,
		fleetDuration: fleetDuration,
		fleetUsers:    fleetUsers,
	}, nil
}

// NewNopSyncMetrics returns instruments that record nothing
func NewNopSyncMetrics() *SyncMetrics {
	m, _ := NewSyncMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

// RecordDaySync counts one syncOne outcome
func (m *SyncMetrics) RecordDaySync(ctx context.Context, result string) {
	m.daySyncs.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
}

// RecordRefresh counts one refresh outcome
func (m *SyncMetrics) RecordRefresh(ctx context.Context, result string) {
	m.refreshes.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
}

// RecordFleetRun records a finished fleet sync
func (m *SyncMetrics) RecordFleetRun(ctx context.Context, elapsed time.Duration, synced, skipped, failed int) {
	m.fleetDuration.Record(ctx, elapsed.Seconds())
	m.fleetUsers.Add(ctx, int64(synced), otelmetric.WithAttributes(attribute.String("outcome", OutcomeSynced)))
	m.fleetUsers.Add(ctx, int64(skipped), otelmetric.WithAttributes(attribute.String("outcome", OutcomeSkipped)))
	m.fleetUsers.Add(ctx, int64(failed), otelmetric.WithAttributes(attribute.String("outcome", OutcomeFailed)))
}
