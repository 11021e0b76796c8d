package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/internal/repository"
	"github.com/prperemyshlev/step-sync-service/internal/utils"
	"github.com/prperemyshlev/step-sync-service/pkg/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidIdentity is returned when linked credentials are missing required fields
var ErrInvalidIdentity = errors.New("invalid google identity")

// CredentialManagerOption configures a credential manager
type CredentialManagerOption func(*credentialManager)

// WithRefreshLocker serializes refreshes across replicas
func WithRefreshLocker(locker RefreshLocker) CredentialManagerOption {
	return func(m *credentialManager) { m.locker = locker }
}

// WithRefreshTimeout bounds one shared refresh, lock wait included
func WithRefreshTimeout(d time.Duration) CredentialManagerOption {
	return func(m *credentialManager) { m.refreshTimeout = d }
}

// WithCredentialMetrics records refresh outcomes
func WithCredentialMetrics(metrics *observability.SyncMetrics) CredentialManagerOption {
	return func(m *credentialManager) { m.metrics = metrics }
}

// WithCredentialClock overrides time.Now
func WithCredentialClock(now func() time.Time) CredentialManagerOption {
	return func(m *credentialManager) { m.now = now }
}

// credentialManager implements CredentialManager interface
type credentialManager struct {
	users          repository.UserRepository
	refresher      TokenRefresher
	locker         RefreshLocker
	metrics        *observability.SyncMetrics
	logger         *zap.Logger
	now            func() time.Time
	refreshTimeout time.Duration

	group    singleflight.Group
	inflight sync.Map
}

// NewCredentialManager creates a new credential manager
func NewCredentialManager(
	users repository.UserRepository,
	refresher TokenRefresher,
	logger *zap.Logger,
	opts ...CredentialManagerOption,
) CredentialManager {
	m := &credentialManager{
		users:          users,
		refresher:      refresher,
		logger:         logger,
		now:            time.Now,
		refreshTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observability.NewNopSyncMetrics()
	}
	return m
}

// GetValidToken returns the stored access token, refreshing it first when it is missing an expiry
// or expires within the skew window
func (m *credentialManager) GetValidToken(ctx context.Context, userID string) (string, error) {
	user, err := m.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}

	if !user.HasAccessToken() {
		return "", fmt.Errorf("user %s: %w", userID, domain.ErrNoCredentials)
	}

	creds := user.Credentials()
	if !creds.NeedsRefresh(m.now()) {
		return creds.AccessToken, nil
	}

	return m.refreshShared(ctx, userID, creds.AccessToken)
}

// Refresh forces a refresh_token grant for the user. rejected is the access token Google refused;
// when the store already holds a different, fresh token it is returned without a grant. An empty
// rejected token means the stored one.
func (m *credentialManager) Refresh(ctx context.Context, userID, rejected string) (string, error) {
	user, err := m.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}

	if !user.HasRefreshToken() {
		m.metrics.RecordRefresh(ctx, observability.ResultRevoked)
		return "", fmt.Errorf("user %s: %w", userID, domain.ErrNoRefreshToken)
	}

	if rejected == "" {
		rejected = user.Credentials().AccessToken
	}

	return m.refreshShared(ctx, userID, rejected)
}

// refreshShared joins or starts the single in-flight refresh for userID. seen is the access token
// the caller considers stale; a flight that finds a different, fresh token returns it without
// calling Google. The flight outlives a cancelled caller so other waiters still get its result.
func (m *credentialManager) refreshShared(ctx context.Context, userID, seen string) (string, error) {
	ch := m.group.DoChan(userID, func() (interface{}, error) {
		m.inflight.Store(userID, struct{}{})
		defer m.inflight.Delete(userID)

		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()

		return m.doRefresh(flightCtx, userID, seen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			m.metrics.RecordRefresh(ctx, observability.ResultShared)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *credentialManager) doRefresh(ctx context.Context, userID, seen string) (string, error) {
	if m.locker != nil {
		release, err := m.locker.Acquire(ctx, userID)
		if err != nil {
			m.metrics.RecordRefresh(ctx, observability.ResultFailure)
			return "", &domain.RefreshFailedError{Message: err.Error()}
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release refresh lock", zap.String("user_id", userID), zap.Error(err))
			}
		}()
	}

	user, err := m.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}

	creds := user.Credentials()
	if creds.AccessToken != "" && creds.AccessToken != seen && !creds.NeedsRefresh(m.now()) {
		return creds.AccessToken, nil
	}

	if creds.RefreshToken == "" {
		m.metrics.RecordRefresh(ctx, observability.ResultRevoked)
		return "", fmt.Errorf("user %s: %w", userID, domain.ErrNoRefreshToken)
	}

	token, err := m.refresher.RefreshAccessToken(ctx, creds.RefreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrRefreshRevoked) {
			m.metrics.RecordRefresh(ctx, observability.ResultRevoked)
			m.logger.Warn("Refresh token revoked, re-authentication required", zap.String("user_id", userID))
			return "", fmt.Errorf("user %s: %w", userID, err)
		}
		m.metrics.RecordRefresh(ctx, observability.ResultFailure)
		m.logger.Warn("Token refresh failed", zap.String("user_id", userID), zap.Error(err))
		return "", err
	}

	expiresAt := token.ExpiresAt(m.now())
	if err := m.users.UpdateAccessToken(ctx, userID, token.AccessToken, expiresAt); err != nil {
		m.metrics.RecordRefresh(ctx, observability.ResultFailure)
		return "", storageError(err)
	}

	m.metrics.RecordRefresh(ctx, observability.ResultSuccess)
	m.logger.Debug("Access token refreshed", zap.String("user_id", userID), zap.Time("expires_at", expiresAt))

	return token.AccessToken, nil
}

// StoreGoogleCredentials records the tokens obtained by the login flow. The user is matched by
// provider id, then by email, and created otherwise. A missing refresh token keeps the stored one.
func (m *credentialManager) StoreGoogleCredentials(ctx context.Context, identity *domain.GoogleIdentity) (*domain.User, error) {
	email := utils.SanitizeEmail(identity.Email)
	if identity.ProviderID == "" || identity.AccessToken == "" || !utils.ValidateEmail(email) {
		return nil, ErrInvalidIdentity
	}

	expiresAt := domain.RefreshedToken{ExpiresIn: identity.ExpiresIn}.ExpiresAt(m.now())

	var refreshToken *string
	if identity.RefreshToken != "" {
		refreshToken = &identity.RefreshToken
	}

	user, err := m.users.GetByProviderID(ctx, identity.ProviderID)
	if errors.Is(err, repository.ErrNotFound) {
		user, err = m.users.GetByEmail(ctx, email)
	}

	switch {
	case err == nil:
		if err := m.users.UpdateCredentials(ctx, user.ID, identity.ProviderID, identity.AccessToken, refreshToken, expiresAt); err != nil {
			return nil, linkError(err)
		}
		m.logger.Info("Google credentials updated",
			zap.String("user_id", user.ID),
			zap.Bool("refresh_token_replaced", refreshToken != nil),
		)
		return m.loadUser(ctx, user.ID)

	case errors.Is(err, repository.ErrNotFound):
		providerID := identity.ProviderID
		user = &domain.User{
			Email:          email,
			Name:           identity.Name,
			ProviderID:     &providerID,
			AccessToken:    &identity.AccessToken,
			RefreshToken:   refreshToken,
			TokenExpiresAt: &expiresAt,
		}
		if err := m.users.Create(ctx, user); err != nil {
			return nil, linkError(err)
		}
		m.logger.Info("User created from Google login", zap.String("user_id", user.ID))
		return user, nil

	default:
		return nil, storageError(err)
	}
}

// CredentialStatus reports the derived credential state without exposing tokens
func (m *credentialManager) CredentialStatus(ctx context.Context, userID string) (*domain.CredentialStatus, error) {
	user, err := m.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	creds := user.Credentials()
	state := creds.State(m.now())
	if _, ok := m.inflight.Load(userID); ok {
		state = domain.CredentialStateRefreshing
	}

	return &domain.CredentialStatus{
		UserID:          userID,
		State:           state,
		ExpiresAt:       creds.ExpiresAt,
		HasRefreshToken: creds.RefreshToken != "",
	}, nil
}

func (m *credentialManager) loadUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, storageError(err)
	}
	return user, nil
}

func storageError(err error) error {
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, domain.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStorage, err)
}

func linkError(err error) error {
	if errors.Is(err, repository.ErrDuplicateEmail) || errors.Is(err, repository.ErrDuplicateProviderID) {
		return err
	}
	return storageError(err)
}
