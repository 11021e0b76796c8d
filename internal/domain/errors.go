package domain

import (
	"errors"
	"fmt"
)

// Sync engine error kinds
var (
	// ErrNoCredentials is returned when the user has no access token
	ErrNoCredentials = errors.New("user has no google fit access token")

	// ErrNoRefreshToken is returned when a refresh is needed but no refresh token is stored
	ErrNoRefreshToken = errors.New("no refresh token available, re-authentication required")

	// ErrRefreshRevoked is returned when the provider rejects the refresh token with invalid_grant
	ErrRefreshRevoked = errors.New("refresh token is invalid or revoked, re-authentication required")

	// ErrUnauthorized is returned when the provider rejects the access token
	ErrUnauthorized = errors.New("google fit token expired or invalid")

	// ErrTransport is returned on network or timeout failures talking to the provider
	ErrTransport = errors.New("google fit transport failure")

	// ErrStorage marks database failures surfaced by the sync engine
	ErrStorage = errors.New("storage failure")
)

// RefreshFailedError is a transient refresh failure other than invalid_grant
type RefreshFailedError struct {
	Message string
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("failed to refresh token: %s", e.Message)
}

// ProviderError is a non-2xx response other than 401 from the provider
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("google fit api error (status %d): %s", e.Status, e.Message)
}

// IsTerminalCredentialError reports whether err can only be fixed by the user logging in again
func IsTerminalCredentialError(err error) bool {
	return errors.Is(err, ErrNoCredentials) ||
		errors.Is(err, ErrNoRefreshToken) ||
		errors.Is(err, ErrRefreshRevoked)
}
