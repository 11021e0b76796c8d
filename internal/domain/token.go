package domain

import "time"

// TokenExpirySkew is how close to expiry an access token may get before it is refreshed
const TokenExpirySkew = 5 * time.Minute

// DefaultTokenLifetime applies when the provider omits expires_in
const DefaultTokenLifetime = 3600 * time.Second

// CredentialState is the derived health of a user's provider credentials
type CredentialState string

const (
	CredentialStateHealthy    CredentialState = "healthy"
	CredentialStateStale      CredentialState = "stale"
	CredentialStateRefreshing CredentialState = "refreshing"
	CredentialStateBroken     CredentialState = "broken"
)

// Credentials is the in-memory view of a user's provider tokens
type Credentials struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// NeedsRefresh reports whether the access token is missing, expired, or inside the skew window.
// An unknown expiry counts as expired.
func (c Credentials) NeedsRefresh(now time.Time) bool {
	if c.AccessToken == "" || c.ExpiresAt == nil {
		return true
	}
	return c.ExpiresAt.Before(now.Add(TokenExpirySkew))
}

// State derives the credential state. Broken is never stored; it follows from a stale token
// with nothing to refresh it with.
func (c Credentials) State(now time.Time) CredentialState {
	if !c.NeedsRefresh(now) {
		return CredentialStateHealthy
	}
	if c.RefreshToken == "" {
		return CredentialStateBroken
	}
	return CredentialStateStale
}

// RefreshedToken is the outcome of a successful refresh_token grant
type RefreshedToken struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// ExpiresAt returns the absolute expiry of the refreshed token relative to now
func (t RefreshedToken) ExpiresAt(now time.Time) time.Time {
	lifetime := t.ExpiresIn
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return now.Add(lifetime)
}

// GoogleIdentity carries what the external login flow obtained from Google
type GoogleIdentity struct {
	ProviderID   string
	Email        string
	Name         string
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// CredentialStatus is the public view of a user's credential health; it never carries tokens
type CredentialStatus struct {
	UserID          string          `json:"user_id"`
	State           CredentialState `json:"state"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	HasRefreshToken bool            `json:"has_refresh_token"`
}
