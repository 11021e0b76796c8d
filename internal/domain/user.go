package domain

import "time"

// User represents a participant whose steps are harvested from Google Fit
type User struct {
	ID             string     `json:"id" db:"id"`
	Email          string     `json:"email" db:"email"`
	Name           string     `json:"name" db:"name"`
	ProviderID     *string    `json:"provider_id,omitempty" db:"provider_id"`
	AccessToken    *string    `json:"-" db:"access_token"`
	RefreshToken   *string    `json:"-" db:"refresh_token"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty" db:"token_expires_at"`
	TotalSteps     int64      `json:"total_steps" db:"total_steps"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// HasAccessToken reports whether the user is eligible for a sync
func (u *User) HasAccessToken() bool {
	return u.AccessToken != nil && *u.AccessToken != ""
}

// HasRefreshToken reports whether the user's access token can be renewed
func (u *User) HasRefreshToken() bool {
	return u.RefreshToken != nil && *u.RefreshToken != ""
}

// Credentials projects the provider credentials out of the user row
func (u *User) Credentials() Credentials {
	c := Credentials{
		UserID:    u.ID,
		ExpiresAt: u.TokenExpiresAt,
	}
	if u.AccessToken != nil {
		c.AccessToken = *u.AccessToken
	}
	if u.RefreshToken != nil {
		c.RefreshToken = *u.RefreshToken
	}
	return c
}

// LeaderboardEntry is the public projection of a user ranked by total steps
type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	TotalSteps int64  `json:"total_steps"`
}
