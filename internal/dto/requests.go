package dto

// CredentialsRequest links Google credentials obtained by the external login flow
type CredentialsRequest struct {
	ProviderID   string `json:"provider_id" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Name         string `json:"name"`
	AccessToken  string `json:"access_token" binding:"required"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in" binding:"gte=0"`
}

// SyncHistoryQuery is the query of a backfill request
type SyncHistoryQuery struct {
	Days *int `form:"days"`
}

// LeaderboardQuery is the query of a leaderboard request
type LeaderboardQuery struct {
	Limit int `form:"limit"`
}
