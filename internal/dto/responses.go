package dto

import "time"

// SyncAllResponse acknowledges a fleet sync trigger
type SyncAllResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DailyStepsResponse is one stored day
type DailyStepsResponse struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
	Steps  int64  `json:"steps"`
}

// BackfillResponse reports a multi-day sync
type BackfillResponse struct {
	Synced  int                  `json:"synced"`
	Records []DailyStepsResponse `json:"records"`
}

// RecomputeResponse carries a rebuilt total
type RecomputeResponse struct {
	UserID     string `json:"user_id"`
	TotalSteps int64  `json:"total_steps"`
}

// LinkedUserResponse describes the user a credential link resolved to
type LinkedUserResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	TotalSteps int64  `json:"total_steps"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}
