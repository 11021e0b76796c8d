package dto

import "github.com/prperemyshlev/step-sync-service/internal/domain"

// DateLayout is the wire format of a calendar day
const DateLayout = "2006-01-02"

// NewDailyStepsResponse converts a stored record
func NewDailyStepsResponse(r *domain.DailyStepRecord) DailyStepsResponse {
	return DailyStepsResponse{
		UserID: r.UserID,
		Date:   r.Date.UTC().Format(DateLayout),
		Steps:  r.Steps,
	}
}

// NewDailyStepsList converts records, never returning nil
func NewDailyStepsList(records []*domain.DailyStepRecord) []DailyStepsResponse {
	out := make([]DailyStepsResponse, 0, len(records))
	for _, r := range records {
		out = append(out, NewDailyStepsResponse(r))
	}
	return out
}

// NewBackfillResponse converts a backfill result
func NewBackfillResponse(result *domain.BackfillResult) BackfillResponse {
	return BackfillResponse{
		Synced:  result.Synced,
		Records: NewDailyStepsList(result.Records),
	}
}

// NewLinkedUserResponse projects a user without its credentials
func NewLinkedUserResponse(u *domain.User) LinkedUserResponse {
	return LinkedUserResponse{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		TotalSteps: u.TotalSteps,
	}
}
