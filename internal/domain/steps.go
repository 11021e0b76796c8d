package domain

import "time"

// DayDuration is the width of one provider bucket
const DayDuration = 24 * time.Hour

// DailyStepRecord is one user's step count for one UTC calendar day
type DailyStepRecord struct {
	UserID string    `json:"user_id" db:"user_id"`
	Date   time.Time `json:"date" db:"date"`
	Steps  int64     `json:"steps" db:"steps"`
}

// BackfillResult summarises a multi-day sync
type BackfillResult struct {
	Synced  int                `json:"synced"`
	Records []*DailyStepRecord `json:"records"`
}

// MidnightUTC truncates t to 00:00:00 UTC of its UTC calendar day
func MidnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayWindow returns the half-open [start, end) interval covering day
func DayWindow(day time.Time) (time.Time, time.Time) {
	start := MidnightUTC(day)
	return start, start.Add(DayDuration)
}

// DaysAgo returns the UTC midnight n days before now's UTC date
func DaysAgo(now time.Time, n int) time.Time {
	return MidnightUTC(now).AddDate(0, 0, -n)
}
