package domain

import "time"

// StreakType distinguishes streak counters. Only daily streaks exist today.
type StreakType string

// StreakTypeDaily counts consecutive calendar days with at least one completion.
const StreakTypeDaily StreakType = "daily"

// StreakState is the per-(user, type) streak counter row.
type StreakState struct {
	UserID           string
	Type             StreakType
	CurrentCount     int
	BestCount        int
	LastActivityDate *time.Time
	StartedAt        time.Time
	UpdatedAt        time.Time
}

// NewStreakState creates the initial state for a user's first completion.
func NewStreakState(userID string, streakType StreakType, today time.Time) StreakState {
	day := startOfDay(today)
	return StreakState{
		UserID:           userID,
		Type:             streakType,
		CurrentCount:     1,
		BestCount:        1,
		LastActivityDate: &day,
		StartedAt:        today,
	}
}

// Advance applies one completion on the given day to the streak state
// machine. Time of day is ignored; only calendar days matter.
//
//   - missing last activity date: reset to 1, best keeps at least 1
//   - same day: no-op, repeat completions within a day do not count twice
//   - exactly one day later: extend, best follows current
//   - gap of two or more days: current resets to 1, best untouched
func (s *StreakState) Advance(today time.Time) {
	day := startOfDay(today)

	if s.LastActivityDate == nil {
		s.CurrentCount = 1
		if s.BestCount < 1 {
			s.BestCount = 1
		}
		s.LastActivityDate = &day
		return
	}

	switch daysBetween(*s.LastActivityDate, day) {
	case 0:
		return
	case 1:
		s.CurrentCount++
		if s.CurrentCount > s.BestCount {
			s.BestCount = s.CurrentCount
		}
	default:
		s.CurrentCount = 1
	}
	s.LastActivityDate = &day
}

// IsActive reports whether the streak is still alive relative to now: the
// last qualifying day is today or yesterday. Only daily streaks are
// evaluated; other types report inactive.
func (s StreakState) IsActive(now time.Time) bool {
	if s.Type != StreakTypeDaily || s.LastActivityDate == nil {
		return false
	}
	gap := daysBetween(*s.LastActivityDate, startOfDay(now))
	return gap == 0 || gap == 1
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween counts calendar days from a to b, negative when b precedes a.
func daysBetween(a, b time.Time) int {
	return int(startOfDay(b).Sub(startOfDay(a)) / (24 * time.Hour))
}

// StartOfWeek returns the most recent Sunday 00:00 UTC boundary at or
// before t. Weekly consistency windows are anchored here.
func StartOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	return day.AddDate(0, 0, -int(day.Weekday()))
}
