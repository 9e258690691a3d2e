package domain

import "time"

// WeeklySessionGoal is the fixed number of completions that makes a week
// count as complete.
const WeeklySessionGoal = 7

// consistencyWindowDays is the trailing window the per-area consistency
// score is computed over.
const consistencyWindowDays = 30

// MasteryTier labels per-area experience derived purely from lifetime
// session count.
type MasteryTier string

const (
	MasteryBeginner     MasteryTier = "beginner"
	MasteryIntermediate MasteryTier = "intermediate"
	MasteryAdvanced     MasteryTier = "advanced"
	MasteryExpert       MasteryTier = "expert"
)

// MasteryForSessions maps a lifetime session count to its tier.
func MasteryForSessions(sessions int) MasteryTier {
	switch {
	case sessions >= 50:
		return MasteryExpert
	case sessions >= 25:
		return MasteryAdvanced
	case sessions >= 10:
		return MasteryIntermediate
	default:
		return MasteryBeginner
	}
}

// ExerciseFrequency counts completions of one exercise within an area.
type ExerciseFrequency struct {
	ExerciseID string
	Count      int
}

// BodyAreaStats is the derived per-area statistics block. Areas with no
// sessions report zero values, beginner mastery, and the epoch sentinel
// for LastPracticed.
type BodyAreaStats struct {
	Area              BodyArea
	TotalSessions     int
	TotalMinutes      int
	AverageDuration   float64
	ConsistencyScore  float64
	FavoriteExercises []ExerciseFrequency
	Mastery           MasteryTier
	LastPracticed     time.Time
}

// WeeklyProgress compares completions since the week boundary against the
// fixed weekly goal.
type WeeklyProgress struct {
	Sessions  int
	Goal      int
	WeekStart time.Time
}

// TimeRange restricts an aggregation to [From, To] on completion time.
// Nil bounds are open.
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

// ProgressSnapshot is the aggregate view returned by GetUserProgress.
type ProgressSnapshot struct {
	UserID             string
	TotalSessions      int
	TotalMinutes       int
	CurrentStreak      int
	LongestStreak      int
	BodyAreaStats      []BodyAreaStats
	RecentAchievements []AchievementAward
	LastActivityAt     *time.Time
	Weekly             WeeklyProgress
}
