package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AreaAggregate is the per-area rollup the repository computes in SQL.
type AreaAggregate struct {
	Sessions       int
	Minutes        int
	RecentSessions int
	LastPracticed  *time.Time
}

// Cursor models the pagination token for completion history.
type Cursor struct {
	CompletedAt time.Time
	ID          string
}

// ProgressRepository captures persistence operations for completions and
// streak state.
type ProgressRepository interface {
	InsertCompletion(ctx context.Context, record CompletionRecord) error
	ListCompletions(ctx context.Context, userID string, cursor *Cursor, limit int) ([]CompletionRecord, *Cursor, error)
	CountCompletions(ctx context.Context, userID string, rng TimeRange) (int, error)
	SumDurationMinutes(ctx context.Context, userID string, rng TimeRange) (int, error)
	CountByArea(ctx context.Context, userID string) (map[BodyArea]int, error)
	AreaAggregates(ctx context.Context, userID string) (map[BodyArea]AreaAggregate, error)
	FavoriteExercises(ctx context.Context, userID string, perArea int) (map[BodyArea][]ExerciseFrequency, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	DistinctAreasSince(ctx context.Context, userID string, since time.Time) (int, error)
	LastCompletionAt(ctx context.Context, userID string) (*time.Time, error)
	GetStreak(ctx context.Context, userID string, streakType StreakType) (*StreakState, error)
	ListStreaks(ctx context.Context, userID string) ([]StreakState, error)
	SaveStreak(ctx context.Context, state StreakState) error
	BackfillBiometrics(ctx context.Context, completionID string, readings Biometrics) error
}

// favoriteExerciseLimit caps the favorite-exercise ranking per area.
const favoriteExerciseLimit = 3

// recentAchievementWindow and recentAchievementLimit bound the trailing
// achievements block in a progress snapshot.
const (
	recentAchievementWindow = 30 * 24 * time.Hour
	recentAchievementLimit  = 10
)

// epoch is the "never practiced" sentinel for LastPracticed.
var epoch = time.Unix(0, 0).UTC()

// ProgressService aggregates completions, maintains streaks, and builds
// progress snapshots.
type ProgressService struct {
	repo   ProgressRepository
	awards AchievementRepository
}

// NewProgressService constructs a ProgressService.
func NewProgressService(repo ProgressRepository, awards AchievementRepository) *ProgressService {
	return &ProgressService{repo: repo, awards: awards}
}

// CompletionInput captures the payload from the API layer. Enum fields
// are already validated; the service trusts them.
type CompletionInput struct {
	ExerciseID  string
	BodyArea    BodyArea
	DurationMin *int
	Difficulty  Difficulty
	Note        string
	Mood        *Mood
	Energy      *EnergyLevel
	Biometrics  Biometrics
}

// RecordCompletion writes one completion and advances the daily streak.
// Storage errors propagate unchanged.
func (s *ProgressService) RecordCompletion(ctx context.Context, userID string, input CompletionInput) (CompletionRecord, error) {
	now := time.Now().UTC()
	record := CompletionRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		ExerciseID:  input.ExerciseID,
		BodyArea:    input.BodyArea,
		CompletedAt: now,
		DurationMin: input.DurationMin,
		Difficulty:  input.Difficulty,
		Note:        input.Note,
		Mood:        input.Mood,
		Energy:      input.Energy,
		Biometrics:  input.Biometrics,
		CreatedAt:   now,
	}

	if err := s.repo.InsertCompletion(ctx, record); err != nil {
		return CompletionRecord{}, err
	}

	if err := s.updateDailyStreak(ctx, userID, now); err != nil {
		return CompletionRecord{}, err
	}

	return record, nil
}

func (s *ProgressService) updateDailyStreak(ctx context.Context, userID string, today time.Time) error {
	state, err := s.repo.GetStreak(ctx, userID, StreakTypeDaily)
	if err != nil {
		return err
	}

	if state == nil {
		fresh := NewStreakState(userID, StreakTypeDaily, today)
		return s.repo.SaveStreak(ctx, fresh)
	}

	state.Advance(today)
	return s.repo.SaveStreak(ctx, *state)
}

// GetUserProgress builds the aggregate snapshot, optionally restricting
// session totals to a time range.
func (s *ProgressService) GetUserProgress(ctx context.Context, userID string, rng TimeRange) (ProgressSnapshot, error) {
	now := time.Now().UTC()

	total, err := s.repo.CountCompletions(ctx, userID, rng)
	if err != nil {
		return ProgressSnapshot{}, err
	}

	minutes, err := s.repo.SumDurationMinutes(ctx, userID, rng)
	if err != nil {
		return ProgressSnapshot{}, err
	}

	streak, err := s.repo.GetStreak(ctx, userID, StreakTypeDaily)
	if err != nil {
		return ProgressSnapshot{}, err
	}

	areaStats, err := s.GetBodyAreaStats(ctx, userID)
	if err != nil {
		return ProgressSnapshot{}, err
	}

	recent, err := s.awards.ListAwardsSince(ctx, userID, now.Add(-recentAchievementWindow), recentAchievementLimit)
	if err != nil {
		return ProgressSnapshot{}, err
	}

	lastActivity, err := s.repo.LastCompletionAt(ctx, userID)
	if err != nil {
		return ProgressSnapshot{}, err
	}

	weekStart := StartOfWeek(now)
	weekSessions, err := s.repo.CountSince(ctx, userID, weekStart)
	if err != nil {
		return ProgressSnapshot{}, err
	}

	snapshot := ProgressSnapshot{
		UserID:             userID,
		TotalSessions:      total,
		TotalMinutes:       minutes,
		BodyAreaStats:      areaStats,
		RecentAchievements: recent,
		LastActivityAt:     lastActivity,
		Weekly: WeeklyProgress{
			Sessions:  weekSessions,
			Goal:      WeeklySessionGoal,
			WeekStart: weekStart,
		},
	}
	if streak != nil {
		snapshot.CurrentStreak = streak.CurrentCount
		snapshot.LongestStreak = streak.BestCount
	}
	return snapshot, nil
}

// GetBodyAreaStats returns one stats block per category in catalog order.
// Areas without sessions are present with zero values.
func (s *ProgressService) GetBodyAreaStats(ctx context.Context, userID string) ([]BodyAreaStats, error) {
	aggregates, err := s.repo.AreaAggregates(ctx, userID)
	if err != nil {
		return nil, err
	}

	favorites, err := s.repo.FavoriteExercises(ctx, userID, favoriteExerciseLimit)
	if err != nil {
		return nil, err
	}

	stats := make([]BodyAreaStats, 0, len(BodyAreas))
	for _, area := range BodyAreas {
		agg := aggregates[area]
		entry := BodyAreaStats{
			Area:              area,
			TotalSessions:     agg.Sessions,
			TotalMinutes:      agg.Minutes,
			FavoriteExercises: favorites[area],
			Mastery:           MasteryForSessions(agg.Sessions),
			LastPracticed:     epoch,
		}
		if agg.Sessions > 0 {
			entry.AverageDuration = float64(agg.Minutes) / float64(agg.Sessions)
		}
		score := float64(agg.RecentSessions) / float64(consistencyWindowDays)
		if score > 1 {
			score = 1
		}
		entry.ConsistencyScore = score
		if agg.LastPracticed != nil {
			entry.LastPracticed = *agg.LastPracticed
		}
		stats = append(stats, entry)
	}
	return stats, nil
}

// GetStreaks lists the user's streak states. Activity is derived via
// StreakState.IsActive, never stored.
func (s *ProgressService) GetStreaks(ctx context.Context, userID string) ([]StreakState, error) {
	return s.repo.ListStreaks(ctx, userID)
}

// ListCompletions pages through a user's completion history, newest first.
func (s *ProgressService) ListCompletions(ctx context.Context, userID string, cursor *Cursor, limit int) ([]CompletionRecord, *Cursor, error) {
	return s.repo.ListCompletions(ctx, userID, cursor, limit)
}

// BackfillBiometrics applies late-arriving readings to a completion row.
// This is the only permitted mutation of a completion.
func (s *ProgressService) BackfillBiometrics(ctx context.Context, completionID string, readings Biometrics) error {
	if readings.Empty() {
		return nil
	}
	return s.repo.BackfillBiometrics(ctx, completionID, readings)
}
