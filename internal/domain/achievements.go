package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// AwardCount pairs a definition with its total award count across users.
type AwardCount struct {
	AchievementID string
	Count         int
}

// AchievementRepository captures persistence operations for the
// achievement catalog and per-user awards.
type AchievementRepository interface {
	// ListDefinitions returns the full catalog ordered by category, then
	// ascending point value.
	ListDefinitions(ctx context.Context) ([]AchievementDefinition, error)
	// GetDefinition returns nil when the definition does not exist.
	GetDefinition(ctx context.Context, achievementID string) (*AchievementDefinition, error)
	// EarnedIDs returns the set of definition IDs the user already holds.
	EarnedIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	// InsertAward persists an award, returning ErrDuplicateAward when the
	// (user, achievement) row already exists.
	InsertAward(ctx context.Context, award AchievementAward) error
	HasAward(ctx context.Context, userID, achievementID string) (bool, error)
	// ListAwards returns the user's awards newest first; limit <= 0 means all.
	ListAwards(ctx context.Context, userID string, limit int) ([]AchievementAward, error)
	ListAwardsSince(ctx context.Context, userID string, since time.Time, limit int) ([]AchievementAward, error)
	// AwardCountsByDefinition returns counts ordered most-awarded first.
	AwardCountsByDefinition(ctx context.Context) ([]AwardCount, error)
}

// rareAwardThreshold is the cap below which an epic or legendary
// definition counts as rarely awarded.
const rareAwardThreshold = 10

// AchievementService evaluates criteria against user state and computes
// per-definition progress.
type AchievementService struct {
	repo     AchievementRepository
	progress ProgressRepository
	logger   *log.Logger
}

// NewAchievementService constructs an AchievementService.
func NewAchievementService(repo AchievementRepository, progress ProgressRepository, logger *log.Logger) *AchievementService {
	if logger == nil {
		logger = log.Default()
	}
	return &AchievementService{repo: repo, progress: progress, logger: logger}
}

// CheckAchievements evaluates every not-yet-earned definition against the
// user's current aggregates and persists awards for the satisfied ones.
// It returns the newly earned definitions. A concurrent check racing on
// the same definition loses to the unique constraint and is skipped, not
// failed. Storage errors are returned as-is; the transport layer decides
// whether to fail open.
func (s *AchievementService) CheckAchievements(ctx context.Context, userID string, completion CompletionRecord) ([]AchievementDefinition, error) {
	earned, err := s.repo.EarnedIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	definitions, err := s.repo.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}

	state, err := s.buildEvalState(ctx, userID)
	if err != nil {
		return nil, err
	}

	awarded := make([]AchievementDefinition, 0)
	for i := range definitions {
		def := definitions[i]
		if _, ok := earned[def.ID]; ok {
			continue
		}
		if err := def.DecodeCriteria(); err != nil {
			s.logger.Printf("achievements: skipping %s: %v", def.ID, err)
			continue
		}
		if !def.Criteria.Satisfied(state) {
			continue
		}

		award := AchievementAward{
			ID:            uuid.NewString(),
			UserID:        userID,
			AchievementID: def.ID,
			AwardedAt:     time.Now().UTC(),
			Snapshot: StatsSnapshot{
				TotalSessions: state.TotalSessions,
				CurrentStreak: state.CurrentStreak,
				AreaSessions:  state.AreaSessions,
			},
			Definition: &def,
		}
		if err := s.repo.InsertAward(ctx, award); err != nil {
			if errors.Is(err, ErrDuplicateAward) {
				// Another completion for the same user won the race.
				continue
			}
			return awarded, err
		}
		awarded = append(awarded, def)
	}
	return awarded, nil
}

func (s *AchievementService) buildEvalState(ctx context.Context, userID string) (EvalState, error) {
	total, err := s.progress.CountCompletions(ctx, userID, TimeRange{})
	if err != nil {
		return EvalState{}, err
	}

	streak, err := s.progress.GetStreak(ctx, userID, StreakTypeDaily)
	if err != nil {
		return EvalState{}, err
	}

	areaCounts, err := s.progress.CountByArea(ctx, userID)
	if err != nil {
		return EvalState{}, err
	}

	weekStart := StartOfWeek(time.Now().UTC())
	weekSessions, err := s.progress.CountSince(ctx, userID, weekStart)
	if err != nil {
		return EvalState{}, err
	}

	weekAreas, err := s.progress.DistinctAreasSince(ctx, userID, weekStart)
	if err != nil {
		return EvalState{}, err
	}

	state := EvalState{
		TotalSessions:    total,
		AreaSessions:     areaCounts,
		SessionsThisWeek: weekSessions,
		AreasThisWeek:    weekAreas,
	}
	if streak != nil {
		state.CurrentStreak = streak.CurrentCount
	}
	return state, nil
}

// GetUserAchievements lists the user's awards newest first, definitions
// attached.
func (s *AchievementService) GetUserAchievements(ctx context.Context, userID string) ([]AchievementAward, error) {
	return s.repo.ListAwards(ctx, userID, 0)
}

// CalculateProgress reports current/target progress for one definition.
// Percentage is clamped to 100 even when current overshoots the target.
// IsCompleted mirrors award existence, which is sticky once granted.
func (s *AchievementService) CalculateProgress(ctx context.Context, userID, achievementID string) (AchievementProgress, error) {
	def, err := s.repo.GetDefinition(ctx, achievementID)
	if err != nil {
		return AchievementProgress{}, err
	}
	if def == nil {
		return AchievementProgress{}, ErrAchievementNotFound
	}
	if err := def.DecodeCriteria(); err != nil {
		return AchievementProgress{}, fmt.Errorf("achievement %s: %w", achievementID, err)
	}

	state, err := s.buildEvalState(ctx, userID)
	if err != nil {
		return AchievementProgress{}, err
	}

	completed, err := s.repo.HasAward(ctx, userID, achievementID)
	if err != nil {
		return AchievementProgress{}, err
	}

	return buildProgress(*def, state, completed), nil
}

// GetAllAchievementsWithProgress computes progress for the whole catalog.
// Definitions whose criteria fail to decode are logged and skipped; the
// batch itself never fails on a single entry.
func (s *AchievementService) GetAllAchievementsWithProgress(ctx context.Context, userID string) ([]AchievementProgress, error) {
	definitions, err := s.repo.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}

	state, err := s.buildEvalState(ctx, userID)
	if err != nil {
		return nil, err
	}

	earned, err := s.repo.EarnedIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]AchievementProgress, 0, len(definitions))
	for i := range definitions {
		def := definitions[i]
		if err := def.DecodeCriteria(); err != nil {
			s.logger.Printf("achievements: skipping %s in progress batch: %v", def.ID, err)
			continue
		}
		_, completed := earned[def.ID]
		out = append(out, buildProgress(def, state, completed))
	}
	return out, nil
}

// GetAchievementStats summarises the catalog: totals, the most awarded
// definition, and rarely awarded epic/legendary definitions.
func (s *AchievementService) GetAchievementStats(ctx context.Context) (AchievementStats, error) {
	definitions, err := s.repo.ListDefinitions(ctx)
	if err != nil {
		return AchievementStats{}, err
	}

	counts, err := s.repo.AwardCountsByDefinition(ctx)
	if err != nil {
		return AchievementStats{}, err
	}

	byID := make(map[string]AchievementDefinition, len(definitions))
	for _, def := range definitions {
		byID[def.ID] = def
	}

	stats := AchievementStats{TotalDefinitions: len(definitions)}
	countByID := make(map[string]int, len(counts))
	for _, c := range counts {
		stats.TotalAwards += c.Count
		countByID[c.AchievementID] = c.Count
	}

	if len(counts) > 0 && counts[0].Count > 0 {
		if def, ok := byID[counts[0].AchievementID]; ok {
			stats.MostAwarded = &def
		}
	}

	for _, def := range definitions {
		if def.Rarity != RarityEpic && def.Rarity != RarityLegendary {
			continue
		}
		if countByID[def.ID] < rareAwardThreshold {
			stats.RareAwards = append(stats.RareAwards, def)
		}
	}
	return stats, nil
}

func buildProgress(def AchievementDefinition, state EvalState, completed bool) AchievementProgress {
	current := def.Criteria.Current(state)
	target := def.Criteria.Target()

	percentage := float64(current) / float64(target) * 100
	if percentage > 100 {
		percentage = 100
	}

	return AchievementProgress{
		Definition:  def,
		Current:     current,
		Target:      target,
		Percentage:  percentage,
		IsCompleted: completed,
	}
}
