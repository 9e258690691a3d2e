package domain

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// memStore is an in-memory stand-in for the Postgres repository. It
// implements both repository interfaces so service tests can run against
// realistic aggregate behaviour without a database.
type memStore struct {
	completions []CompletionRecord
	streaks     map[string]StreakState
	defs        []AchievementDefinition
	awards      []AchievementAward

	err            error // when set, every call fails with it
	insertAwardErr error // overrides InsertAward when set
}

func newMemStore() *memStore {
	return &memStore{streaks: make(map[string]StreakState)}
}

func streakKey(userID string, st StreakType) string { return userID + "/" + string(st) }

func (m *memStore) InsertCompletion(_ context.Context, record CompletionRecord) error {
	if m.err != nil {
		return m.err
	}
	m.completions = append(m.completions, record)
	return nil
}

func (m *memStore) ListCompletions(_ context.Context, userID string, cursor *Cursor, limit int) ([]CompletionRecord, *Cursor, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	var out []CompletionRecord
	for _, c := range m.completions {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		last := out[limit-1]
		return out[:limit], &Cursor{CompletedAt: last.CompletedAt, ID: last.ID}, nil
	}
	return out, nil, nil
}

func (m *memStore) CountCompletions(_ context.Context, userID string, rng TimeRange) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	count := 0
	for _, c := range m.completions {
		if c.UserID == userID && inRange(c.CompletedAt, rng) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) SumDurationMinutes(_ context.Context, userID string, rng TimeRange) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	sum := 0
	for _, c := range m.completions {
		if c.UserID == userID && inRange(c.CompletedAt, rng) {
			sum += c.Minutes()
		}
	}
	return sum, nil
}

func (m *memStore) CountByArea(_ context.Context, userID string) (map[BodyArea]int, error) {
	if m.err != nil {
		return nil, m.err
	}
	counts := make(map[BodyArea]int)
	for _, c := range m.completions {
		if c.UserID == userID {
			counts[c.BodyArea]++
		}
	}
	return counts, nil
}

func (m *memStore) AreaAggregates(_ context.Context, userID string) (map[BodyArea]AreaAggregate, error) {
	if m.err != nil {
		return nil, m.err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	out := make(map[BodyArea]AreaAggregate)
	for _, c := range m.completions {
		if c.UserID != userID {
			continue
		}
		agg := out[c.BodyArea]
		agg.Sessions++
		agg.Minutes += c.Minutes()
		if c.CompletedAt.After(cutoff) {
			agg.RecentSessions++
		}
		if agg.LastPracticed == nil || c.CompletedAt.After(*agg.LastPracticed) {
			at := c.CompletedAt
			agg.LastPracticed = &at
		}
		out[c.BodyArea] = agg
	}
	return out, nil
}

func (m *memStore) FavoriteExercises(_ context.Context, userID string, perArea int) (map[BodyArea][]ExerciseFrequency, error) {
	if m.err != nil {
		return nil, m.err
	}
	counts := make(map[BodyArea]map[string]int)
	for _, c := range m.completions {
		if c.UserID != userID {
			continue
		}
		if counts[c.BodyArea] == nil {
			counts[c.BodyArea] = make(map[string]int)
		}
		counts[c.BodyArea][c.ExerciseID]++
	}
	out := make(map[BodyArea][]ExerciseFrequency)
	for area, byExercise := range counts {
		var freqs []ExerciseFrequency
		for id, n := range byExercise {
			freqs = append(freqs, ExerciseFrequency{ExerciseID: id, Count: n})
		}
		sort.SliceStable(freqs, func(i, j int) bool {
			if freqs[i].Count != freqs[j].Count {
				return freqs[i].Count > freqs[j].Count
			}
			return freqs[i].ExerciseID < freqs[j].ExerciseID
		})
		if len(freqs) > perArea {
			freqs = freqs[:perArea]
		}
		out[area] = freqs
	}
	return out, nil
}

func (m *memStore) CountSince(_ context.Context, userID string, since time.Time) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	count := 0
	for _, c := range m.completions {
		if c.UserID == userID && !c.CompletedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) DistinctAreasSince(_ context.Context, userID string, since time.Time) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	seen := make(map[BodyArea]struct{})
	for _, c := range m.completions {
		if c.UserID == userID && !c.CompletedAt.Before(since) {
			seen[c.BodyArea] = struct{}{}
		}
	}
	return len(seen), nil
}

func (m *memStore) LastCompletionAt(_ context.Context, userID string) (*time.Time, error) {
	if m.err != nil {
		return nil, m.err
	}
	var last *time.Time
	for _, c := range m.completions {
		if c.UserID != userID {
			continue
		}
		if last == nil || c.CompletedAt.After(*last) {
			at := c.CompletedAt
			last = &at
		}
	}
	return last, nil
}

func (m *memStore) GetStreak(_ context.Context, userID string, st StreakType) (*StreakState, error) {
	if m.err != nil {
		return nil, m.err
	}
	state, ok := m.streaks[streakKey(userID, st)]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

func (m *memStore) ListStreaks(_ context.Context, userID string) ([]StreakState, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []StreakState
	for _, state := range m.streaks {
		if state.UserID == userID {
			out = append(out, state)
		}
	}
	return out, nil
}

func (m *memStore) SaveStreak(_ context.Context, state StreakState) error {
	if m.err != nil {
		return m.err
	}
	m.streaks[streakKey(state.UserID, state.Type)] = state
	return nil
}

func (m *memStore) BackfillBiometrics(_ context.Context, completionID string, readings Biometrics) error {
	if m.err != nil {
		return m.err
	}
	for i := range m.completions {
		if m.completions[i].ID == completionID {
			m.completions[i].Biometrics = readings
			return nil
		}
	}
	return nil
}

func (m *memStore) ListDefinitions(_ context.Context) ([]AchievementDefinition, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]AchievementDefinition, len(m.defs))
	copy(out, m.defs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Points < out[j].Points
	})
	return out, nil
}

func (m *memStore) GetDefinition(_ context.Context, achievementID string) (*AchievementDefinition, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, def := range m.defs {
		if def.ID == achievementID {
			copied := def
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) EarnedIDs(_ context.Context, userID string) (map[string]struct{}, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]struct{})
	for _, award := range m.awards {
		if award.UserID == userID {
			out[award.AchievementID] = struct{}{}
		}
	}
	return out, nil
}

func (m *memStore) InsertAward(_ context.Context, award AchievementAward) error {
	if m.err != nil {
		return m.err
	}
	if m.insertAwardErr != nil {
		return m.insertAwardErr
	}
	for _, existing := range m.awards {
		if existing.UserID == award.UserID && existing.AchievementID == award.AchievementID {
			return ErrDuplicateAward
		}
	}
	m.awards = append(m.awards, award)
	return nil
}

func (m *memStore) HasAward(_ context.Context, userID, achievementID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	for _, award := range m.awards {
		if award.UserID == userID && award.AchievementID == achievementID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListAwards(_ context.Context, userID string, limit int) ([]AchievementAward, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []AchievementAward
	for _, award := range m.awards {
		if award.UserID == userID {
			out = append(out, award)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AwardedAt.After(out[j].AwardedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListAwardsSince(ctx context.Context, userID string, since time.Time, limit int) ([]AchievementAward, error) {
	all, err := m.ListAwards(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	var out []AchievementAward
	for _, award := range all {
		if !award.AwardedAt.Before(since) {
			out = append(out, award)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) AwardCountsByDefinition(_ context.Context) ([]AwardCount, error) {
	if m.err != nil {
		return nil, m.err
	}
	counts := make(map[string]int)
	for _, award := range m.awards {
		counts[award.AchievementID]++
	}
	var out []AwardCount
	for id, n := range counts {
		out = append(out, AwardCount{AchievementID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

func inRange(at time.Time, rng TimeRange) bool {
	if rng.From != nil && at.Before(*rng.From) {
		return false
	}
	if rng.To != nil && at.After(*rng.To) {
		return false
	}
	return true
}

func makeDefinition(id, category string, points int, rarity Rarity, criteria string) AchievementDefinition {
	return AchievementDefinition{
		ID:          id,
		Name:        id,
		Description: "test definition",
		Category:    category,
		RawCriteria: json.RawMessage(criteria),
		Icon:        "star",
		Points:      points,
		Rarity:      rarity,
	}
}
