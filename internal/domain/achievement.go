package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrAchievementNotFound is returned when a referenced achievement
	// definition does not exist.
	ErrAchievementNotFound = errors.New("achievement not found")
	// ErrDuplicateAward is the sentinel the storage layer maps a
	// (user, achievement) unique violation onto. The evaluator treats it
	// as already-awarded, not as a failure.
	ErrDuplicateAward = errors.New("achievement already awarded")
)

// Rarity tiers for achievement definitions.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// AchievementDefinition is a static catalog entry. RawCriteria is the
// persisted descriptor; Criteria is its decoded form, populated when the
// definition is loaded.
type AchievementDefinition struct {
	ID          string
	Name        string
	Description string
	Category    string
	RawCriteria json.RawMessage
	Criteria    Criterion
	Icon        string
	Points      int
	Rarity      Rarity
	CreatedAt   time.Time
}

// DecodeCriteria fills in the decoded criteria variant from RawCriteria.
func (d *AchievementDefinition) DecodeCriteria() error {
	criterion, err := DecodeCriteria(d.RawCriteria)
	if err != nil {
		return err
	}
	d.Criteria = criterion
	return nil
}

// StatsSnapshot freezes the user's aggregates at award time for
// historical display.
type StatsSnapshot struct {
	TotalSessions int              `json:"total_sessions"`
	CurrentStreak int              `json:"current_streak"`
	AreaSessions  map[BodyArea]int `json:"area_sessions"`
}

// AchievementAward records that a user satisfied a definition. At most
// one exists per (user, definition); created once, never mutated.
type AchievementAward struct {
	ID            string
	UserID        string
	AchievementID string
	AwardedAt     time.Time
	Snapshot      StatsSnapshot
	Definition    *AchievementDefinition
}

// AchievementProgress reports how far a user is toward one definition.
type AchievementProgress struct {
	Definition  AchievementDefinition
	Current     int
	Target      int
	Percentage  float64
	IsCompleted bool
}

// AchievementStats summarises the catalog across all users.
type AchievementStats struct {
	TotalDefinitions int
	TotalAwards      int
	MostAwarded      *AchievementDefinition
	RareAwards       []AchievementDefinition
}
