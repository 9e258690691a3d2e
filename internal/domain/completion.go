// Package domain defines the business logic for the progress service.
package domain

import (
	"fmt"
	"time"
)

// BodyArea is one of the eight fixed wellness categories.
type BodyArea string

const (
	AreaNervensystem       BodyArea = "nervensystem"
	AreaHormone            BodyArea = "hormone"
	AreaZirkadianerRhytmus BodyArea = "zirkadianer_rhythmus"
	AreaBewegung           BodyArea = "bewegung"
	AreaErnaehrung         BodyArea = "ernaehrung"
	AreaSchlaf             BodyArea = "schlaf"
	AreaAtmung             BodyArea = "atmung"
	AreaMentaleStaerke     BodyArea = "mentale_staerke"
)

// BodyAreas lists every category in catalog order. Aggregations emit an
// entry per area in exactly this order, including areas with no sessions.
var BodyAreas = []BodyArea{
	AreaNervensystem,
	AreaHormone,
	AreaZirkadianerRhytmus,
	AreaBewegung,
	AreaErnaehrung,
	AreaSchlaf,
	AreaAtmung,
	AreaMentaleStaerke,
}

// ParseBodyArea validates a raw string against the closed category set.
func ParseBodyArea(raw string) (BodyArea, error) {
	for _, area := range BodyAreas {
		if string(area) == raw {
			return area, nil
		}
	}
	return "", fmt.Errorf("unknown body area: %q", raw)
}

// Difficulty grades an exercise session.
type Difficulty string

const (
	DifficultyBeginner Difficulty = "beginner"
	DifficultyAdvanced Difficulty = "advanced"
	DifficultyExpert   Difficulty = "expert"
)

// ParseDifficulty validates a raw difficulty string.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch Difficulty(raw) {
	case DifficultyBeginner, DifficultyAdvanced, DifficultyExpert:
		return Difficulty(raw), nil
	}
	return "", fmt.Errorf("unknown difficulty: %q", raw)
}

// Mood captures how the user felt after a session.
type Mood string

const (
	MoodStressed  Mood = "stressed"
	MoodTired     Mood = "tired"
	MoodNeutral   Mood = "neutral"
	MoodRelaxed   Mood = "relaxed"
	MoodEnergized Mood = "energized"
)

// ParseMood validates a raw mood string.
func ParseMood(raw string) (Mood, error) {
	switch Mood(raw) {
	case MoodStressed, MoodTired, MoodNeutral, MoodRelaxed, MoodEnergized:
		return Mood(raw), nil
	}
	return "", fmt.Errorf("unknown mood: %q", raw)
}

// EnergyLevel captures self-reported energy after a session.
type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

// ParseEnergyLevel validates a raw energy string.
func ParseEnergyLevel(raw string) (EnergyLevel, error) {
	switch EnergyLevel(raw) {
	case EnergyLow, EnergyMedium, EnergyHigh:
		return EnergyLevel(raw), nil
	}
	return "", fmt.Errorf("unknown energy level: %q", raw)
}

// Biometrics is an optional snapshot attached to a completion. Every field
// is independently optional; readings arrive late from wearable ingest and
// are backfilled onto the row.
type Biometrics struct {
	HeartRate     *int
	HRV           *int
	StressLevel   *int
	RecoveryScore *int
}

// Empty reports whether no reading is present.
func (b Biometrics) Empty() bool {
	return b.HeartRate == nil && b.HRV == nil && b.StressLevel == nil && b.RecoveryScore == nil
}

// CompletionRecord is one finished exercise session. Rows are immutable
// after insert except for the biometric backfill.
type CompletionRecord struct {
	ID          string
	UserID      string
	ExerciseID  string
	BodyArea    BodyArea
	CompletedAt time.Time
	DurationMin *int
	Difficulty  Difficulty
	Note        string
	Mood        *Mood
	Energy      *EnergyLevel
	Biometrics  Biometrics
	CreatedAt   time.Time
}

// Minutes returns the session duration, treating a missing value as zero.
func (c CompletionRecord) Minutes() int {
	if c.DurationMin == nil {
		return 0
	}
	return *c.DurationMin
}
