// Package events defines the payloads published to downstream consumers.
package events

import "time"

// CompletionRecorded is emitted when a new exercise completion is accepted.
type CompletionRecorded struct {
	CompletionID string    `json:"completion_id"`
	UserID       string    `json:"user_id"`
	ExerciseID   string    `json:"exercise_id"`
	BodyArea     string    `json:"body_area"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMin  int       `json:"duration_min"`
	Difficulty   string    `json:"difficulty"`
}

// AchievementAwarded is emitted when a user satisfies an achievement
// definition for the first time.
type AchievementAwarded struct {
	AwardID       string    `json:"award_id"`
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	AwardedAt     time.Time `json:"awarded_at"`
	Points        int       `json:"points"`
	Rarity        string    `json:"rarity"`
}

// BiometricsRecorded arrives from wearable ingest and backfills readings
// onto an existing completion.
type BiometricsRecorded struct {
	CompletionID  string    `json:"completion_id"`
	UserID        string    `json:"user_id"`
	HeartRate     *int      `json:"heart_rate,omitempty"`
	HRV           *int      `json:"hrv,omitempty"`
	StressLevel   *int      `json:"stress_level,omitempty"`
	RecoveryScore *int      `json:"recovery_score,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}
