package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/progress/internal/domain"
	"example.com/progress/internal/events"
)

// BiometricsBackfiller applies late-arriving readings to a completion.
type BiometricsBackfiller interface {
	BackfillBiometrics(ctx context.Context, completionID string, readings domain.Biometrics) error
}

// BiometricsHandler consumes biometric reading events from wearable ingest
// and backfills them onto the referenced completion. Events for other
// types pass through untouched.
type BiometricsHandler struct {
	backfiller BiometricsBackfiller
}

// NewBiometricsHandler constructs a BiometricsHandler.
func NewBiometricsHandler(backfiller BiometricsBackfiller) *BiometricsHandler {
	return &BiometricsHandler{backfiller: backfiller}
}

// Handle implements Handler.
func (h *BiometricsHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != "biometrics.recorded" {
		return nil
	}

	var payload events.BiometricsRecorded
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode biometrics payload: %w", err)
	}
	if payload.CompletionID == "" {
		return fmt.Errorf("biometrics event missing completion_id (offset=%d)", msg.Offset)
	}

	readings := domain.Biometrics{
		HeartRate:     payload.HeartRate,
		HRV:           payload.HRV,
		StressLevel:   payload.StressLevel,
		RecoveryScore: payload.RecoveryScore,
	}
	return h.backfiller.BackfillBiometrics(ctx, payload.CompletionID, readings)
}
