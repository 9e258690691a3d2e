package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/progress/internal/domain"
)

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := []byte(`{"completion_id":"comp-1","user_id":"user-1","heart_rate":61}`)
	msg := frameMessage("biometric_readings", 10, "biometrics.recorded", "user-1", 42, payload)

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, "biometrics.recorded", handler.last.EventType)
	require.Equal(t, "user-1", handler.last.UserID)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, string(payload), string(handler.last.Payload))
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := []byte(`{"completion_id":"comp-2"}`)
	msg := frameMessage("biometric_readings", 20, "biometrics.recorded", "user-2", 99, payload)

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}
	handler := &stubHandler{err: errors.New("boom")}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 0, reader.commitCalls)
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Too short for the wire framing; must be committed, never retried.
	msg := kafka.Message{
		Topic: "biometric_readings",
		Value: []byte{0x00, 0x01},
	}

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 0, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
}

func TestBiometricsHandlerBackfillsReadings(t *testing.T) {
	backfiller := &stubBackfiller{}
	handler := NewBiometricsHandler(backfiller)

	payload := []byte(`{"completion_id":"comp-1","user_id":"user-1","heart_rate":58,"recovery_score":90,"recorded_at":"2026-08-28T07:00:00Z"}`)
	err := handler.Handle(context.Background(), Message{
		EventType: "biometrics.recorded",
		UserID:    "user-1",
		Payload:   payload,
	})
	require.NoError(t, err)

	require.Equal(t, "comp-1", backfiller.completionID)
	require.NotNil(t, backfiller.readings.HeartRate)
	require.Equal(t, 58, *backfiller.readings.HeartRate)
	require.NotNil(t, backfiller.readings.RecoveryScore)
	require.Nil(t, backfiller.readings.HRV)
}

func TestBiometricsHandlerIgnoresOtherEventTypes(t *testing.T) {
	backfiller := &stubBackfiller{}
	handler := NewBiometricsHandler(backfiller)

	err := handler.Handle(context.Background(), Message{
		EventType: "completion.recorded",
		Payload:   []byte(`{"completion_id":"comp-1"}`),
	})
	require.NoError(t, err)
	require.Empty(t, backfiller.completionID)
}

func TestBiometricsHandlerRejectsMissingCompletionID(t *testing.T) {
	handler := NewBiometricsHandler(&stubBackfiller{})

	err := handler.Handle(context.Background(), Message{
		EventType: "biometrics.recorded",
		Payload:   []byte(`{"heart_rate":70}`),
	})
	require.Error(t, err)
}

func frameMessage(topic string, offset int64, eventType, userID string, schemaID int, payload []byte) kafka.Message {
	value := make([]byte, 5+len(payload))
	value[0] = 0
	binary.BigEndian.PutUint32(value[1:5], uint32(schemaID))
	copy(value[5:], payload)

	return kafka.Message{
		Topic:  topic,
		Offset: offset,
		Time:   time.Now().UTC(),
		Value:  value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "user_id", Value: []byte(userID)},
			{Key: "schema_subject", Value: []byte(topic + "-value")},
		},
	}
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

type stubHandler struct {
	calls int
	err   error
	last  Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	return h.err
}

type stubBackfiller struct {
	completionID string
	readings     domain.Biometrics
}

func (s *stubBackfiller) BackfillBiometrics(_ context.Context, completionID string, readings domain.Biometrics) error {
	s.completionID = completionID
	s.readings = readings
	return nil
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
