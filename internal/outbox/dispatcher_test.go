package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/progress/internal/consumer"
)

type captureProducer struct {
	topics map[string][]kafka.Message
}

func (p *captureProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if p.topics == nil {
		p.topics = make(map[string][]kafka.Message)
	}
	p.topics[topic] = append(p.topics[topic], msgs...)
	return nil
}

type staticRegistry struct{ id int }

func (r *staticRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	return r.id, nil
}

type replayReader struct {
	records []kafka.Message
	commits int
}

func (r *replayReader) FetchMessage(context.Context) (kafka.Message, error) {
	if len(r.records) == 0 {
		return kafka.Message{}, context.Canceled
	}
	next := r.records[0]
	r.records = r.records[1:]
	return next, nil
}

func (r *replayReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.commits += len(msgs)
	return nil
}

func (r *replayReader) Close() error { return nil }

type captureHandler struct {
	events []consumer.Message
}

func (h *captureHandler) Handle(_ context.Context, msg consumer.Message) error {
	h.events = append(h.events, msg)
	return nil
}

func TestDeliverFramesRecordsWithRoutingHeaders(t *testing.T) {
	producer := &captureProducer{}
	d := NewDispatcher(nil, producer, &staticRegistry{id: 7}, time.Second, 10)

	payload := `{"completion_id":"c-1","user_id":"user-1","body_area":"atmung"}`
	msg := Message{
		EventID:       1,
		AggregateType: "completion",
		AggregateID:   "c-1",
		EventType:     "completion.recorded",
		Topic:         "progress_events",
		SchemaSubject: "progress_events-value",
		PartitionKey:  "user-1",
		Payload:       json.RawMessage(payload),
	}

	require.NoError(t, d.deliver(context.Background(), []Message{msg}))

	records := producer.topics["progress_events"]
	require.Len(t, records, 1)

	record := records[0]
	require.Equal(t, []byte("user-1"), record.Key)
	require.Equal(t, byte(0), record.Value[0])
	require.Equal(t, uint32(7), binary.BigEndian.Uint32(record.Value[1:5]))
	require.JSONEq(t, payload, string(record.Value[5:]))

	headers := make(map[string]string, len(record.Headers))
	for _, header := range record.Headers {
		headers[header.Key] = string(header.Value)
	}
	require.Equal(t, "completion.recorded", headers["event_type"])
	require.Equal(t, "user-1", headers["user_id"])
	require.Equal(t, "progress_events-value", headers["schema_subject"])
}

// Delivered records must decode on the consuming side; a record the
// processor rejects is committed and lost, so this guards the full path.
func TestDeliveredRecordsDecodeInConsumer(t *testing.T) {
	producer := &captureProducer{}
	d := NewDispatcher(nil, producer, &staticRegistry{id: 3}, time.Second, 10)

	payload := `{"completion_id":"c-9","user_id":"user-2"}`
	msg := Message{
		EventID:       2,
		AggregateType: "completion",
		AggregateID:   "c-9",
		EventType:     "completion.recorded",
		Topic:         "progress_events",
		SchemaSubject: "progress_events-value",
		PartitionKey:  "user-2",
		Payload:       json.RawMessage(payload),
	}
	require.NoError(t, d.deliver(context.Background(), []Message{msg}))

	reader := &replayReader{records: producer.topics["progress_events"]}
	handler := &captureHandler{}
	proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(log.New(io.Discard, "", 0)))

	err := proc.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, handler.events, 1)
	event := handler.events[0]
	require.Equal(t, "completion.recorded", event.EventType)
	require.Equal(t, "user-2", event.UserID)
	require.Equal(t, "progress_events-value", event.SchemaSubject)
	require.Equal(t, 3, event.SchemaID)
	require.JSONEq(t, payload, string(event.Payload))
	require.Equal(t, 1, reader.commits)
}
