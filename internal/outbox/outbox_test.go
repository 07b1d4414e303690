package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"example.com/trainingalerts/internal/events"
)

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)
	s.writes = append(s.writes, writtenBatch{topic: topic, messages: copied})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	err   error
	calls []string
}

func (s *stubRegistry) EnsureSchema(_ context.Context, subject string, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, subject)
	if s.err != nil {
		return 0, s.err
	}
	return s.id, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func alertMessage(id int64, eventType string) Message {
	route := events.Catalog[eventType]
	return Message{
		EventID:       id,
		TenantID:      "tenant-1",
		AggregateType: "training_alert",
		AggregateID:   "alert-1",
		EventType:     eventType,
		Topic:         route.Topic,
		SchemaSubject: route.SchemaSubject,
		PartitionKey:  "tenant-1:client-1",
		Payload:       json.RawMessage(`{"alert_id":"alert-1"}`),
	}
}

func TestDeliverFramesAndGroupsByTopic(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	d := NewDispatcher(nil, producer, registry, 0, 10, WithLogger(quietLogger()))

	err := d.deliver(context.Background(), []Message{
		alertMessage(1, events.TrainingAlertCreated),
		alertMessage(2, events.TrainingAlertCreated),
		alertMessage(3, events.TrainingAlertResolved),
	})
	require.NoError(t, err)

	require.Len(t, producer.writes, 1)
	require.Equal(t, events.TrainingAlertsTopic, producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 3)
	require.Len(t, registry.calls, 2, "one lookup per subject")

	msg := producer.writes[0].messages[0]
	require.Equal(t, byte(0), msg.Value[0])
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(msg.Value[1:5]))
	require.JSONEq(t, `{"alert_id":"alert-1"}`, string(msg.Value[5:]))
	require.Equal(t, "tenant-1:client-1", string(msg.Key))
	require.Equal(t, "event_type", msg.Headers[0].Key)
	require.Equal(t, events.TrainingAlertCreated, string(msg.Headers[0].Value))
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 1}
	d := NewDispatcher(nil, producer, registry, 0, 10, WithLogger(quietLogger()))

	msg := alertMessage(1, events.TrainingAlertCreated)
	msg.EventType = "training_alert.snoozed"

	err := d.deliver(context.Background(), []Message{msg})
	require.ErrorContains(t, err, "no schema metadata for event_type=training_alert.snoozed")
	require.Empty(t, producer.writes)
	require.Empty(t, registry.calls)
}

func TestDeliverPropagatesRegistryFailure(t *testing.T) {
	d := NewDispatcher(nil, &stubProducer{}, &stubRegistry{err: errors.New("registry down")}, 0, 10, WithLogger(quietLogger()))
	err := d.deliver(context.Background(), []Message{alertMessage(1, events.TrainingAlertCreated)})
	require.ErrorContains(t, err, "registry down")
}

func TestSchemaRegistryRegistersMissingSubject(t *testing.T) {
	var registered bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/subjects/training_alerts-created-value/versions/latest":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/subjects/training_alerts-created-value/versions":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "JSON", body["schemaType"])
			registered = true
			_, _ = w.Write([]byte(`{"id":7}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL + "/")
	id, err := client.EnsureSchema(context.Background(), "training_alerts-created-value", alertCreatedSchema)
	require.NoError(t, err)
	require.Equal(t, 7, id)
	require.True(t, registered)
}

func TestSchemaRegistryReturnsExistingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"id":11,"version":3}`))
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "training_alerts-resolved-value", alertResolvedSchema)
	require.NoError(t, err)
	require.Equal(t, 11, id)
}

func TestSchemaRegistrySurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "s", "{}")
	require.ErrorContains(t, err, "503")
}

func TestReplayBackoffDoublesAndCaps(t *testing.T) {
	r := NewReplayer(nil, 0, 0, quietLogger())
	require.Equal(t, DefaultMaxReplays, r.maxRetries)

	require.Equal(t, time.Minute, r.backoff(0))
	require.Equal(t, time.Minute, r.backoff(1))
	require.Equal(t, 2*time.Minute, r.backoff(2))
	require.Equal(t, 16*time.Minute, r.backoff(5))
	require.Equal(t, time.Hour, r.backoff(7))
	require.Equal(t, time.Hour, r.backoff(40))
}
