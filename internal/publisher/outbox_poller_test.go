package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_store/internal/repository"
	"github.com/fjod/go_store/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

// MockWriter implements MessageWriter for testing
type MockWriter struct {
	mu       sync.Mutex
	Messages []kafkaGo.Message
	FailKeys map[string]bool
}

func (m *MockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if m.FailKeys[string(msg.Key)] {
			return errors.New("leader not available")
		}
		m.Messages = append(m.Messages, msg)
	}
	return nil
}

func (m *MockWriter) Close() error { return nil }

// MockOutbox implements OutboxStore for testing
type MockOutbox struct {
	Events    []*repository.OutboxEvent
	GetErr    error
	MarkErr   error
	Processed []uuid.UUID
}

func (m *MockOutbox) GetUnprocessedEvents(context.Context, int) ([]*repository.OutboxEvent, error) {
	return m.Events, m.GetErr
}

func (m *MockOutbox) MarkEventAsProcessed(_ context.Context, id uuid.UUID) error {
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.Processed = append(m.Processed, id)
	return nil
}

func newTestPoller(s OutboxStore, w MessageWriter) *OutboxPoller {
	return &OutboxPoller{
		eventTick: 10 * time.Millisecond,
		batchSize: DefaultBatchSize,
		store:     s,
		writer:    w,
		logger:    zerolog.Nop(),
	}
}

func outboxEvent(aggregateID, eventType string) *repository.OutboxEvent {
	return &repository.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "order",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       json.RawMessage(fmt.Sprintf(`{"order_code":%s}`, aggregateID)),
		CreatedAt:     time.Now(),
	}
}

func TestProcessUnpublishedEvents_PublishesAndMarks(t *testing.T) {
	e1 := outboxEvent("1234", "order.placed")
	e2 := outboxEvent("1234", "order.paid")
	outbox := &MockOutbox{Events: []*repository.OutboxEvent{e1, e2}}
	writer := &MockWriter{}

	newTestPoller(outbox, writer).processUnpublishedEvents(context.Background())

	require.Len(t, writer.Messages, 2)
	assert.Equal(t, "1234", string(writer.Messages[0].Key))
	assert.Equal(t, "event_type", writer.Messages[0].Headers[0].Key)
	assert.Equal(t, "order.placed", string(writer.Messages[0].Headers[0].Value))
	assert.Equal(t, "order.paid", string(writer.Messages[1].Headers[0].Value))
	assert.Equal(t, []uuid.UUID{e1.ID, e2.ID}, outbox.Processed)
}

func TestProcessUnpublishedEvents_FailedPublishIsNotMarked(t *testing.T) {
	bad := outboxEvent("1000", "order.placed")
	good := outboxEvent("2000", "order.placed")
	outbox := &MockOutbox{Events: []*repository.OutboxEvent{bad, good}}
	writer := &MockWriter{FailKeys: map[string]bool{"1000": true}}

	newTestPoller(outbox, writer).processUnpublishedEvents(context.Background())

	assert.Equal(t, []uuid.UUID{good.ID}, outbox.Processed, "one failing event does not block the rest")
}

func TestProcessUnpublishedEvents_StoreErrors(t *testing.T) {
	writer := &MockWriter{}

	newTestPoller(&MockOutbox{GetErr: errors.New("database connection error")}, writer).
		processUnpublishedEvents(context.Background())
	assert.Empty(t, writer.Messages)

	outbox := &MockOutbox{Events: []*repository.OutboxEvent{outboxEvent("1000", "order.placed")}, MarkErr: errors.New("deadlock")}
	newTestPoller(outbox, writer).processUnpublishedEvents(context.Background())
	assert.Len(t, writer.Messages, 1)
	assert.Empty(t, outbox.Processed)
}

func TestOutboxPoller_RunDrainsMemoryStore(t *testing.T) {
	s := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.InsertOutboxEvent(ctx, outboxEvent("1000", "order.placed")))
	writer := &MockWriter{}

	done := make(chan struct{})
	go func() {
		newTestPoller(s, writer).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		events, err := s.GetUnprocessedEvents(context.Background(), 10)
		return err == nil && len(events) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Len(t, writer.Messages, 1)
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestOutboxPoller_PublishesEventsToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, DefaultTopic)
	time.Sleep(5 * time.Second)

	event := outboxEvent("4821", "order.paid")
	outbox := &MockOutbox{Events: []*repository.OutboxEvent{event}}

	writer := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(brokerAddr),
		Topic:        DefaultTopic,
		Balancer:     &kafkaGo.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	defer writer.Close()

	poller := newTestPoller(outbox, writer)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	poller.processUnpublishedEvents(ctx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    DefaultTopic,
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)

	assert.Equal(t, "4821", string(msg.Key))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, float64(4821), payload["order_code"])
	assert.Equal(t, []uuid.UUID{event.ID}, outbox.Processed)
}
