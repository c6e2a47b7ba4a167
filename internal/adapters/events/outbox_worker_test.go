package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

type memoryOutbox struct {
	mu           sync.Mutex
	records      []ports.OutboxRecord
	published    []uuid.UUID
	failed       []uuid.UUID
	deadLettered []uuid.UUID
	claimLimit   int
}

func (o *memoryOutbox) Enqueue(context.Context, ports.OutboxEvent) error { return nil }

func (o *memoryOutbox) ClaimUnpublished(_ context.Context, limit int, _ string, _ time.Time) ([]ports.OutboxRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.claimLimit = limit
	out := o.records
	o.records = nil
	return out, nil
}

func (o *memoryOutbox) MarkPublished(_ context.Context, id uuid.UUID, _ string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.published = append(o.published, id)
	return nil
}

func (o *memoryOutbox) MarkFailed(_ context.Context, id uuid.UUID, _, _ string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, id)
	return nil
}

func (o *memoryOutbox) MarkDeadLettered(_ context.Context, id uuid.UUID, _, _ string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deadLettered = append(o.deadLettered, id)
	return nil
}

type publishedEvent struct {
	eventType    string
	partitionKey string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	failOn map[string]error
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failOn[partitionKey]; err != nil {
		return err
	}
	p.events = append(p.events, publishedEvent{eventType: eventType, partitionKey: partitionKey})
	return nil
}

func record(sessionID, eventType string, retries int) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:     uuid.New(),
		EventType:    eventType,
		PartitionKey: sessionID,
		Payload:      []byte(`{}`),
		RetryCount:   retries,
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOutboxWorkerPublishesWithSessionKey(t *testing.T) {
	t.Parallel()

	ok := record("session_a", "telegram.session.created", 0)
	failing := record("session_b", "telegram.session.created", 0)
	exhausted := record("session_c", "telegram.session.closed", 5)
	lastTry := record("session_d", "telegram.session.closed", 4)

	outbox := &memoryOutbox{records: []ports.OutboxRecord{ok, failing, exhausted, lastTry}}
	pub := &recordingPublisher{failOn: map[string]error{
		"session_b": errors.New("broker down"),
		"session_d": errors.New("broker down"),
	}}
	worker := NewOutboxWorker(discard(), outbox, pub, OutboxWorkerConfig{BatchSize: 10, MaxRetries: 5})

	require.NoError(t, worker.ProcessOnce(context.Background()))

	assert.Equal(t, 10, outbox.claimLimit)
	assert.Equal(t, []publishedEvent{{eventType: "telegram.session.created", partitionKey: "session_a"}}, pub.events)
	assert.Equal(t, []uuid.UUID{ok.OutboxID}, outbox.published)
	assert.Equal(t, []uuid.UUID{failing.OutboxID}, outbox.failed)
	assert.ElementsMatch(t, []uuid.UUID{exhausted.OutboxID, lastTry.OutboxID}, outbox.deadLettered)
}

func TestOutboxWorkerDefaults(t *testing.T) {
	t.Parallel()

	worker := NewOutboxWorker(discard(), &memoryOutbox{}, &recordingPublisher{}, OutboxWorkerConfig{})
	assert.Equal(t, 2*time.Second, worker.interval)
	assert.Equal(t, 100, worker.batchSize)
	assert.Equal(t, 30*time.Second, worker.claimTTL)
	assert.Equal(t, 5, worker.maxRetries)
}

func TestOutboxWorkerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	outbox := &memoryOutbox{records: []ports.OutboxRecord{record("session_a", "telegram.session.created", 0)}}
	pub := &recordingPublisher{}
	worker := NewOutboxWorker(discard(), outbox, pub, OutboxWorkerConfig{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := worker.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.events, 1)
}

func TestKafkaPublisherTopicRouting(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaPublisher(nil, "telegram.session.events", nil)
	require.Error(t, err)

	pub, err := NewKafkaPublisher([]string{"localhost:9092"}, "telegram.session.events", map[string]string{
		"telegram.session.authorized": "telegram.session.authorized.v1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	assert.Equal(t, "telegram.session.authorized.v1", pub.topicFor("telegram.session.authorized"))
	assert.Equal(t, "telegram.session.events", pub.topicFor("telegram.session.created"))

	bare, err := NewKafkaPublisher([]string{"localhost:9092"}, "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bare.Close() })
	assert.Equal(t, "telegram.session.closed", bare.topicFor("telegram.session.closed"))
}

func TestLoggingPublisherAcceptsEvents(t *testing.T) {
	t.Parallel()

	pub := NewLoggingPublisher(discard())
	require.NoError(t, pub.Publish(context.Background(), "telegram.session.created", []byte(`{"phone":"+1"}`), "session_a"))
	require.NoError(t, pub.Close())
}
