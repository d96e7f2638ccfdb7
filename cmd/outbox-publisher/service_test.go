package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/pkg/config"
	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	"github.com/angelmondragon/mala-backend/pkg/logger"
	"github.com/angelmondragon/mala-backend/pkg/metrics"
	"github.com/angelmondragon/mala-backend/pkg/outbox"
	"github.com/angelmondragon/mala-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mala-backend/pkg/outbox/registry"
)

const testTopic = "mala-order-events"

// harness wires a Service to in-memory fakes; the real EventRegistry decodes
// rows so envelope validation is exercised end to end.
type harness struct {
	repo    *fakeRepo
	pub     *fakePublisher
	dlq     *fakeDLQRepo
	reg     *prometheus.Registry
	service *Service
}

func newHarness(t *testing.T, maxAttempts int, events ...models.OutboxEvent) *harness {
	t.Helper()
	eventRegistry, err := registry.NewEventRegistry(testTopic)
	require.NoError(t, err)

	h := &harness{
		repo: &fakeRepo{events: events},
		pub:  &fakePublisher{},
		dlq:  &fakeDLQRepo{},
		reg:  prometheus.NewRegistry(),
	}
	h.service, err = NewService(ServiceParams{
		Outbox:           config.OutboxConfig{BatchSize: 10, PollIntervalMS: 50, MaxAttempts: maxAttempts},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               &fakeDB{},
		Broker:           &fakeBroker{},
		Repository:       h.repo,
		Registry:         eventRegistry,
		PublisherFactory: func(topic string) publisher { return h.pub },
		DLQRepository:    h.dlq,
		Metrics:          metrics.NewOutboxMetrics(h.reg),
	})
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	processed, err := h.service.processBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(h.repo.events) > 0, processed)
}

func (h *harness) requireMetric(t *testing.T, name, exposition string) {
	t.Helper()
	require.NoError(t, testutil.GatherAndCompare(h.reg, strings.NewReader(exposition), name))
}

// orderEvent builds an outbox row the way outbox.Service.Emit would.
func orderEvent(t *testing.T, eventType enums.OutboxEventType, orderID uuid.UUID, attempts int) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	data, err := json.Marshal(payloads.OrderCreatedEvent{
		OrderRef: payloads.OrderRef{OrderID: orderID, OrderNumber: "ORD-1700000000000-" + orderID.String()[:4], UserID: "user_1"},
	})
	require.NoError(t, err)
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:     outbox.EnvelopeVersion,
		EventID:     id.String(),
		EventType:   eventType,
		AggregateID: orderID,
		OccurredAt:  time.Now().UTC(),
		Data:        data,
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       payload,
		AttemptCount:  attempts,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestProcessBatchPublishesKeyedByOrder(t *testing.T) {
	orderID := uuid.New()
	event := orderEvent(t, enums.EventOrderPaid, orderID, 0)
	h := newHarness(t, 5, event)

	h.run(t)

	require.Len(t, h.pub.messages, 1)
	msg := h.pub.messages[0]
	require.Equal(t, orderID.String(), msg.Key)
	require.JSONEq(t, string(event.Payload), string(msg.Data))
	require.Equal(t, event.ID.String(), msg.Attributes["event_id"])
	require.Equal(t, string(enums.EventOrderPaid), msg.Attributes["event_type"])
	require.Equal(t, "ORD-1700000000000-"+orderID.String()[:4], msg.Attributes["order_number"])
	require.Equal(t, []uuid.UUID{event.ID}, h.repo.published)
	h.requireMetric(t, "mala_outbox_published_total", `
		# HELP mala_outbox_published_total Outbox events delivered to the broker.
		# TYPE mala_outbox_published_total counter
		mala_outbox_published_total{event_type="order_paid"} 1
	`)
}

func TestProcessBatchOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		attempts    int
		publishErr  error
		mutate      func(*models.OutboxEvent)
		wantRetry   bool
		wantDLQ     enums.OutboxDLQErrorReason
		wantPublish int
	}{
		{name: "transient failure retries", publishErr: errors.New("broker timeout"), wantRetry: true, wantPublish: 1},
		{name: "last attempt dead-letters", attempts: 4, publishErr: errors.New("broker timeout"), wantDLQ: enums.OutboxDLQReasonMaxAttempts, wantPublish: 1},
		{name: "permanent publish error", publishErr: registry.NewNonRetryableError(errors.New("message too large")), wantDLQ: enums.OutboxDLQReasonNonRetryable, wantPublish: 1},
		{
			name:    "undecodable row",
			mutate:  func(e *models.OutboxEvent) { e.Payload = json.RawMessage(`{"data":`) },
			wantDLQ: enums.OutboxDLQReasonUnresolvable,
		},
		{
			name:    "unknown event type",
			mutate:  func(e *models.OutboxEvent) { e.EventType = "order_teleported" },
			wantDLQ: enums.OutboxDLQReasonUnresolvable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event := orderEvent(t, enums.EventOrderCancelled, uuid.New(), tc.attempts)
			if tc.mutate != nil {
				tc.mutate(&event)
			}
			h := newHarness(t, 5, event)
			h.pub.results = []error{tc.publishErr}

			h.run(t)

			require.Len(t, h.pub.messages, tc.wantPublish)
			if tc.wantRetry {
				require.Equal(t, []uuid.UUID{event.ID}, h.repo.failed)
				require.Empty(t, h.repo.terminal)
				require.Empty(t, h.dlq.entries)
				return
			}
			require.Empty(t, h.repo.failed)
			require.Len(t, h.dlq.entries, 1)
			entry := h.dlq.entries[0]
			require.Equal(t, tc.wantDLQ, entry.ErrorReason)
			require.Equal(t, event.ID, entry.EventID)
			require.Equal(t, event.AggregateID, entry.AggregateID)
			require.JSONEq(t, string(event.Payload), string(entry.Payload))
			require.NotNil(t, entry.ErrorMessage)
			require.Equal(t, []uuid.UUID{event.ID}, h.repo.terminal)
			h.requireMetric(t, "mala_outbox_dead_lettered_total", fmt.Sprintf(`
				# HELP mala_outbox_dead_lettered_total Outbox events moved to the DLQ.
				# TYPE mala_outbox_dead_lettered_total counter
				mala_outbox_dead_lettered_total{event_type=%q,reason=%q} 1
			`, event.EventType, tc.wantDLQ))
		})
	}
}

func TestProcessBatchContinuesPastFailedOrder(t *testing.T) {
	first := orderEvent(t, enums.EventOrderCreated, uuid.New(), 0)
	second := orderEvent(t, enums.EventOrderCreated, uuid.New(), 0)
	h := newHarness(t, 5, first, second)
	h.pub.results = []error{errors.New("transient"), nil}

	h.run(t)

	require.Equal(t, []uuid.UUID{first.ID}, h.repo.failed)
	require.Equal(t, []uuid.UUID{second.ID}, h.repo.published)
}

func TestProcessBatchHoldsBackLaterEventsOfFailedOrder(t *testing.T) {
	orderID, otherOrder := uuid.New(), uuid.New()
	created := orderEvent(t, enums.EventOrderCreated, orderID, 0)
	paid := orderEvent(t, enums.EventOrderPaid, orderID, 0)
	unrelated := orderEvent(t, enums.EventOrderCreated, otherOrder, 0)
	h := newHarness(t, 5, created, paid, unrelated)
	h.pub.results = []error{errors.New("broker timeout"), nil}

	h.run(t)

	require.Len(t, h.pub.messages, 2, "order_paid must wait for order_created")
	require.Equal(t, otherOrder.String(), h.pub.messages[1].Key)
	require.Equal(t, []uuid.UUID{created.ID}, h.repo.failed)
	require.Equal(t, []uuid.UUID{unrelated.ID}, h.repo.published)
}

func TestProcessBatchDeadLettersUnroutableTopic(t *testing.T) {
	event := orderEvent(t, enums.EventOrderPaid, uuid.New(), 0)
	h := newHarness(t, 5, event)
	// the kafka producer only serves its own topic
	h.service.publisherFor = newKafkaFactory(&fakeKafka{topic: "mala.order-events"})

	h.run(t)

	require.Len(t, h.dlq.entries, 1)
	require.Equal(t, enums.OutboxDLQReasonUnroutable, h.dlq.entries[0].ErrorReason)
}

func TestEnsureReadinessFailsOnBrokerPing(t *testing.T) {
	h := newHarness(t, 5)
	h.service.broker = &fakeBroker{err: errors.New("unreachable")}
	require.Error(t, h.service.ensureReadiness(context.Background()))

	h.service.broker = &fakeBroker{}
	require.NoError(t, h.service.ensureReadiness(context.Background()))
}

func TestKafkaFactoryForwardsKeyAndHeaders(t *testing.T) {
	producer := &fakeKafka{topic: "mala.order-events"}
	require.Nil(t, newKafkaFactory(producer)("some-other-topic"))

	pub := newKafkaFactory(producer)("mala.order-events")
	require.NotNil(t, pub)
	msg := outboundMessage{Key: "order-1", Data: []byte("{}"), Attributes: map[string]string{"event_id": "e1"}}
	require.NoError(t, pub.Publish(context.Background(), msg))
	require.Equal(t, "order-1", producer.key)
	require.Equal(t, "e1", producer.headers["event_id"])
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(_ *gorm.DB, _, _ int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakeBroker struct{ err error }

func (f *fakeBroker) Ping(context.Context) error { return f.err }

type fakePublisher struct {
	results  []error
	messages []outboundMessage
}

func (f *fakePublisher) Publish(_ context.Context, msg outboundMessage) error {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	err := f.results[0]
	f.results = f.results[1:]
	return err
}

type fakeDLQRepo struct{ entries []models.OutboxDLQ }

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeKafka struct {
	topic   string
	key     string
	headers map[string]string
}

func (f *fakeKafka) Topic() string { return f.topic }

func (f *fakeKafka) Publish(_ context.Context, key string, _ []byte, headers map[string]string) error {
	f.key, f.headers = key, headers
	return nil
}
