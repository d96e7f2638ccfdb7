package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/pkg/config"
	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	"github.com/angelmondragon/mala-backend/pkg/logger"
	"github.com/angelmondragon/mala-backend/pkg/metrics"
	"github.com/angelmondragon/mala-backend/pkg/outbox"
	"github.com/angelmondragon/mala-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var errNoPublisher = errors.New("publisher not configured for topic")

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type broker interface {
	Ping(context.Context) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

// outboundMessage is one outbox row ready for the wire. Key is the aggregate
// id so per-order ordering survives partitioned transports.
type outboundMessage struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

type publisher interface {
	Publish(context.Context, outboundMessage) error
}

type ServiceParams struct {
	Outbox           config.OutboxConfig
	Logger           *logger.Logger
	DB               dbClient
	Broker           broker
	BrokerName       string
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
}

// Service drains outbox_events into the configured broker. Rows for one order
// are published in created_at order; a retryable failure holds back the rest of
// that order's rows until the next batch.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	broker       broker
	brokerName   string
	registry     registryResolver
	dlq          dlqRepository
	publisherFor publisherFactory
	metrics      *metrics.OutboxMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Broker == nil:
		return nil, errors.New("event broker is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	case params.PublisherFactory == nil:
		return nil, errors.New("publisher factory is required")
	}

	s := &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		broker:       params.Broker,
		brokerName:   params.BrokerName,
		registry:     params.Registry,
		dlq:          params.DLQRepository,
		publisherFor: params.PublisherFactory,
		metrics:      params.Metrics,
		batchSize:    params.Outbox.BatchSize,
		maxAttempts:  params.Outbox.MaxAttempts,
		pollInterval: time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
		now:          time.Now,
	}
	if s.brokerName == "" {
		s.brokerName = config.EventsDriverPubSub
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	return s, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.broker.Ping(ctx); err != nil {
		s.logg.Error(ctx, s.brokerName+" ping failed", err)
		return fmt.Errorf("%s ping failed: %w", s.brokerName, err)
	}
	return nil
}

// Run polls until ctx is cancelled. Full batches loop immediately; batch errors
// back off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	backoff := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		processed, err := s.processBatch(ctx)
		wait := s.pollInterval
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = min(backoff*2, maxBackoff)
			wait = backoff
		case processed:
			backoff = s.pollInterval
			continue
		default:
			backoff = s.pollInterval
		}
		if err := sleep(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

// outcome is what publishing one row decided.
type outcome struct {
	published bool
	retryErr  error
	dlqReason enums.OutboxDLQErrorReason
	dlqErr    error
	topic     string
	fields    map[string]any
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0

		heldBack := map[uuid.UUID]struct{}{}
		for _, event := range events {
			if _, held := heldBack[event.AggregateID]; held {
				continue
			}
			result := s.dispatch(ctx, event)
			if err := s.record(ctx, tx, event, result); err != nil {
				return err
			}
			if result.retryErr != nil {
				heldBack[event.AggregateID] = struct{}{}
			}
		}
		return nil
	})
	return processed, err
}

func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) outcome {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return outcome{dlqReason: enums.OutboxDLQReasonUnresolvable, dlqErr: err, fields: s.eventFields(event, outbox.PayloadEnvelope{}, "")}
	}
	topic := resolved.Descriptor.Topic
	fields := s.eventFields(event, resolved.Envelope, topic)

	err = s.publish(ctx, event, resolved)
	var nonRetry registry.NonRetryableError
	switch {
	case err == nil:
		return outcome{published: true, topic: topic, fields: fields}
	case errors.Is(err, errNoPublisher):
		return outcome{dlqReason: enums.OutboxDLQReasonUnroutable, dlqErr: err, topic: topic, fields: fields}
	case errors.As(err, &nonRetry):
		return outcome{dlqReason: enums.OutboxDLQReasonNonRetryable, dlqErr: err, topic: topic, fields: fields}
	case event.AttemptCount+1 >= s.maxAttempts:
		fields["attempt_count"] = event.AttemptCount + 1
		return outcome{dlqReason: enums.OutboxDLQReasonMaxAttempts, dlqErr: fmt.Errorf("max publish attempts reached: %w", err), topic: topic, fields: fields}
	default:
		fields["attempt_count"] = event.AttemptCount + 1
		return outcome{retryErr: err, topic: topic, fields: fields}
	}
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, result outcome) error {
	eventType := string(event.EventType)
	switch {
	case result.published:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.IncPublished(eventType)
		s.logg.Info(s.logg.WithFields(ctx, result.fields), "outbox event published")

	case result.retryErr != nil:
		logCtx := s.logg.WithField(s.logg.WithFields(ctx, result.fields), "error", result.retryErr.Error())
		s.logg.Warn(logCtx, "outbox publish failed; will retry")
		s.metrics.IncFailed(eventType)
		if err := s.repo.MarkFailedTx(tx, event.ID, result.retryErr); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}

	default:
		return s.deadLetter(ctx, tx, event, result)
	}
	return nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, result outcome) error {
	result.fields["error_reason"] = result.dlqReason
	logCtx := s.logg.WithField(s.logg.WithFields(ctx, result.fields), "error", result.dlqErr.Error())
	s.logg.Warn(logCtx, "outbox event dead-lettered")

	msg := result.dlqErr.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   result.dlqReason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, result.dlqErr, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.metrics.IncDeadLettered(string(event.EventType), string(result.dlqReason))
	return nil
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("%w: %s", errNoPublisher, topic))
	}

	orderID := event.AggregateID.String()
	msg := outboundMessage{
		Key:  orderID,
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   orderID,
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	for k, v := range resolved.Attributes {
		msg.Attributes[k] = v
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	return pub.Publish(publishCtx, msg)
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if topic != "" {
		fields["topic"] = topic
		fields["broker"] = s.brokerName
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
