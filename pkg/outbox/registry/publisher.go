package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	"github.com/angelmondragon/mala-backend/pkg/outbox"
	"github.com/angelmondragon/mala-backend/pkg/outbox/payloads"
)

// EventDescriptor says where an event type is published and how its data decodes.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

// ResolvedEvent is a validated outbox row ready to publish. Attributes are
// extra broker headers derived from the payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
	Attributes map[string]string
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks rows that will never publish no matter how often
// they are retried; the dispatcher dead-letters them immediately.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryable(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// orderScoped is satisfied by every payload embedding payloads.OrderRef.
type orderScoped interface {
	Ref() payloads.OrderRef
}

func decoderFor[T any]() func(json.RawMessage) (any, error) {
	return func(raw json.RawMessage) (any, error) {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// NewEventRegistry routes every order lifecycle event to ordersTopic.
func NewEventRegistry(ordersTopic string) (*EventRegistry, error) {
	ordersTopic = strings.TrimSpace(ordersTopic)
	if ordersTopic == "" {
		return nil, errors.New("orders topic is required")
	}

	decoders := map[enums.OutboxEventType]func(json.RawMessage) (any, error){
		enums.EventOrderCreated:                decoderFor[payloads.OrderCreatedEvent](),
		enums.EventOrderPaid:                   decoderFor[payloads.OrderPaidEvent](),
		enums.EventOrderCancelled:              decoderFor[payloads.OrderCancelledEvent](),
		enums.EventOrderAbandoned:              decoderFor[payloads.OrderAbandonedEvent](),
		enums.EventOrderFulfilmentUpdated:      decoderFor[payloads.OrderFulfilmentUpdatedEvent](),
		enums.EventReturnRequested:             decoderFor[payloads.ReturnRequestedEvent](),
		enums.EventReturnRejected:              decoderFor[payloads.ReturnRejectedEvent](),
		enums.EventRefundInitiated:             decoderFor[payloads.RefundInitiatedEvent](),
		enums.EventOrderRefunded:               decoderFor[payloads.OrderRefundedEvent](),
		enums.EventStockReconciliationRequired: decoderFor[payloads.StockReconciliationRequiredEvent](),
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(decoders))}
	for eventType, decode := range decoders {
		reg.entries[eventType] = EventDescriptor{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			Topic:         ordersTopic,
			decode:        decode,
		}
	}
	return reg, nil
}

func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve checks the row against its envelope and decodes the typed payload.
// Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	}
	if desc.AggregateType != event.AggregateType {
		return nil, nonRetryable("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	}
	if event.AggregateID == uuid.Nil {
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	if envelope.EventType != "" && envelope.EventType != event.EventType {
		return nil, nonRetryable("envelope event type %s does not match row %s", envelope.EventType, event.EventType)
	}
	if envelope.AggregateID != uuid.Nil && envelope.AggregateID != event.AggregateID {
		return nil, nonRetryable("envelope aggregate %s does not match row %s", envelope.AggregateID, event.AggregateID)
	}

	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryable("payload missing for %s", event.EventType)
	}
	payload, err := desc.decode(data)
	if err != nil {
		return nil, nonRetryable("decode %s payload: %w", event.EventType, err)
	}

	resolved := &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}
	if scoped, ok := payload.(orderScoped); ok {
		ref := scoped.Ref()
		if ref.OrderID != uuid.Nil && ref.OrderID != event.AggregateID {
			return nil, nonRetryable("payload order %s does not match aggregate %s", ref.OrderID, event.AggregateID)
		}
		if ref.OrderNumber != "" {
			resolved.Attributes = map[string]string{"order_number": ref.OrderNumber}
		}
	}
	return resolved, nil
}
