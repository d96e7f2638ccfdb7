package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "order"
	AggregateInventory OutboxAggregateType = "inventory"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateInventory,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderCreated                OutboxEventType = "order_created"
	EventOrderPaid                   OutboxEventType = "order_paid"
	EventOrderCancelled              OutboxEventType = "order_cancelled"
	EventOrderAbandoned              OutboxEventType = "order_abandoned"
	EventOrderFulfilmentUpdated      OutboxEventType = "order_fulfilment_updated"
	EventReturnRequested             OutboxEventType = "return_requested"
	EventReturnRejected              OutboxEventType = "return_rejected"
	EventRefundInitiated             OutboxEventType = "refund_initiated"
	EventOrderRefunded               OutboxEventType = "order_refunded"
	EventStockReconciliationRequired OutboxEventType = "stock_reconciliation_required"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderCancelled,
	EventOrderAbandoned,
	EventOrderFulfilmentUpdated,
	EventReturnRequested,
	EventReturnRejected,
	EventRefundInitiated,
	EventOrderRefunded,
	EventStockReconciliationRequired,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
