package razorpaywebhook

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
)

const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
	EventRefundProcessed = "refund.processed"
	EventRefundFailed    = "refund.failed"
)

// Event is the subset of a Razorpay webhook delivery the order engine reacts to.
type Event struct {
	Event     string       `json:"event"`
	AccountID string       `json:"account_id"`
	Payload   eventPayload `json:"payload"`
	CreatedAt int64        `json:"created_at"`
}

type eventPayload struct {
	Payment *struct {
		Entity PaymentEntity `json:"entity"`
	} `json:"payment,omitempty"`
	Refund *struct {
		Entity RefundEntity `json:"entity"`
	} `json:"refund,omitempty"`
}

type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
}

// Payment returns the payment entity, if the delivery carried one.
func (e *Event) Payment() *PaymentEntity {
	if e == nil || e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}

// Refund returns the refund entity, if the delivery carried one.
func (e *Event) Refund() *RefundEntity {
	if e == nil || e.Payload.Refund == nil {
		return nil
	}
	return &e.Payload.Refund.Entity
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	event.Event = strings.TrimSpace(event.Event)
	if event.Event == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event type missing")
	}
	return &event, nil
}
