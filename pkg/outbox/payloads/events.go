package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mala-backend/pkg/enums"
)

// OrderRef is the identity block shared by every order event.
type OrderRef struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
}

func (r OrderRef) Ref() OrderRef { return r }

type OrderLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderCreatedEvent struct {
	OrderRef
	GatewayOrderID string          `json:"gateway_order_id"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	Currency       enums.Currency  `json:"currency"`
	Lines          []OrderLine     `json:"lines"`
}

type OrderPaidEvent struct {
	OrderRef
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	Currency         enums.Currency  `json:"currency"`
	Source           string          `json:"source"`
	PaidAt           time.Time       `json:"paid_at"`
}

type OrderCancelledEvent struct {
	OrderRef
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	Reason         string            `json:"reason"`
	StockRestored  bool              `json:"stock_restored"`
	CancelledAt    time.Time         `json:"cancelled_at"`
}

type OrderAbandonedEvent struct {
	OrderRef
	GatewayOrderID string    `json:"gateway_order_id"`
	Trigger        string    `json:"trigger"`
	CreatedAt      time.Time `json:"created_at"`
	RemovedAt      time.Time `json:"removed_at"`
}

type OrderFulfilmentUpdatedEvent struct {
	OrderRef
	From         enums.OrderStatus `json:"from"`
	To           enums.OrderStatus `json:"to"`
	ShipmentRef  *string           `json:"shipment_ref,omitempty"`
	CourierName  *string           `json:"courier_name,omitempty"`
	TrackingCode *string           `json:"tracking_code,omitempty"`
	TrackingURL  *string           `json:"tracking_url,omitempty"`
}

type ReturnRequestedEvent struct {
	OrderRef
	Reason       enums.ReturnReason `json:"reason"`
	RefundAmount decimal.Decimal    `json:"refund_amount"`
	RefundMethod enums.RefundMethod `json:"refund_method"`
	RequestedAt  time.Time          `json:"requested_at"`
}

type ReturnRejectedEvent struct {
	OrderRef
	AdminNotes string    `json:"admin_notes,omitempty"`
	RejectedAt time.Time `json:"rejected_at"`
}

type RefundInitiatedEvent struct {
	OrderRef
	RefundID string             `json:"refund_id"`
	Amount   decimal.Decimal    `json:"amount"`
	Type     enums.RefundType   `json:"type"`
	Status   enums.RefundStatus `json:"status"`
}

type OrderRefundedEvent struct {
	OrderRef
	RefundID    string          `json:"refund_id"`
	Amount      decimal.Decimal `json:"amount"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// StockReconciliationRequiredEvent flags stock moves that failed after the order state already changed.
type StockReconciliationRequiredEvent struct {
	OrderRef
	Operation string      `json:"operation"`
	Lines     []OrderLine `json:"lines"`
	Errors    []string    `json:"errors"`
}
