package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	"github.com/angelmondragon/mala-backend/pkg/types"
)

// ListFilters narrow the admin order list.
type ListFilters struct {
	Status *enums.OrderStatus
	UserID string
}

// OrderPage is one page of orders plus the cursor for the next one.
type OrderPage struct {
	Orders     []models.Order
	NextCursor string
}

// LineItemInput is one cart line submitted at checkout.
type LineItemInput struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

type CreateOrderInput struct {
	UserID          string
	CustomerName    string
	CustomerEmail   string
	Currency        string
	Amount          decimal.Decimal
	Discount        decimal.Decimal
	ShippingAddress types.ShippingAddress
	LineItems       []LineItemInput
}

// CreateOrderResult is echoed back so the client can open the payment UI.
type CreateOrderResult struct {
	OrderID        uuid.UUID       `json:"orderId"`
	OrderNumber    string          `json:"orderNumber"`
	GatewayOrderID string          `json:"razorpayOrderId"`
	Amount         decimal.Decimal `json:"amount"`
	AmountMinor    int64           `json:"amountMinor"`
	Currency       string          `json:"currency"`
}

type VerifyPaymentInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

type VerifyPaymentResult struct {
	Success          bool              `json:"success"`
	OrderID          uuid.UUID         `json:"orderId"`
	OrderNumber      string            `json:"orderNumber"`
	Status           enums.OrderStatus `json:"status"`
	AlreadyProcessed bool              `json:"alreadyProcessed,omitempty"`
	Warning          string            `json:"warning,omitempty"`
}

type CancelOrderInput struct {
	OrderID uuid.UUID
	UserID  string
	Reason  string
}

type CancelOrderResult struct {
	OrderID       uuid.UUID         `json:"orderId"`
	OrderNumber   string            `json:"orderNumber"`
	Status        enums.OrderStatus `json:"status"`
	CancelledAt   time.Time         `json:"cancelledAt"`
	StockRestored bool              `json:"stockRestored"`
	Warning       string            `json:"warning,omitempty"`
}

type RequestReturnInput struct {
	OrderID      uuid.UUID
	UserID       string
	Reason       string
	Description  string
	Images       []string
	RefundMethod string
}

type RequestReturnResult struct {
	OrderID      uuid.UUID          `json:"orderId"`
	OrderNumber  string             `json:"orderNumber"`
	Status       enums.OrderStatus  `json:"status"`
	RefundAmount decimal.Decimal    `json:"refundAmount"`
	RefundMethod enums.RefundMethod `json:"refundMethod"`
	RequestedAt  time.Time          `json:"requestedAt"`
}

type ResolveReturnInput struct {
	OrderID      uuid.UUID
	ActorUserID  string
	Action       string
	RefundAmount *decimal.Decimal
	AdminNotes   string
}

type ResolveReturnResult struct {
	OrderID       uuid.UUID            `json:"orderId"`
	OrderNumber   string               `json:"orderNumber"`
	Status        enums.OrderStatus    `json:"status"`
	Refund        *types.RefundDetails `json:"refund,omitempty"`
	EstimatedTime string               `json:"estimatedTime,omitempty"`
	Warning       string               `json:"warning,omitempty"`
}

type RefundStatusInput struct {
	OrderID uuid.UUID
	UserID  string
	Role    enums.Role
}

type RefundStatusResult struct {
	OrderID     uuid.UUID           `json:"orderId"`
	OrderNumber string              `json:"orderNumber"`
	Status      enums.OrderStatus   `json:"status"`
	Refund      types.RefundDetails `json:"refund"`
	Updated     bool                `json:"updated"`
}

type CleanupInput struct {
	OrderID uuid.UUID
	UserID  string
}

// CleanupResult reads as success for a double delete so the losing caller sees no error.
type CleanupResult struct {
	OrderID        uuid.UUID `json:"orderId"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	AlreadyCleaned bool      `json:"alreadyCleaned,omitempty"`
}

type FulfilmentInput struct {
	OrderID           uuid.UUID
	ActorUserID       string
	Action            string
	CourierName       string
	TrackingCode      string
	TrackingURL       string
	EstimatedDelivery *time.Time
}

// LineItemView is the public shape of an order line.
type LineItemView struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// OrderView is the public shape of an order.
type OrderView struct {
	ID                   uuid.UUID             `json:"id"`
	OrderNumber          string                `json:"orderNumber"`
	UserID               string                `json:"userId"`
	CustomerName         string                `json:"customerName"`
	CustomerEmail        string                `json:"customerEmail"`
	Status               enums.OrderStatus     `json:"status"`
	Currency             enums.Currency        `json:"currency"`
	TotalPrice           decimal.Decimal       `json:"totalPrice"`
	AmountDiscount       decimal.Decimal       `json:"amountDiscount"`
	GatewayOrderID       string                `json:"razorpayOrderId"`
	GatewayPaymentID     *string               `json:"razorpayPaymentId,omitempty"`
	ShippingAddress      types.ShippingAddress `json:"address"`
	LineItems            []LineItemView        `json:"products"`
	CancellationDeadline time.Time             `json:"cancellationDeadline"`
	CancellationReason   *string               `json:"cancellationReason,omitempty"`
	CancelledAt          *time.Time            `json:"cancelledAt,omitempty"`
	ReturnRequest        *types.ReturnRequest  `json:"returnRequest,omitempty"`
	RefundDetails        *types.RefundDetails  `json:"refundDetails,omitempty"`
	ShipmentRef          *string               `json:"shipmentRef,omitempty"`
	CourierName          *string               `json:"courierName,omitempty"`
	TrackingCode         *string               `json:"trackingCode,omitempty"`
	TrackingURL          *string               `json:"trackingUrl,omitempty"`
	EstimatedDelivery    *time.Time            `json:"estimatedDelivery,omitempty"`
	DeliveredAt          *time.Time            `json:"deliveredAt,omitempty"`
	CreatedAt            time.Time             `json:"orderDate"`
}

// OrderList wraps a page of order views plus the next page cursor.
type OrderList struct {
	Orders     []OrderView `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

func newOrderView(order models.Order, cancellationWindow time.Duration) OrderView {
	lines := make([]LineItemView, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		lines = append(lines, LineItemView{
			ProductID: li.ProductID,
			Name:      li.Name,
			UnitPrice: li.UnitPrice,
			Quantity:  li.Quantity,
		})
	}
	return OrderView{
		ID:                   order.ID,
		OrderNumber:          order.OrderNumber,
		UserID:               order.UserID,
		CustomerName:         order.CustomerName,
		CustomerEmail:        order.CustomerEmail,
		Status:               order.Status,
		Currency:             order.Currency,
		TotalPrice:           order.TotalPrice,
		AmountDiscount:       order.AmountDiscount,
		GatewayOrderID:       order.GatewayOrderID,
		GatewayPaymentID:     order.GatewayPaymentID,
		ShippingAddress:      order.ShippingAddress,
		LineItems:            lines,
		CancellationDeadline: order.EffectiveCancellationDeadline(cancellationWindow),
		CancellationReason:   order.CancellationReason,
		CancelledAt:          order.CancelledAt,
		ReturnRequest:        order.ReturnRequest,
		RefundDetails:        order.RefundDetails,
		ShipmentRef:          order.ShipmentRef,
		CourierName:          order.CourierName,
		TrackingCode:         order.TrackingCode,
		TrackingURL:          order.TrackingURL,
		EstimatedDelivery:    order.EstimatedDelivery,
		DeliveredAt:          order.DeliveredAt,
		CreatedAt:            order.CreatedAt,
	}
}
