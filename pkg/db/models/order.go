package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mala-backend/pkg/enums"
	"github.com/angelmondragon/mala-backend/pkg/types"
)

// Order is a storefront checkout and everything that happens to it afterwards.
type Order struct {
	ID                   uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber          string                `gorm:"column:order_number;not null;uniqueIndex"`
	UserID               string                `gorm:"column:user_id;not null;index"`
	CustomerName         string                `gorm:"column:customer_name;not null"`
	CustomerEmail        string                `gorm:"column:customer_email;not null"`
	Currency             enums.Currency        `gorm:"column:currency;not null"`
	TotalPrice           decimal.Decimal       `gorm:"column:total_price;type:numeric(12,2);not null"`
	AmountDiscount       decimal.Decimal       `gorm:"column:amount_discount;type:numeric(12,2);not null;default:0"`
	Status               enums.OrderStatus     `gorm:"column:status;type:order_status;not null;default:'pending'"`
	GatewayOrderID       string                `gorm:"column:gateway_order_id;not null;uniqueIndex"`
	GatewayPaymentID     *string               `gorm:"column:gateway_payment_id"`
	GatewaySignature     *string               `gorm:"column:gateway_signature"`
	ShippingAddress      types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;not null"`
	CancellationDeadline *time.Time            `gorm:"column:cancellation_deadline"`
	CancellationReason   *string               `gorm:"column:cancellation_reason"`
	CancelledAt          *time.Time            `gorm:"column:cancelled_at"`
	ReturnRequest        *types.ReturnRequest  `gorm:"column:return_request;type:jsonb"`
	RefundDetails        *types.RefundDetails  `gorm:"column:refund_details;type:jsonb"`
	ShipmentRef          *string               `gorm:"column:shipment_ref"`
	CourierName          *string               `gorm:"column:courier_name"`
	TrackingCode         *string               `gorm:"column:tracking_code"`
	TrackingURL          *string               `gorm:"column:tracking_url"`
	EstimatedDelivery    *time.Time            `gorm:"column:estimated_delivery"`
	DeliveredAt          *time.Time            `gorm:"column:delivered_at"`
	CreatedAt            time.Time             `gorm:"column:created_at;not null"`
	UpdatedAt            time.Time             `gorm:"column:updated_at;not null"`
	LineItems            []OrderLineItem       `gorm:"foreignKey:OrderID;references:ID"`
}

// EffectiveCancellationDeadline falls back to creation + window when no deadline was stored.
func (o Order) EffectiveCancellationDeadline(window time.Duration) time.Time {
	if o.CancellationDeadline != nil {
		return *o.CancellationDeadline
	}
	return o.CreatedAt.Add(window)
}
