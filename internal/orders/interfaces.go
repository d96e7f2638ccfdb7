package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	"github.com/angelmondragon/mala-backend/pkg/outbox"
	"github.com/angelmondragon/mala-backend/pkg/pagination"
	"github.com/angelmondragon/mala-backend/pkg/razorpay"
	"github.com/angelmondragon/mala-backend/pkg/shiprocket"
)

// ErrIllegalTransition is returned by the store when a write names an edge
// the status table does not allow.
var ErrIllegalTransition = errors.New("illegal order status transition")

// Repository defines persistence operations for orders and their line items.
// Every status write is a compare-and-swap on the current status.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Order, error)
	ListByUser(ctx context.Context, userID string, params pagination.Params) (*OrderPage, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderPage, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, fields map[string]any) (bool, error)
	PatchIfStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus, fields map[string]any) (bool, error)
	DeleteIfPending(ctx context.Context, id uuid.UUID) (bool, error)
	FindPendingCreatedBetween(ctx context.Context, oldest, newest time.Time, limit int) ([]models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PaymentGateway is the slice of the Razorpay adapter the lifecycle engine needs.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (razorpay.Intent, error)
	VerifySignature(orderID, paymentID, signature string) bool
	ExpectedSignature(orderID, paymentID string) string
	CreateRefund(ctx context.Context, req razorpay.RefundRequest) (razorpay.Refund, error)
	GetRefund(ctx context.Context, paymentID, refundID string) (razorpay.Refund, error)
}

// ShipmentCreator books a paid order with the shipping aggregator.
type ShipmentCreator interface {
	CreateShipment(ctx context.Context, req shiprocket.ShipmentRequest) (shiprocket.Shipment, error)
}

// Metrics receives lifecycle counters. A nil Metrics is replaced by a no-op.
type Metrics interface {
	ObserveTransition(from, to enums.OrderStatus)
	ObservePaymentVerification(result string)
	ObserveReconciliation(reason string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTransition(enums.OrderStatus, enums.OrderStatus) {}
func (noopMetrics) ObservePaymentVerification(string)                      {}
func (noopMetrics) ObserveReconciliation(string)                           {}
