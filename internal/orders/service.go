package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/internal/inventory"
	"github.com/angelmondragon/mala-backend/pkg/config"
	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/logger"
	"github.com/angelmondragon/mala-backend/pkg/outbox"
	"github.com/angelmondragon/mala-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mala-backend/pkg/pagination"
)

// Service is the single writer of order status.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error)
	VerifyPayment(ctx context.Context, input VerifyPaymentInput) (*VerifyPaymentResult, error)
	ConfirmCapturedPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*VerifyPaymentResult, error)
	CancelOrder(ctx context.Context, input CancelOrderInput) (*CancelOrderResult, error)
	RequestReturn(ctx context.Context, input RequestReturnInput) (*RequestReturnResult, error)
	ResolveReturn(ctx context.Context, input ResolveReturnInput) (*ResolveReturnResult, error)
	CheckRefundStatus(ctx context.Context, input RefundStatusInput) (*RefundStatusResult, error)
	SyncRefund(ctx context.Context, gatewayPaymentID, refundID string) (*RefundStatusResult, error)
	CleanupAbandonedOrder(ctx context.Context, input CleanupInput) (*CleanupResult, error)
	ReapAbandonedOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
	AdvanceFulfilment(ctx context.Context, input FulfilmentInput) (*OrderView, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, userID string, role enums.Role) (*OrderView, error)
	ListOrdersForUser(ctx context.Context, userID string, params pagination.Params) (*OrderList, error)
	ListOrders(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error)
}

// ServiceParams wires the lifecycle engine. Shipping and Metrics are optional.
type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Inventory inventory.Ledger
	Gateway   PaymentGateway
	Outbox    outboxEmitter
	Shipping  ShipmentCreator
	Metrics   Metrics
	Logger    *logger.Logger
	Config    config.OrdersConfig
}

type service struct {
	repo      Repository
	tx        txRunner
	inventory inventory.Ledger
	gateway   PaymentGateway
	outbox    outboxEmitter
	shipping  ShipmentCreator
	metrics   Metrics
	logg      *logger.Logger
	cfg       config.OrdersConfig
	now       func() time.Time
}

// NewService builds the order lifecycle engine with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.CancellationWindow <= 0 || params.Config.ReturnWindow <= 0 {
		return nil, fmt.Errorf("cancellation and return windows must be positive")
	}
	if params.Config.AbandonmentMaxAge <= 0 {
		return nil, fmt.Errorf("abandonment max age must be positive")
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		inventory: params.Inventory,
		gateway:   params.Gateway,
		outbox:    params.Outbox,
		shipping:  params.Shipping,
		metrics:   metrics,
		logg:      params.Logger,
		cfg:       params.Config,
		now:       time.Now,
	}, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, userID string, role enums.Role) (*OrderView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !role.IsAdmin() && order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	view := newOrderView(*order, s.cfg.CancellationWindow)
	return &view, nil
}

func (s *service) ListOrdersForUser(ctx context.Context, userID string, params pagination.Params) (*OrderList, error) {
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	page, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	return s.toList(page), nil
}

func (s *service) ListOrders(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error) {
	page, err := s.repo.List(ctx, filters, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	return s.toList(page), nil
}

func (s *service) toList(page *OrderPage) *OrderList {
	out := &OrderList{Orders: make([]OrderView, 0, len(page.Orders)), NextCursor: page.NextCursor}
	for _, order := range page.Orders {
		out.Orders = append(out.Orders, newOrderView(order, s.cfg.CancellationWindow))
	}
	return out
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

// loadOwnedOrder enforces that userID owns the order.
func (s *service) loadOwnedOrder(ctx context.Context, orderID uuid.UUID, userID string) (*models.Order, error) {
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return order, nil
}

// stateConflict names the current status so the caller can explain the rejection.
func stateConflict(message string, status enums.OrderStatus, extra map[string]any) error {
	details := map[string]any{"current_status": status}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, message).WithDetails(details)
}

func (s *service) orderCtx(ctx context.Context, order *models.Order) context.Context {
	ctx = s.logg.WithOrder(ctx, order.ID.String(), order.OrderNumber)
	return s.logg.WithField(ctx, "status", order.Status)
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, order *models.Order, actor *outbox.ActorRef, data any) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data:          data,
		OccurredAt:    s.now().UTC(),
	})
}

func userActor(userID string) *outbox.ActorRef {
	if userID == "" {
		return nil
	}
	return &outbox.ActorRef{UserID: userID, Role: string(enums.RoleCustomer)}
}

func adminActor(userID string) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: userID, Role: string(enums.RoleAdmin)}
}

func orderRef(order *models.Order) payloads.OrderRef {
	return payloads.OrderRef{OrderID: order.ID, OrderNumber: order.OrderNumber, UserID: order.UserID}
}

func stockLines(order *models.Order) []inventory.Line {
	lines := make([]inventory.Line, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		lines = append(lines, inventory.Line{ProductID: li.ProductID, Quantity: li.Quantity})
	}
	return lines
}

func payloadLines(order *models.Order) []payloads.OrderLine {
	lines := make([]payloads.OrderLine, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		lines = append(lines, payloads.OrderLine{ProductID: li.ProductID, Quantity: li.Quantity})
	}
	return lines
}

// moveStock applies a stock fan-out after the status change has committed.
// Failures never undo the transition: they are logged, counted and queued
// for reconciliation, and the returned warning is surfaced on the result.
func (s *service) moveStock(ctx context.Context, order *models.Order, op inventory.Op) string {
	lines := stockLines(order)
	var err error
	switch op {
	case inventory.OpDecrement:
		err = inventory.DecrementAll(ctx, s.inventory, lines)
	default:
		err = inventory.IncrementAll(ctx, s.inventory, lines)
	}
	if err == nil {
		return ""
	}

	failed := inventory.FailedLines(err)
	failedLines := make([]payloads.OrderLine, 0, len(failed))
	messages := make([]string, 0, len(failed))
	for _, f := range failed {
		failedLines = append(failedLines, payloads.OrderLine{ProductID: f.ProductID, Quantity: f.Quantity})
		messages = append(messages, f.Error())
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"reconciliation_required": true,
		"stock_operation":         op,
		"failed_lines":            len(failed),
	})
	s.logg.Error(logCtx, "stock update failed after status change", err)
	s.metrics.ObserveReconciliation("stock_" + string(op))

	if txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.emit(ctx, tx, enums.EventStockReconciliationRequired, order, nil, payloads.StockReconciliationRequiredEvent{
			OrderRef:  orderRef(order),
			Operation: string(op),
			Lines:     failedLines,
			Errors:    messages,
		})
	}); txErr != nil {
		s.logg.Error(logCtx, "failed to queue stock reconciliation event", txErr)
	}

	return fmt.Sprintf("order updated but stock %s needs reconciliation: %v", op, err)
}
