package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/pkg/db"
	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mala-backend/pkg/razorpay"
)

const (
	orderNumberConstraint = "orders_order_number_key"
	maxOrderNumberRetries = 3
)

// CreateOrder opens a gateway intent and persists a pending order against it.
// Stock is only checked here; it is taken when the payment is verified.
func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	currency, err := s.validateCreate(&input)
	if err != nil {
		return nil, err
	}
	if err := s.checkStock(ctx, input.LineItems); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	orderNumber := newOrderNumber(now, input.UserID)
	amountMinor := razorpay.ToMinorUnits(input.Amount)

	intent, err := s.gateway.CreateIntent(ctx, amountMinor, string(currency), orderNumber)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:                   uuid.New(),
		OrderNumber:          orderNumber,
		UserID:               input.UserID,
		CustomerName:         strings.TrimSpace(input.CustomerName),
		CustomerEmail:        strings.TrimSpace(input.CustomerEmail),
		Currency:             currency,
		TotalPrice:           input.Amount,
		AmountDiscount:       input.Discount,
		Status:               enums.OrderStatusPending,
		GatewayOrderID:       intent.ID,
		ShippingAddress:      input.ShippingAddress.Normalize(),
		CancellationDeadline: timePtr(now.Add(s.cfg.CancellationWindow)),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	for _, line := range input.LineItems {
		order.LineItems = append(order.LineItems, models.OrderLineItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}

	ctx = s.orderCtx(ctx, order)
	if err := s.persistNewOrder(ctx, order); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"gateway_order_id":        intent.ID,
			"reconciliation_required": true,
		})
		s.logg.Error(logCtx, "gateway intent created but order was not persisted", err)
		s.metrics.ObserveReconciliation("orphaned_intent")
		return nil, err
	}

	s.metrics.ObserveTransition("", enums.OrderStatusPending)
	s.logg.Info(s.logg.WithField(ctx, "gateway_order_id", intent.ID), "order created")

	return &CreateOrderResult{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		GatewayOrderID: intent.ID,
		Amount:         input.Amount,
		AmountMinor:    amountMinor,
		Currency:       string(currency),
	}, nil
}

// persistNewOrder inserts the order and its created event. The order number
// embeds a millisecond timestamp, so a collision is retried with a fresh one.
func (s *service) persistNewOrder(ctx context.Context, order *models.Order) error {
	var err error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		if attempt > 0 {
			order.OrderNumber = newOrderNumber(s.now().UTC().Add(time.Duration(attempt)*time.Millisecond), order.UserID)
		}
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
				return err
			}
			return s.emit(ctx, tx, enums.EventOrderCreated, order, userActor(order.UserID), payloads.OrderCreatedEvent{
				OrderRef:       orderRef(order),
				GatewayOrderID: order.GatewayOrderID,
				TotalPrice:     order.TotalPrice,
				Currency:       order.Currency,
				Lines:          payloadLines(order),
			})
		})
		if err == nil {
			return nil
		}
		if !isOrderNumberCollision(err) {
			break
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist order")
}

func isOrderNumberCollision(err error) bool {
	if db.IsUniqueViolation(err, orderNumberConstraint) {
		return true
	}
	return db.IsUniqueViolation(err, "") && strings.Contains(err.Error(), "order_number")
}

func (s *service) validateCreate(input *CreateOrderInput) (enums.Currency, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(input.LineItems) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}
	if !input.Amount.IsPositive() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Discount.IsNegative() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "discount cannot be negative")
	}

	rawCurrency := input.Currency
	if strings.TrimSpace(rawCurrency) == "" {
		rawCurrency = s.cfg.DefaultCurrency
	}
	currency, err := enums.ParseCurrency(rawCurrency)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
	}

	subtotal := decimal.Zero
	seen := make(map[string]struct{}, len(input.LineItems))
	for i, line := range input.LineItems {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "line item product id is required")
		}
		if _, dup := seen[productID]; dup {
			return "", pkgerrors.Newf(pkgerrors.CodeValidation, "product %s appears more than once", productID)
		}
		seen[productID] = struct{}{}
		if line.Quantity <= 0 {
			return "", pkgerrors.Newf(pkgerrors.CodeValidation, "quantity for product %s must be positive", productID)
		}
		if line.UnitPrice.IsNegative() {
			return "", pkgerrors.Newf(pkgerrors.CodeValidation, "unit price for product %s cannot be negative", productID)
		}
		input.LineItems[i].ProductID = productID
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	expected := subtotal.Sub(input.Discount)
	if !expected.Equal(input.Amount) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "amount does not match line items minus discount").
			WithDetails(map[string]any{"expected": expected.StringFixed(2), "received": input.Amount.StringFixed(2)})
	}
	return currency, nil
}

func (s *service) checkStock(ctx context.Context, lines []LineItemInput) error {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	stock, err := s.inventory.Lookup(ctx, ids)
	if err != nil {
		return err
	}
	for _, line := range lines {
		available, ok := stock[line.ProductID]
		if !ok {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "product %s does not exist", line.ProductID)
		}
		if available < line.Quantity {
			return pkgerrors.Newf(pkgerrors.CodeConflict, "product %s is out of stock", line.ProductID).
				WithDetails(map[string]any{"product_id": line.ProductID, "available": available, "requested": line.Quantity})
		}
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func strPtr(s string) *string {
	return &s
}
