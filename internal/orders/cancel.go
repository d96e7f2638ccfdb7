package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/internal/inventory"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/outbox/payloads"
)

const maxCancellationReasonLen = 500

// CancelOrder cancels an owned order before its cancellation deadline. Stock is
// handed back only when the order had already taken it.
func (s *service) CancelOrder(ctx context.Context, input CancelOrderInput) (*CancelOrderResult, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason is required")
	}
	if len(reason) > maxCancellationReasonLen {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "cancellation reason must be at most %d characters", maxCancellationReasonLen)
	}

	order, err := s.loadOwnedOrder(ctx, input.OrderID, input.UserID)
	if err != nil {
		return nil, err
	}
	ctx = s.orderCtx(ctx, order)

	previous := order.Status
	if !previous.IsCancellable() {
		return nil, stateConflict(fmt.Sprintf("Order cannot be cancelled. Current status: %s", previous), previous, nil)
	}

	now := s.now().UTC()
	deadline := order.EffectiveCancellationDeadline(s.cfg.CancellationWindow)
	if now.After(deadline) {
		return nil, stateConflict("Cancellation deadline has passed", previous, map[string]any{
			"cancellation_deadline": deadline.UTC().Format(time.RFC3339),
		})
	}

	var won bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won = false
		ok, err := s.repo.WithTx(tx).TransitionStatus(ctx, order.ID, previous, enums.OrderStatusCancelled, map[string]any{
			"cancellation_reason": reason,
			"cancelled_at":        now,
			"updated_at":          now,
		})
		if err != nil || !ok {
			return err
		}
		won = true
		return s.emit(ctx, tx, enums.EventOrderCancelled, order, userActor(input.UserID), payloads.OrderCancelledEvent{
			OrderRef:       orderRef(order),
			PreviousStatus: previous,
			Reason:         reason,
			StockRestored:  previous.HoldsStock(),
			CancelledAt:    now,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel order")
	}
	if !won {
		current, err := s.loadOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return nil, stateConflict(fmt.Sprintf("Order cannot be cancelled. Current status: %s", current.Status), current.Status, nil)
	}

	s.metrics.ObserveTransition(previous, enums.OrderStatusCancelled)
	result := &CancelOrderResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      enums.OrderStatusCancelled,
		CancelledAt: now,
	}
	if previous.HoldsStock() {
		result.Warning = s.moveStock(ctx, order, inventory.OpIncrement)
		result.StockRestored = result.Warning == ""
	}
	s.logg.Info(s.logg.WithField(ctx, "previous_status", previous), "order cancelled")
	return result, nil
}
