package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/outbox"
	"github.com/angelmondragon/mala-backend/pkg/outbox/payloads"
)

const (
	abandonTriggerUser   = "user"
	abandonTriggerReaper = "reaper"
)

// CleanupAbandonedOrder deletes a recent pending order on behalf of its owner.
// A second call for the same order reports success with AlreadyCleaned set.
func (s *service) CleanupAbandonedOrder(ctx context.Context, input CleanupInput) (*CleanupResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.repo.FindByID(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &CleanupResult{OrderID: input.OrderID, AlreadyCleaned: true}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order.UserID != input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	ctx = s.orderCtx(ctx, order)

	if order.Status != enums.OrderStatusPending {
		return nil, stateConflict(fmt.Sprintf("Order is not pending and cannot be cleaned up. Current status: %s", order.Status), order.Status, nil)
	}
	age := s.now().UTC().Sub(order.CreatedAt)
	if age > s.cfg.AbandonmentMaxAge {
		return nil, stateConflict("Order is too old to be cleaned up", order.Status, map[string]any{
			"created_at": order.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	deleted, err := s.deleteAbandoned(ctx, order, abandonTriggerUser, userActor(input.UserID))
	if err != nil {
		return nil, err
	}
	if !deleted {
		// The pending check lost to a verify or cancel that landed first.
		current, err := s.repo.FindByID(ctx, order.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &CleanupResult{OrderID: order.ID, OrderNumber: order.OrderNumber, AlreadyCleaned: true}, nil
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
		}
		return nil, stateConflict(fmt.Sprintf("Order is not pending and cannot be cleaned up. Current status: %s", current.Status), current.Status, nil)
	}
	return &CleanupResult{OrderID: order.ID, OrderNumber: order.OrderNumber}, nil
}

// ReapAbandonedOrder is the server-side sweep for one candidate. It applies the
// same pending guard and age ceiling as user cleanup, plus the minimum age the
// checkout UI waits before giving up.
func (s *service) ReapAbandonedOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order.Status != enums.OrderStatusPending {
		return false, nil
	}
	age := s.now().UTC().Sub(order.CreatedAt)
	if age < s.cfg.AbandonmentMinAge || age > s.cfg.AbandonmentMaxAge {
		return false, nil
	}
	return s.deleteAbandoned(s.orderCtx(ctx, order), order, abandonTriggerReaper, nil)
}

// deleteAbandoned removes the order if it is still pending. No stock was taken
// for a pending order, so nothing is released.
func (s *service) deleteAbandoned(ctx context.Context, order *models.Order, trigger string, actor *outbox.ActorRef) (bool, error) {
	now := s.now().UTC()
	var deleted bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		deleted = false
		ok, err := s.repo.WithTx(tx).DeleteIfPending(ctx, order.ID)
		if err != nil || !ok {
			return err
		}
		deleted = true
		return s.emit(ctx, tx, enums.EventOrderAbandoned, order, actor, payloads.OrderAbandonedEvent{
			OrderRef:       orderRef(order),
			GatewayOrderID: order.GatewayOrderID,
			Trigger:        trigger,
			CreatedAt:      order.CreatedAt,
			RemovedAt:      now,
		})
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete abandoned order")
	}
	if deleted {
		s.metrics.ObserveTransition(enums.OrderStatusPending, "deleted")
		s.logg.Info(s.logg.WithField(ctx, "trigger", trigger), "abandoned order removed")
	}
	return deleted, nil
}
