package orders

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mala-backend/pkg/shiprocket"
)

// AdvanceFulfilment drives the admin-side paid -> processing -> shipped -> delivered edges.
func (s *service) AdvanceFulfilment(ctx context.Context, input FulfilmentInput) (*OrderView, error) {
	action, err := enums.ParseFulfilmentAction(strings.TrimSpace(input.Action))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid fulfilment action")
	}
	from, to, _ := action.Transition()

	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithActorRole(s.orderCtx(ctx, order), string(enums.RoleAdmin))
	if order.Status != from {
		return nil, stateConflict(fmt.Sprintf("Cannot %s order. Current status: %s", action, order.Status), order.Status, nil)
	}

	now := s.now().UTC()
	fields := map[string]any{"updated_at": now}
	event := payloads.OrderFulfilmentUpdatedEvent{OrderRef: orderRef(order), From: from, To: to}

	switch action {
	case enums.FulfilmentActionProcess:
		if s.shipping != nil {
			shipment, err := s.shipping.CreateShipment(ctx, shipmentRequest(order))
			if err != nil {
				s.logg.Error(ctx, "shipment creation failed", err)
				return nil, err
			}
			ref := shipment.Reference()
			fields["shipment_ref"] = ref
			event.ShipmentRef = &ref
			if shipment.CourierName != "" {
				fields["courier_name"] = shipment.CourierName
				event.CourierName = strPtr(shipment.CourierName)
			}
			if shipment.AWBCode != "" {
				fields["tracking_code"] = shipment.AWBCode
				event.TrackingCode = strPtr(shipment.AWBCode)
			}
		}
	case enums.FulfilmentActionShip:
		tracking := strings.TrimSpace(input.TrackingCode)
		if tracking == "" && order.TrackingCode == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking code is required to ship")
		}
		if tracking != "" {
			fields["tracking_code"] = tracking
			event.TrackingCode = &tracking
		}
		if courier := strings.TrimSpace(input.CourierName); courier != "" {
			fields["courier_name"] = courier
			event.CourierName = &courier
		}
		if raw := strings.TrimSpace(input.TrackingURL); raw != "" {
			if u, err := url.Parse(raw); err != nil || u.Host == "" {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking url is invalid")
			}
			fields["tracking_url"] = raw
			event.TrackingURL = &raw
		}
		if input.EstimatedDelivery != nil {
			fields["estimated_delivery"] = input.EstimatedDelivery.UTC()
		}
	case enums.FulfilmentActionDeliver:
		fields["delivered_at"] = now
	}

	var won bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won = false
		ok, err := s.repo.WithTx(tx).TransitionStatus(ctx, order.ID, from, to, fields)
		if err != nil || !ok {
			return err
		}
		won = true
		return s.emit(ctx, tx, enums.EventOrderFulfilmentUpdated, order, adminActor(input.ActorUserID), event)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance fulfilment")
	}
	if !won {
		return nil, s.lostRace(ctx, order, fmt.Sprintf("Cannot %s order", action))
	}

	s.metrics.ObserveTransition(from, to)
	s.logg.Info(s.logg.WithField(ctx, "fulfilment_action", action), "order fulfilment advanced")

	updated, err := s.loadOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	view := newOrderView(*updated, s.cfg.CancellationWindow)
	return &view, nil
}

func shipmentRequest(order *models.Order) shiprocket.ShipmentRequest {
	items := make([]shiprocket.Item, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		items = append(items, shiprocket.Item{
			Name:         li.Name,
			SKU:          li.ProductID,
			Units:        li.Quantity,
			SellingPrice: li.UnitPrice,
		})
	}
	addr := order.ShippingAddress
	return shiprocket.ShipmentRequest{
		OrderNumber:   order.OrderNumber,
		OrderDate:     order.CreatedAt,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Address:       addr.Address,
		City:          addr.City,
		State:         addr.State,
		Pincode:       addr.Zip,
		Phone:         addr.Contact,
		Items:         items,
		Discount:      order.AmountDiscount,
		SubTotal:      order.TotalPrice,
	}
}
