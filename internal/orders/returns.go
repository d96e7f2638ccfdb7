package orders

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/internal/inventory"
	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mala-backend/pkg/razorpay"
	"github.com/angelmondragon/mala-backend/pkg/types"
)

const (
	maxReturnDescriptionLen = 1000
	maxReturnImages         = 5
)

// RequestReturn opens a return on a delivered order. The window is measured
// from the order date.
func (s *service) RequestReturn(ctx context.Context, input RequestReturnInput) (*RequestReturnResult, error) {
	reason, err := enums.ParseReturnReason(strings.TrimSpace(input.Reason))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid return reason")
	}
	method, err := enums.ParseRefundMethod(strings.TrimSpace(input.RefundMethod))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund method")
	}
	description := strings.TrimSpace(input.Description)
	if len(description) > maxReturnDescriptionLen {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "description must be at most %d characters", maxReturnDescriptionLen)
	}
	images, err := normalizeImages(input.Images)
	if err != nil {
		return nil, err
	}

	order, err := s.loadOwnedOrder(ctx, input.OrderID, input.UserID)
	if err != nil {
		return nil, err
	}
	ctx = s.orderCtx(ctx, order)

	if order.Status != enums.OrderStatusDelivered {
		return nil, stateConflict(fmt.Sprintf("Returns can only be requested for delivered orders. Current status: %s", order.Status), order.Status, nil)
	}
	now := s.now().UTC()
	windowEnd := order.CreatedAt.Add(s.cfg.ReturnWindow)
	if now.After(windowEnd) {
		return nil, stateConflict("Return window has expired", order.Status, map[string]any{
			"return_window_ends": windowEnd.UTC().Format(time.RFC3339),
		})
	}

	request := types.ReturnRequest{
		Reason:       reason,
		Description:  description,
		Images:       images,
		RefundAmount: order.TotalPrice,
		RefundMethod: method,
		RequestedAt:  now,
	}

	var won bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won = false
		ok, err := s.repo.WithTx(tx).TransitionStatus(ctx, order.ID, enums.OrderStatusDelivered, enums.OrderStatusRefundRequested, map[string]any{
			"return_request": request,
			"updated_at":     now,
		})
		if err != nil || !ok {
			return err
		}
		won = true
		return s.emit(ctx, tx, enums.EventReturnRequested, order, userActor(input.UserID), payloads.ReturnRequestedEvent{
			OrderRef:     orderRef(order),
			Reason:       reason,
			RefundAmount: request.RefundAmount,
			RefundMethod: method,
			RequestedAt:  now,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "request return")
	}
	if !won {
		return nil, s.lostRace(ctx, order, "Return could not be requested")
	}

	s.metrics.ObserveTransition(enums.OrderStatusDelivered, enums.OrderStatusRefundRequested)
	s.logg.Info(s.logg.WithField(ctx, "return_reason", reason), "return requested")
	return &RequestReturnResult{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		Status:       enums.OrderStatusRefundRequested,
		RefundAmount: request.RefundAmount,
		RefundMethod: method,
		RequestedAt:  now,
	}, nil
}

// ResolveReturn records the admin decision. Approval claims the order by moving
// it to refund_processing before the gateway is asked for money, so overlapping
// approvals issue at most one refund.
func (s *service) ResolveReturn(ctx context.Context, input ResolveReturnInput) (*ResolveReturnResult, error) {
	action, err := enums.ParseReturnAction(strings.TrimSpace(input.Action))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid return action")
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithActorRole(s.orderCtx(ctx, order), string(enums.RoleAdmin))

	if order.Status != enums.OrderStatusRefundRequested {
		return nil, stateConflict(fmt.Sprintf("No pending return for this order. Current status: %s", order.Status), order.Status, nil)
	}

	if action == enums.ReturnActionReject {
		return s.rejectReturn(ctx, order, input)
	}
	return s.approveReturn(ctx, order, input)
}

func (s *service) rejectReturn(ctx context.Context, order *models.Order, input ResolveReturnInput) (*ResolveReturnResult, error) {
	now := s.now().UTC()
	request := resolvedRequest(order, enums.ReturnActionReject, now, input.AdminNotes)

	var won bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won = false
		ok, err := s.repo.WithTx(tx).TransitionStatus(ctx, order.ID, enums.OrderStatusRefundRequested, enums.OrderStatusDelivered, map[string]any{
			"return_request": request,
			"updated_at":     now,
		})
		if err != nil || !ok {
			return err
		}
		won = true
		return s.emit(ctx, tx, enums.EventReturnRejected, order, adminActor(input.ActorUserID), payloads.ReturnRejectedEvent{
			OrderRef:   orderRef(order),
			AdminNotes: strings.TrimSpace(input.AdminNotes),
			RejectedAt: now,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reject return")
	}
	if !won {
		return nil, s.lostRace(ctx, order, "Return could not be resolved")
	}

	s.metrics.ObserveTransition(enums.OrderStatusRefundRequested, enums.OrderStatusDelivered)
	s.logg.Info(ctx, "return rejected")
	return &ResolveReturnResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      enums.OrderStatusDelivered,
	}, nil
}

func (s *service) approveReturn(ctx context.Context, order *models.Order, input ResolveReturnInput) (*ResolveReturnResult, error) {
	amount := order.TotalPrice
	if input.RefundAmount != nil {
		amount = *input.RefundAmount
	}
	if !amount.IsPositive() || amount.GreaterThan(order.TotalPrice) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive and not exceed the order total").
			WithDetails(map[string]any{"order_total": order.TotalPrice.StringFixed(2)})
	}
	if order.GatewayPaymentID == nil || *order.GatewayPaymentID == "" {
		return nil, stateConflict("Order has no captured payment to refund", order.Status, nil)
	}

	speed, err := enums.ParseRefundSpeed(s.cfg.RefundSpeed)
	if err != nil {
		speed = enums.RefundSpeedNormal
	}
	refundType := enums.RefundTypePartial
	if amount.Equal(order.TotalPrice) {
		refundType = enums.RefundTypeFull
	}
	reason := "return approved"
	if order.ReturnRequest != nil {
		reason = string(order.ReturnRequest.Reason)
	}

	now := s.now().UTC()
	request := resolvedRequest(order, enums.ReturnActionApprove, now, input.AdminNotes)
	request.RefundAmount = amount
	details := &types.RefundDetails{
		Amount:         amount,
		Status:         enums.RefundStatusPending,
		Type:           refundType,
		SpeedRequested: speed,
		Reason:         reason,
		InitiatedAt:    now,
	}

	if err := s.claimRefund(ctx, order, request, details); err != nil {
		return nil, err
	}

	receipt := refundReceipt(order)
	refund, err := s.gateway.CreateRefund(ctx, razorpay.RefundRequest{
		PaymentID:   *order.GatewayPaymentID,
		AmountMinor: razorpay.ToMinorUnits(amount),
		Speed:       string(speed),
		Receipt:     receipt,
		Notes: map[string]string{
			"order_number": order.OrderNumber,
			"reason":       reason,
		},
		IdempotencyKey: receipt,
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "refund_amount", amount.StringFixed(2)), "gateway refund failed", err)
		s.releaseRefundClaim(ctx, order)
		return nil, err
	}
	ctx = s.logg.WithField(ctx, "refund_id", refund.ID)
	s.metrics.ObserveTransition(enums.OrderStatusRefundRequested, enums.OrderStatusRefundProcessing)

	details.RefundID = refund.ID
	details.SpeedProcessed = refund.SpeedProcessed
	if status, err := enums.ParseRefundStatus(refund.Status); err == nil {
		details.Status = status
	}

	result := &ResolveReturnResult{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        enums.OrderStatusRefundProcessing,
		Refund:        details,
		EstimatedTime: speed.EstimatedTime(),
	}

	var recorded bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		recorded = false
		ok, err := s.repo.WithTx(tx).PatchIfStatus(ctx, order.ID, enums.OrderStatusRefundProcessing, map[string]any{
			"refund_details": details,
			"updated_at":     now,
		})
		if err != nil || !ok {
			return err
		}
		recorded = true
		return s.emit(ctx, tx, enums.EventRefundInitiated, order, adminActor(input.ActorUserID), payloads.RefundInitiatedEvent{
			OrderRef: orderRef(order),
			RefundID: refund.ID,
			Amount:   amount,
			Type:     refundType,
			Status:   details.Status,
		})
	})
	if err != nil || !recorded {
		if err == nil {
			err = fmt.Errorf("order left refund_processing before refund %s was recorded", refund.ID)
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"reconciliation_required": true,
			"refund_amount":           amount.StringFixed(2),
		})
		s.logg.Error(logCtx, "refund issued but order was not updated", err)
		s.metrics.ObserveReconciliation("refund_bookkeeping")
		result.Warning = "refund issued at the gateway but the order could not be updated; it will be reconciled"
	}

	if refundType == enums.RefundTypeFull {
		if warning := s.moveStock(ctx, order, inventory.OpIncrement); warning != "" {
			result.Warning = strings.TrimPrefix(strings.Join([]string{result.Warning, warning}, "; "), "; ")
		}
	}
	s.logg.Info(ctx, "return approved and refund initiated")
	return result, nil
}

// claimRefund moves the order to refund_processing with a refund that has no
// gateway id yet. Only the caller that wins this swap may call the gateway.
func (s *service) claimRefund(ctx context.Context, order *models.Order, request types.ReturnRequest, details *types.RefundDetails) error {
	var won bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won = false
		ok, err := s.repo.WithTx(tx).TransitionStatus(ctx, order.ID, enums.OrderStatusRefundRequested, enums.OrderStatusRefundProcessing, map[string]any{
			"return_request": request,
			"refund_details": details,
			"updated_at":     details.InitiatedAt,
		})
		won = ok
		return err
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "approve return")
	}
	if !won {
		return s.lostRace(ctx, order, "Return could not be resolved")
	}
	return nil
}

// releaseRefundClaim puts a claimed order back to refund_requested after the
// gateway refused the refund. This is not a lifecycle edge and bypasses the
// transition table.
func (s *service) releaseRefundClaim(ctx context.Context, order *models.Order) {
	released, err := s.repo.PatchIfStatus(ctx, order.ID, enums.OrderStatusRefundProcessing, map[string]any{
		"status":         enums.OrderStatusRefundRequested,
		"return_request": order.ReturnRequest,
		"refund_details": nil,
		"updated_at":     s.now().UTC(),
	})
	if err == nil && released {
		return
	}
	if err == nil {
		err = errors.New("order no longer holds the refund claim")
	}
	s.logg.Error(s.logg.WithField(ctx, "reconciliation_required", true), "failed to release refund claim", err)
	s.metrics.ObserveReconciliation("refund_claim")
}

// refundReceipt is stable per order so a repeated approval maps to the same gateway refund.
func refundReceipt(order *models.Order) string {
	return "refund_" + order.OrderNumber
}

func resolvedRequest(order *models.Order, action enums.ReturnAction, at time.Time, notes string) types.ReturnRequest {
	var request types.ReturnRequest
	if order.ReturnRequest != nil {
		request = *order.ReturnRequest
	} else {
		request = types.ReturnRequest{RefundAmount: order.TotalPrice, RefundMethod: enums.RefundMethodOriginal}
	}
	request.Resolution = &action
	request.ResolvedAt = &at
	request.AdminNotes = strings.TrimSpace(notes)
	return request
}

// lostRace turns a failed compare-and-swap into a conflict naming the status that won.
func (s *service) lostRace(ctx context.Context, order *models.Order, message string) error {
	current, err := s.loadOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	return stateConflict(fmt.Sprintf("%s. Current status: %s", message, current.Status), current.Status, nil)
}

func normalizeImages(images []string) ([]string, error) {
	if len(images) > maxReturnImages {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "at most %d images may be attached", maxReturnImages)
	}
	out := make([]string, 0, len(images))
	for _, raw := range images {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		u, err := url.Parse(trimmed)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "image %q is not a valid URL", trimmed)
		}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
