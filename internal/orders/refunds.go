package orders

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/outbox/payloads"
)

// CheckRefundStatus polls the gateway for the stored refund and persists any change.
func (s *service) CheckRefundStatus(ctx context.Context, input RefundStatusInput) (*RefundStatusResult, error) {
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if !input.Role.IsAdmin() {
		if input.UserID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
		}
		if order.UserID != input.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
		}
	}
	return s.refreshRefund(s.orderCtx(ctx, order), order, "")
}

// SyncRefund applies a refund.* webhook for the order that owns the payment.
func (s *service) SyncRefund(ctx context.Context, gatewayPaymentID, refundID string) (*RefundStatusResult, error) {
	gatewayPaymentID = strings.TrimSpace(gatewayPaymentID)
	if gatewayPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	order, err := s.repo.FindByGatewayPaymentID(ctx, gatewayPaymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return s.refreshRefund(s.orderCtx(ctx, order), order, strings.TrimSpace(refundID))
}

func (s *service) refreshRefund(ctx context.Context, order *models.Order, expectedRefundID string) (*RefundStatusResult, error) {
	if order.RefundDetails == nil || order.RefundDetails.RefundID == "" {
		return nil, stateConflict("No refund has been initiated for this order", order.Status, nil)
	}
	if order.GatewayPaymentID == nil {
		return nil, stateConflict("Order has no captured payment", order.Status, nil)
	}
	stored := *order.RefundDetails
	if expectedRefundID != "" && expectedRefundID != stored.RefundID {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"reconciliation_required": true,
			"refund_id":               expectedRefundID,
			"stored_refund_id":        stored.RefundID,
		})
		s.logg.Warn(logCtx, "gateway reported a refund the order does not track")
		s.metrics.ObserveReconciliation("refund_mismatch")
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "refund does not match the order")
	}

	remote, err := s.gateway.GetRefund(ctx, *order.GatewayPaymentID, stored.RefundID)
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "refund_id", stored.RefundID), "refund status lookup failed", err)
		return nil, err
	}
	remoteStatus, err := enums.ParseRefundStatus(remote.Status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "unrecognised refund status")
	}

	result := &RefundStatusResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Refund:      stored,
	}
	if remoteStatus == stored.Status {
		return result, nil
	}

	now := s.now().UTC()
	updated := stored
	updated.Status = remoteStatus
	updated.LastCheckedAt = &now
	if remote.SpeedProcessed != "" {
		updated.SpeedProcessed = remote.SpeedProcessed
	}
	if remoteStatus == enums.RefundStatusProcessed {
		updated.ProcessedAt = &now
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"refund_id":       stored.RefundID,
		"refund_status":   remoteStatus,
		"previous_status": stored.Status,
	})

	completes := remoteStatus == enums.RefundStatusProcessed && order.Status == enums.OrderStatusRefundProcessing
	var applied bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		applied = false
		repo := s.repo.WithTx(tx)
		fields := map[string]any{"refund_details": &updated, "updated_at": now}
		var ok bool
		var err error
		if completes {
			ok, err = repo.TransitionStatus(ctx, order.ID, enums.OrderStatusRefundProcessing, enums.OrderStatusRefunded, fields)
		} else {
			ok, err = repo.PatchIfStatus(ctx, order.ID, order.Status, fields)
		}
		if err != nil || !ok {
			return err
		}
		applied = true
		if !completes {
			return nil
		}
		return s.emit(ctx, tx, enums.EventOrderRefunded, order, nil, payloads.OrderRefundedEvent{
			OrderRef:    orderRef(order),
			RefundID:    stored.RefundID,
			Amount:      stored.Amount,
			ProcessedAt: now,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update refund status")
	}
	if !applied {
		return nil, s.lostRace(ctx, order, "Refund status could not be updated")
	}

	if remoteStatus == enums.RefundStatusFailed {
		s.logg.Error(s.logg.WithField(ctx, "reconciliation_required", true), "gateway reported refund failure", nil)
		s.metrics.ObserveReconciliation("refund_failed")
	}
	if completes {
		s.metrics.ObserveTransition(enums.OrderStatusRefundProcessing, enums.OrderStatusRefunded)
		result.Status = enums.OrderStatusRefunded
	}
	result.Refund = updated
	result.Updated = true
	s.logg.Info(ctx, "refund status updated")
	return result, nil
}
