package orders

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/mala-backend/internal/inventory"
	"github.com/angelmondragon/mala-backend/pkg/db/models"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/outbox/payloads"
)

const (
	paymentSourceCallback = "callback"
	paymentSourceWebhook  = "webhook"

	verifyResultPaid             = "paid"
	verifyResultDuplicate        = "duplicate"
	verifyResultSignatureInvalid = "signature_invalid"
	verifyResultOrphaned         = "orphaned"
	verifyResultConflict         = "conflict"
	verifyResultDegraded         = "degraded"
)

// VerifyPayment authenticates a client-relayed payment callback and moves the
// order to paid. The HMAC proves authenticity only; exactly-once effects come
// from the pending->paid compare-and-swap.
func (s *service) VerifyPayment(ctx context.Context, input VerifyPaymentInput) (*VerifyPaymentResult, error) {
	gatewayOrderID := strings.TrimSpace(input.GatewayOrderID)
	paymentID := strings.TrimSpace(input.GatewayPaymentID)
	signature := strings.TrimSpace(input.Signature)
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "razorpay_order_id, razorpay_payment_id and razorpay_signature are required")
	}

	if !s.gateway.VerifySignature(gatewayOrderID, paymentID, signature) {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"gateway_order_id":   gatewayOrderID,
			"gateway_payment_id": paymentID,
			"expected_signature": s.gateway.ExpectedSignature(gatewayOrderID, paymentID),
			"received_signature": signature,
		})
		s.logg.Warn(logCtx, "payment signature mismatch")
		s.metrics.ObservePaymentVerification(verifyResultSignatureInvalid)
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid payment signature")
	}

	return s.markPaid(ctx, gatewayOrderID, paymentID, &signature, paymentSourceCallback)
}

// ConfirmCapturedPayment applies a payment.captured webhook. The webhook body
// signature has already been checked by the caller.
func (s *service) ConfirmCapturedPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*VerifyPaymentResult, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	gatewayPaymentID = strings.TrimSpace(gatewayPaymentID)
	if gatewayOrderID == "" || gatewayPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order_id and payment id are required")
	}
	return s.markPaid(ctx, gatewayOrderID, gatewayPaymentID, nil, paymentSourceWebhook)
}

func (s *service) markPaid(ctx context.Context, gatewayOrderID, paymentID string, signature *string, source string) (*VerifyPaymentResult, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"gateway_order_id":   gatewayOrderID,
		"gateway_payment_id": paymentID,
		"payment_source":     source,
	})

	order, err := s.repo.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Error(s.logg.WithField(ctx, "reconciliation_required", true), "verified payment has no matching order", err)
			s.metrics.ObservePaymentVerification(verifyResultOrphaned)
			s.metrics.ObserveReconciliation("orphaned_payment")
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for payment")
		}
		return s.degradedPayment(ctx, nil, err, "load order")
	}
	ctx = s.orderCtx(ctx, order)

	if result, done, err := s.checkPayable(ctx, order, paymentID); done {
		return result, err
	}

	now := s.now().UTC()
	fields := map[string]any{
		"gateway_payment_id": paymentID,
		"updated_at":         now,
	}
	if signature != nil {
		fields["gateway_signature"] = *signature
	}

	var won bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won = false
		ok, err := s.repo.WithTx(tx).TransitionStatus(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusPaid, fields)
		if err != nil || !ok {
			return err
		}
		won = true
		return s.emit(ctx, tx, enums.EventOrderPaid, order, userActor(order.UserID), payloads.OrderPaidEvent{
			OrderRef:         orderRef(order),
			GatewayOrderID:   gatewayOrderID,
			GatewayPaymentID: paymentID,
			TotalPrice:       order.TotalPrice,
			Currency:         order.Currency,
			Source:           source,
			PaidAt:           now,
		})
	})
	if err != nil {
		return s.degradedPayment(ctx, order, err, "mark order paid")
	}

	if !won {
		// Lost the race to a concurrent verify/webhook or cleanup.
		current, err := s.repo.FindByID(ctx, order.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.logg.Error(s.logg.WithField(ctx, "reconciliation_required", true), "order removed while payment was being verified", err)
				s.metrics.ObserveReconciliation("orphaned_payment")
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for payment")
			}
			return s.degradedPayment(ctx, order, err, "reload order")
		}
		result, done, err := s.checkPayable(ctx, current, paymentID)
		if !done {
			return s.degradedPayment(ctx, current, errors.New("order still pending after lost transition"), "mark order paid")
		}
		return result, err
	}

	s.metrics.ObserveTransition(enums.OrderStatusPending, enums.OrderStatusPaid)
	result := &VerifyPaymentResult{
		Success:     true,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      enums.OrderStatusPaid,
	}
	result.Warning = s.moveStock(ctx, order, inventory.OpDecrement)
	if result.Warning != "" {
		s.metrics.ObservePaymentVerification(verifyResultDegraded)
	} else {
		s.metrics.ObservePaymentVerification(verifyResultPaid)
	}
	s.logg.Info(ctx, "payment verified")
	return result, nil
}

// checkPayable decides what to do with an order that is not (or no longer)
// pending. done=false means the caller should attempt the transition. A
// verified payment never reads as a failure to the customer.
func (s *service) checkPayable(ctx context.Context, order *models.Order, paymentID string) (*VerifyPaymentResult, bool, error) {
	switch {
	case order.Status == enums.OrderStatusPending:
		return nil, false, nil
	case order.Status == enums.OrderStatusCancelled:
		logCtx := s.logg.WithField(ctx, "reconciliation_required", true)
		s.logg.Error(logCtx, "payment received for cancelled order", nil)
		s.metrics.ObservePaymentVerification(verifyResultConflict)
		s.metrics.ObserveReconciliation("payment_on_cancelled_order")
		// The money has moved; the customer sees the cancelled order with a refund note.
		return &VerifyPaymentResult{
			Success:     true,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Status:      order.Status,
			Warning:     "payment received after the order was cancelled; it will be refunded",
		}, true, nil
	default:
		if order.GatewayPaymentID != nil && *order.GatewayPaymentID != paymentID {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"reconciliation_required": true,
				"stored_payment_id":       *order.GatewayPaymentID,
			})
			s.logg.Warn(logCtx, "second payment reported for an already paid order")
			s.metrics.ObserveReconciliation("duplicate_payment")
		}
		s.metrics.ObservePaymentVerification(verifyResultDuplicate)
		return &VerifyPaymentResult{
			Success:          true,
			OrderID:          order.ID,
			OrderNumber:      order.OrderNumber,
			Status:           order.Status,
			AlreadyProcessed: true,
		}, true, nil
	}
}

// degradedPayment reports success for a payment whose authenticity is proven
// but whose bookkeeping failed. The money has moved, so the caller must not
// see an error.
func (s *service) degradedPayment(ctx context.Context, order *models.Order, cause error, step string) (*VerifyPaymentResult, error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"reconciliation_required": true,
		"step":                    step,
	})
	s.logg.Error(logCtx, "payment verified but order bookkeeping failed", cause)
	s.metrics.ObservePaymentVerification(verifyResultDegraded)
	s.metrics.ObserveReconciliation("payment_bookkeeping")

	result := &VerifyPaymentResult{
		Success: true,
		Status:  enums.OrderStatusPending,
		Warning: "payment received but the order could not be updated; it will be reconciled",
	}
	if order != nil {
		result.OrderID = order.ID
		result.OrderNumber = order.OrderNumber
		result.Status = order.Status
	}
	return result, nil
}
