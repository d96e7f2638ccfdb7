package razorpaywebhook

import (
	"context"

	"github.com/angelmondragon/mala-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/logger"
)

type orderEngine interface {
	ConfirmCapturedPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*orders.VerifyPaymentResult, error)
	SyncRefund(ctx context.Context, gatewayPaymentID, refundID string) (*orders.RefundStatusResult, error)
}

type ServiceParams struct {
	Orders orderEngine
	Logger *logger.Logger
}

// Service applies gateway-pushed payment and refund outcomes to orders.
type Service struct {
	orders orderEngine
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order engine required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{orders: params.Orders, logg: params.Logger}, nil
}

// HandleEvent routes one delivery. Outcomes that a retry cannot change are
// logged and acknowledged; anything else is returned so the gateway redelivers.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event required")
	}
	ctx = s.logg.WithField(ctx, "webhook_event", event.Event)

	switch event.Event {
	case EventPaymentCaptured, EventOrderPaid:
		payment := event.Payment()
		if payment == nil || payment.ID == "" || payment.OrderID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment entity missing")
		}
		ctx = s.logg.WithFields(ctx, map[string]any{
			"gateway_order_id":   payment.OrderID,
			"gateway_payment_id": payment.ID,
		})
		_, err := s.orders.ConfirmCapturedPayment(ctx, payment.OrderID, payment.ID)
		return s.settle(ctx, err)
	case EventPaymentFailed:
		payment := event.Payment()
		if payment == nil {
			return nil
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"gateway_order_id":   payment.OrderID,
			"gateway_payment_id": payment.ID,
			"error_code":         payment.ErrorCode,
			"error_description":  payment.ErrorDescription,
		}), "payment attempt failed at gateway")
		return nil
	case EventRefundProcessed, EventRefundFailed:
		refund := event.Refund()
		if refund == nil || refund.ID == "" || refund.PaymentID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund entity missing")
		}
		ctx = s.logg.WithFields(ctx, map[string]any{
			"gateway_payment_id": refund.PaymentID,
			"refund_id":          refund.ID,
		})
		_, err := s.orders.SyncRefund(ctx, refund.PaymentID, refund.ID)
		return s.settle(ctx, err)
	default:
		s.logg.Debug(ctx, "ignoring webhook event")
		return nil
	}
}

func (s *Service) settle(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.IsRetryable(err) {
		return err
	}
	// a redelivery would fail the same way
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"reconciliation_required": true,
		"error_code":              pkgerrors.CodeOf(err),
		"error":                   err.Error(),
	}), "webhook acknowledged without applying")
	return nil
}
