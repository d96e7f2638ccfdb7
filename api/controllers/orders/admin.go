package orders

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mala-backend/api/middleware"
	"github.com/angelmondragon/mala-backend/api/responses"
	"github.com/angelmondragon/mala-backend/api/validators"
	internalorders "github.com/angelmondragon/mala-backend/internal/orders"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/logger"
)

// AdminList lists every order, optionally filtered by status and owner.
func AdminList(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var filters internalorders.ListFilters
		filters.Status, err = validators.ParseQueryEnum(r, "status", enums.ParseOrderStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := validators.ParseQueryString(r, "userId", 128)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters.UserID = userID

		list, err := svc.ListOrders(r.Context(), filters, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

type resolveReturnRequest struct {
	Action       string           `json:"action" validate:"required"`
	RefundAmount *decimal.Decimal `json:"refundAmount,omitempty"`
	AdminNotes   string           `json:"adminNotes" validate:"max=2000"`
}

// AdminResolveReturn approves (refunding through Razorpay) or rejects a pending return.
func AdminResolveReturn(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req resolveReturnRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ResolveReturn(r.Context(), internalorders.ResolveReturnInput{
			OrderID:      orderID,
			ActorUserID:  middleware.UserIDFromContext(r.Context()),
			Action:       req.Action,
			RefundAmount: req.RefundAmount,
			AdminNotes:   validators.SanitizeString(req.AdminNotes, 2000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type fulfilmentRequest struct {
	Action            string  `json:"action" validate:"required"`
	CourierName       string  `json:"courierName" validate:"max=100"`
	TrackingCode      string  `json:"trackingCode" validate:"max=100"`
	TrackingURL       string  `json:"trackingUrl" validate:"omitempty,url"`
	EstimatedDelivery *string `json:"estimatedDelivery,omitempty"`
}

// AdminFulfilment moves a paid order through processing, shipped and delivered.
func AdminFulfilment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req fulfilmentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		eta, err := parseOptionalTime(req.EstimatedDelivery, "estimatedDelivery")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.AdvanceFulfilment(r.Context(), internalorders.FulfilmentInput{
			OrderID:           orderID,
			ActorUserID:       middleware.UserIDFromContext(r.Context()),
			Action:            req.Action,
			CourierName:       strings.TrimSpace(req.CourierName),
			TrackingCode:      strings.TrimSpace(req.TrackingCode),
			TrackingURL:       strings.TrimSpace(req.TrackingURL),
			EstimatedDelivery: eta,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
