package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mala-backend/api/middleware"
	internalorders "github.com/angelmondragon/mala-backend/internal/orders"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/pagination"
)

type stubOrdersService struct {
	create      func(ctx context.Context, input internalorders.CreateOrderInput) (*internalorders.CreateOrderResult, error)
	verify      func(ctx context.Context, input internalorders.VerifyPaymentInput) (*internalorders.VerifyPaymentResult, error)
	cancel      func(ctx context.Context, input internalorders.CancelOrderInput) (*internalorders.CancelOrderResult, error)
	requestRet  func(ctx context.Context, input internalorders.RequestReturnInput) (*internalorders.RequestReturnResult, error)
	resolveRet  func(ctx context.Context, input internalorders.ResolveReturnInput) (*internalorders.ResolveReturnResult, error)
	refund      func(ctx context.Context, input internalorders.RefundStatusInput) (*internalorders.RefundStatusResult, error)
	cleanup     func(ctx context.Context, input internalorders.CleanupInput) (*internalorders.CleanupResult, error)
	fulfil      func(ctx context.Context, input internalorders.FulfilmentInput) (*internalorders.OrderView, error)
	get         func(ctx context.Context, orderID uuid.UUID, userID string, role enums.Role) (*internalorders.OrderView, error)
	listForUser func(ctx context.Context, userID string, params pagination.Params) (*internalorders.OrderList, error)
	list        func(ctx context.Context, filters internalorders.ListFilters, params pagination.Params) (*internalorders.OrderList, error)
}

func (s *stubOrdersService) CreateOrder(ctx context.Context, input internalorders.CreateOrderInput) (*internalorders.CreateOrderResult, error) {
	if s.create != nil {
		return s.create(ctx, input)
	}
	return &internalorders.CreateOrderResult{}, nil
}

func (s *stubOrdersService) VerifyPayment(ctx context.Context, input internalorders.VerifyPaymentInput) (*internalorders.VerifyPaymentResult, error) {
	if s.verify != nil {
		return s.verify(ctx, input)
	}
	return &internalorders.VerifyPaymentResult{}, nil
}

func (s *stubOrdersService) ConfirmCapturedPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*internalorders.VerifyPaymentResult, error) {
	panic("unimplemented")
}

func (s *stubOrdersService) CancelOrder(ctx context.Context, input internalorders.CancelOrderInput) (*internalorders.CancelOrderResult, error) {
	if s.cancel != nil {
		return s.cancel(ctx, input)
	}
	return &internalorders.CancelOrderResult{}, nil
}

func (s *stubOrdersService) RequestReturn(ctx context.Context, input internalorders.RequestReturnInput) (*internalorders.RequestReturnResult, error) {
	if s.requestRet != nil {
		return s.requestRet(ctx, input)
	}
	return &internalorders.RequestReturnResult{}, nil
}

func (s *stubOrdersService) ResolveReturn(ctx context.Context, input internalorders.ResolveReturnInput) (*internalorders.ResolveReturnResult, error) {
	if s.resolveRet != nil {
		return s.resolveRet(ctx, input)
	}
	return &internalorders.ResolveReturnResult{}, nil
}

func (s *stubOrdersService) CheckRefundStatus(ctx context.Context, input internalorders.RefundStatusInput) (*internalorders.RefundStatusResult, error) {
	if s.refund != nil {
		return s.refund(ctx, input)
	}
	return &internalorders.RefundStatusResult{}, nil
}

func (s *stubOrdersService) SyncRefund(ctx context.Context, gatewayPaymentID, refundID string) (*internalorders.RefundStatusResult, error) {
	panic("unimplemented")
}

func (s *stubOrdersService) CleanupAbandonedOrder(ctx context.Context, input internalorders.CleanupInput) (*internalorders.CleanupResult, error) {
	if s.cleanup != nil {
		return s.cleanup(ctx, input)
	}
	return &internalorders.CleanupResult{}, nil
}

func (s *stubOrdersService) ReapAbandonedOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	panic("unimplemented")
}

func (s *stubOrdersService) AdvanceFulfilment(ctx context.Context, input internalorders.FulfilmentInput) (*internalorders.OrderView, error) {
	if s.fulfil != nil {
		return s.fulfil(ctx, input)
	}
	return &internalorders.OrderView{}, nil
}

func (s *stubOrdersService) GetOrder(ctx context.Context, orderID uuid.UUID, userID string, role enums.Role) (*internalorders.OrderView, error) {
	if s.get != nil {
		return s.get(ctx, orderID, userID, role)
	}
	return &internalorders.OrderView{}, nil
}

func (s *stubOrdersService) ListOrdersForUser(ctx context.Context, userID string, params pagination.Params) (*internalorders.OrderList, error) {
	if s.listForUser != nil {
		return s.listForUser(ctx, userID, params)
	}
	return &internalorders.OrderList{}, nil
}

func (s *stubOrdersService) ListOrders(ctx context.Context, filters internalorders.ListFilters, params pagination.Params) (*internalorders.OrderList, error) {
	if s.list != nil {
		return s.list(ctx, filters, params)
	}
	return &internalorders.OrderList{}, nil
}

const testUser = "user_0001abcd"

func authedRequest(method, target, body string, role enums.Role) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := middleware.WithUserID(req.Context(), testUser)
	ctx = middleware.WithRole(ctx, role)
	return req.WithContext(ctx)
}

func withOrderID(req *http.Request, orderID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", orderID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return payload.Error.Code
}

const checkoutBody = `{
  "customerName": "Asha Rao",
  "customerEmail": "asha@example.com",
  "currency": "INR",
  "amount": "1000.00",
  "discount": "0",
  "address": {"name": "Asha Rao", "address": "12 Temple Rd", "city": "Varanasi", "state": "UP", "zip": "221001", "contact": "9999999999"},
  "products": [{"productId": "prod_rudraksha", "name": "Rudraksha Mala", "price": "500.00", "quantity": 2}]
}`

func TestCheckoutBuildsInput(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		create: func(ctx context.Context, input internalorders.CreateOrderInput) (*internalorders.CreateOrderResult, error) {
			if input.UserID != testUser {
				t.Fatalf("unexpected user %q", input.UserID)
			}
			if !input.Amount.Equal(decimal.NewFromInt(1000)) {
				t.Fatalf("unexpected amount %s", input.Amount)
			}
			if len(input.LineItems) != 1 || input.LineItems[0].Quantity != 2 || !input.LineItems[0].UnitPrice.Equal(decimal.NewFromInt(500)) {
				t.Fatalf("unexpected line items %+v", input.LineItems)
			}
			if input.ShippingAddress.City != "Varanasi" {
				t.Fatalf("unexpected address %+v", input.ShippingAddress)
			}
			return &internalorders.CreateOrderResult{OrderID: orderID, GatewayOrderID: "order_test001"}, nil
		},
	}

	rec := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/checkout", checkoutBody, enums.RoleCustomer))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"razorpayOrderId":"order_test001"`) {
		t.Fatalf("expected gateway order id in body: %s", rec.Body.String())
	}
}

func TestCheckoutRejectsInvalidBody(t *testing.T) {
	called := false
	svc := &stubOrdersService{
		create: func(ctx context.Context, input internalorders.CreateOrderInput) (*internalorders.CreateOrderResult, error) {
			called = true
			return nil, nil
		},
	}

	for name, body := range map[string]string{
		"no products":    strings.Replace(checkoutBody, `"products": [{"productId": "prod_rudraksha", "name": "Rudraksha Mala", "price": "500.00", "quantity": 2}]`, `"products": []`, 1),
		"bad email":      strings.Replace(checkoutBody, "asha@example.com", "not-an-email", 1),
		"unknown field":  strings.Replace(checkoutBody, `"currency": "INR",`, `"currency": "INR", "coupon": "FREE",`, 1),
		"missing city":   strings.Replace(checkoutBody, `"city": "Varanasi",`, ``, 1),
		"negative price": strings.Replace(checkoutBody, `"price": "500.00"`, `"price": "-1.00"`, 1),
	} {
		rec := httptest.NewRecorder()
		Checkout(svc, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/checkout", body, enums.RoleCustomer))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d (%s)", name, rec.Code, rec.Body.String())
		}
	}
	if called {
		t.Fatal("service must not be called for invalid bodies")
	}
}

func TestCheckoutAcceptsComplimentaryLine(t *testing.T) {
	var lines []internalorders.LineItemInput
	svc := &stubOrdersService{
		create: func(ctx context.Context, input internalorders.CreateOrderInput) (*internalorders.CreateOrderResult, error) {
			lines = input.LineItems
			return &internalorders.CreateOrderResult{OrderID: uuid.New(), GatewayOrderID: "order_test002"}, nil
		},
	}
	body := strings.Replace(checkoutBody,
		`"quantity": 2}]`,
		`"quantity": 2}, {"productId": "prod_pouch", "name": "Silk Pouch", "price": "0", "quantity": 1}]`, 1)

	rec := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/checkout", body, enums.RoleCustomer))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(lines) != 2 || !lines[1].UnitPrice.IsZero() {
		t.Fatalf("expected zero-priced second line, got %+v", lines)
	}
}

func TestCheckoutRequiresUser(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(checkoutBody))
	Checkout(&stubOrdersService{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestVerifyPaymentMapsSignatureError(t *testing.T) {
	svc := &stubOrdersService{
		verify: func(ctx context.Context, input internalorders.VerifyPaymentInput) (*internalorders.VerifyPaymentResult, error) {
			if input.GatewayOrderID != "order_abc" || input.GatewayPaymentID != "pay_abc" || input.Signature != "deadbeef" {
				t.Fatalf("unexpected input %+v", input)
			}
			return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "payment signature invalid")
		},
	}
	body := `{"razorpay_order_id":"order_abc","razorpay_payment_id":" pay_abc ","razorpay_signature":"deadbeef"}`

	rec := httptest.NewRecorder()
	VerifyPayment(svc, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/payments/verify", body, enums.RoleCustomer))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeSignatureInvalid) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestCancelOrderStateConflict(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		cancel: func(ctx context.Context, input internalorders.CancelOrderInput) (*internalorders.CancelOrderResult, error) {
			if input.OrderID != orderID || input.Reason != "changed my mind" || input.UserID != testUser {
				t.Fatalf("unexpected input %+v", input)
			}
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "Order cannot be cancelled. Current status: shipped")
		},
	}

	req := withOrderID(authedRequest(http.MethodPost, "/api/v1/orders/x/cancel", `{"reason":"changed my mind"}`, enums.RoleCustomer), orderID.String())
	rec := httptest.NewRecorder()
	CancelOrder(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Current status: shipped") {
		t.Fatalf("expected reason in body: %s", rec.Body.String())
	}
}

func TestOrderRoutesRejectMalformedID(t *testing.T) {
	req := withOrderID(authedRequest(http.MethodDelete, "/api/v1/orders/nope/cleanup", "", enums.RoleCustomer), "nope")
	rec := httptest.NewRecorder()
	CleanupOrder(&stubOrdersService{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRequestReturnPassesImages(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		requestRet: func(ctx context.Context, input internalorders.RequestReturnInput) (*internalorders.RequestReturnResult, error) {
			if len(input.Images) != 2 || input.Reason != "damaged" || input.RefundMethod != "original" {
				t.Fatalf("unexpected input %+v", input)
			}
			return &internalorders.RequestReturnResult{OrderID: orderID, Status: enums.OrderStatusRefundRequested}, nil
		},
	}
	body := `{"reason":"damaged","description":"bead cracked","images":["https://cdn/a.jpg","https://cdn/b.jpg"],"refundMethod":"original"}`

	req := withOrderID(authedRequest(http.MethodPost, "/api/v1/orders/x/return", body, enums.RoleCustomer), orderID.String())
	rec := httptest.NewRecorder()
	RequestReturn(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"refund_requested"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRefundStatusForwardsRole(t *testing.T) {
	orderID := uuid.New()
	var gotRole enums.Role
	svc := &stubOrdersService{
		refund: func(ctx context.Context, input internalorders.RefundStatusInput) (*internalorders.RefundStatusResult, error) {
			gotRole = input.Role
			return &internalorders.RefundStatusResult{OrderID: orderID}, nil
		},
	}

	req := withOrderID(authedRequest(http.MethodGet, "/api/v1/orders/x/refund", "", enums.RoleAdmin), orderID.String())
	rec := httptest.NewRecorder()
	RefundStatus(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotRole != enums.RoleAdmin {
		t.Fatalf("expected admin role forwarded, got %q", gotRole)
	}
}

func TestListUsesPagination(t *testing.T) {
	svc := &stubOrdersService{
		listForUser: func(ctx context.Context, userID string, params pagination.Params) (*internalorders.OrderList, error) {
			if userID != testUser || params.Limit != 5 || params.Cursor != "abc" {
				t.Fatalf("unexpected args %s %+v", userID, params)
			}
			return &internalorders.OrderList{NextCursor: "next"}, nil
		},
	}

	rec := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/orders?limit=5&cursor=abc", "", enums.RoleCustomer))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	List(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/orders?limit=1000", "", enums.RoleCustomer))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized limit, got %d", rec.Code)
	}
}

func TestAdminListParsesStatus(t *testing.T) {
	svc := &stubOrdersService{
		list: func(ctx context.Context, filters internalorders.ListFilters, params pagination.Params) (*internalorders.OrderList, error) {
			if filters.Status == nil || *filters.Status != enums.OrderStatusRefundRequested {
				t.Fatalf("unexpected filters %+v", filters)
			}
			return &internalorders.OrderList{}, nil
		},
	}

	rec := httptest.NewRecorder()
	AdminList(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/admin/orders?status=refund_requested", "", enums.RoleAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	AdminList(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/admin/orders?status=lost", "", enums.RoleAdmin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestAdminResolveReturnPartialAmount(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		resolveRet: func(ctx context.Context, input internalorders.ResolveReturnInput) (*internalorders.ResolveReturnResult, error) {
			if input.Action != "approve" || input.RefundAmount == nil || !input.RefundAmount.Equal(decimal.NewFromInt(250)) {
				t.Fatalf("unexpected input %+v", input)
			}
			if input.ActorUserID != testUser {
				t.Fatalf("expected actor id, got %q", input.ActorUserID)
			}
			return &internalorders.ResolveReturnResult{Status: enums.OrderStatusRefundProcessing, EstimatedTime: "5-7 business days"}, nil
		},
	}

	req := withOrderID(authedRequest(http.MethodPatch, "/api/v1/admin/orders/x/return", `{"action":"approve","refundAmount":250}`, enums.RoleAdmin), orderID.String())
	rec := httptest.NewRecorder()
	AdminResolveReturn(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestAdminFulfilmentParsesETA(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		fulfil: func(ctx context.Context, input internalorders.FulfilmentInput) (*internalorders.OrderView, error) {
			if input.Action != "ship" || input.TrackingCode != "AWB123" || input.EstimatedDelivery == nil {
				t.Fatalf("unexpected input %+v", input)
			}
			return &internalorders.OrderView{ID: orderID, Status: enums.OrderStatusShipped}, nil
		},
	}
	body := `{"action":"ship","courierName":"Delhivery","trackingCode":"AWB123","trackingUrl":"https://track.example/AWB123","estimatedDelivery":"2026-03-05T10:00:00Z"}`

	req := withOrderID(authedRequest(http.MethodPost, "/api/v1/admin/orders/x/fulfilment", body, enums.RoleAdmin), orderID.String())
	rec := httptest.NewRecorder()
	AdminFulfilment(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	bad := withOrderID(authedRequest(http.MethodPost, "/api/v1/admin/orders/x/fulfilment", `{"action":"ship","estimatedDelivery":"soon"}`, enums.RoleAdmin), orderID.String())
	rec = httptest.NewRecorder()
	AdminFulfilment(svc, nil).ServeHTTP(rec, bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad eta, got %d", rec.Code)
	}
}
