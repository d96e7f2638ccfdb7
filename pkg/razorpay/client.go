package razorpay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rzp "github.com/razorpay/razorpay-go"

	"github.com/angelmondragon/mala-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/logger"
)

const (
	testKeyPrefix = "rzp_test_"
	liveKeyPrefix = "rzp_live_"

	refundIdempotencyHeader = "X-Refund-Idempotency"
)

var (
	errKeyIDRequired     = errors.New("razorpay key id is required")
	errKeySecretRequired = errors.New("razorpay key secret is required")
)

type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type refundAPI interface {
	Fetch(refundID string, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Client is the payment gateway adapter. Amounts crossing it are in minor units (paise).
type Client struct {
	orders   orderAPI
	payments paymentAPI
	refunds  refundAPI
	secret   string
	live     bool
	now      func() time.Time
}

// NewClient builds the adapter around the Razorpay SDK.
func NewClient(ctx context.Context, cfg config.RazorpayConfig, logg *logger.Logger) (*Client, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		return nil, errKeyIDRequired
	}
	secret := strings.TrimSpace(cfg.KeySecret)
	if secret == "" {
		return nil, errKeySecretRequired
	}
	live := strings.HasPrefix(keyID, liveKeyPrefix)
	if !live && !strings.HasPrefix(keyID, testKeyPrefix) {
		return nil, fmt.Errorf("razorpay key id must start with %q or %q", testKeyPrefix, liveKeyPrefix)
	}

	sdk := rzp.NewClient(keyID, secret)
	if logg != nil {
		mode := "test"
		if live {
			mode = "live"
		}
		logg.Info(ctx, fmt.Sprintf("razorpay client initialized (%s)", mode))
	}

	return &Client{
		orders:   sdk.Order,
		payments: sdk.Payment,
		refunds:  sdk.Refund,
		secret:   secret,
		live:     live,
		now:      time.Now,
	}, nil
}

// Live reports whether the client is configured with live keys.
func (c *Client) Live() bool {
	return c != nil && c.live
}

// CreateIntent opens a gateway order the customer pays against.
func (c *Client) CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	if amountMinor <= 0 {
		return Intent{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	body, err := c.orders.Create(map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}, nil)
	if err != nil {
		return Intent{}, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "create razorpay order")
	}

	intent := Intent{
		ID:       stringField(body, "id"),
		Amount:   int64Field(body, "amount"),
		Currency: stringField(body, "currency"),
		Receipt:  stringField(body, "receipt"),
	}
	if intent.ID == "" {
		return Intent{}, pkgerrors.New(pkgerrors.CodeGateway, "razorpay order response missing id")
	}
	if intent.Currency == "" {
		intent.Currency = currency
	}
	if intent.Amount == 0 {
		intent.Amount = amountMinor
	}
	return intent, nil
}

// CreateRefund refunds a captured payment. A zero AmountMinor refunds the full payment.
func (c *Client) CreateRefund(ctx context.Context, req RefundRequest) (Refund, error) {
	if err := ctx.Err(); err != nil {
		return Refund{}, err
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		return Refund{}, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required for refund")
	}

	data := map[string]interface{}{}
	if req.Speed != "" {
		data["speed"] = req.Speed
	}
	if req.Receipt != "" {
		data["receipt"] = req.Receipt
	}
	if len(req.Notes) > 0 {
		data["notes"] = req.Notes
	}

	var headers map[string]string
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		headers = map[string]string{refundIdempotencyHeader: key}
	}

	body, err := c.payments.Refund(req.PaymentID, int(req.AmountMinor), data, headers)
	if err != nil {
		return Refund{}, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "create razorpay refund")
	}
	refund := refundFromBody(body)
	if refund.ID == "" {
		return Refund{}, pkgerrors.New(pkgerrors.CodeGateway, "razorpay refund response missing id")
	}
	return refund, nil
}

// GetRefund fetches the current gateway view of a refund.
func (c *Client) GetRefund(ctx context.Context, paymentID, refundID string) (Refund, error) {
	if err := ctx.Err(); err != nil {
		return Refund{}, err
	}
	if strings.TrimSpace(refundID) == "" {
		return Refund{}, pkgerrors.New(pkgerrors.CodeValidation, "refund id is required")
	}

	body, err := c.refunds.Fetch(refundID, nil, nil)
	if err != nil {
		return Refund{}, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "fetch razorpay refund").
			WithDetails(map[string]string{"payment_id": paymentID, "refund_id": refundID})
	}
	refund := refundFromBody(body)
	if refund.ID == "" {
		refund.ID = refundID
	}
	if refund.PaymentID == "" {
		refund.PaymentID = paymentID
	}
	return refund, nil
}

func refundFromBody(body map[string]interface{}) Refund {
	refund := Refund{
		ID:             stringField(body, "id"),
		PaymentID:      stringField(body, "payment_id"),
		Amount:         int64Field(body, "amount"),
		Currency:       stringField(body, "currency"),
		Status:         stringField(body, "status"),
		SpeedProcessed: stringField(body, "speed_processed"),
		SpeedRequested: stringField(body, "speed_requested"),
		Receipt:        stringField(body, "receipt"),
		Notes:          notesField(body),
	}
	if created := int64Field(body, "created_at"); created > 0 {
		refund.CreatedAt = time.Unix(created, 0).UTC()
	}
	return refund
}

func stringField(body map[string]interface{}, key string) string {
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}

// int64Field reads numeric JSON fields, which decode as float64.
func int64Field(body map[string]interface{}, key string) int64 {
	switch v := body[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// notesField tolerates the gateway encoding empty notes as [].
func notesField(body map[string]interface{}) map[string]string {
	raw, ok := body["notes"].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}
