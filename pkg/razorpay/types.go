package razorpay

import "time"

// Intent is a gateway order the customer pays against.
type Intent struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
}

// RefundRequest asks the gateway to return money for a captured payment.
type RefundRequest struct {
	PaymentID   string
	AmountMinor int64
	Speed       string
	Receipt     string
	Notes       map[string]string

	// IdempotencyKey makes a replayed request return the refund already created for it.
	IdempotencyKey string
}

// Refund is the gateway's view of a refund.
type Refund struct {
	ID             string
	PaymentID      string
	Amount         int64
	Currency       string
	Status         string
	SpeedRequested string
	SpeedProcessed string
	Receipt        string
	Notes          map[string]string
	CreatedAt      time.Time
}
