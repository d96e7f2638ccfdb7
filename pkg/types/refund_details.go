package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mala-backend/pkg/enums"
)

// RefundDetails is embedded on an order once a gateway refund is initiated.
// Amount is in major currency units.
type RefundDetails struct {
	RefundID       string             `json:"refund_id"`
	Amount         decimal.Decimal    `json:"amount"`
	Status         enums.RefundStatus `json:"status"`
	Type           enums.RefundType   `json:"type"`
	SpeedRequested enums.RefundSpeed  `json:"speed_requested,omitempty"`
	SpeedProcessed string             `json:"speed_processed,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	InitiatedAt    time.Time          `json:"initiated_at"`
	ProcessedAt    *time.Time         `json:"processed_at,omitempty"`
	LastCheckedAt  *time.Time         `json:"last_checked_at,omitempty"`
}

// IsFull reports whether the refund covers the whole order.
func (r RefundDetails) IsFull() bool {
	return r.Type == enums.RefundTypeFull
}
