package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mala-backend/pkg/enums"
)

// ReturnRequest is embedded on an order once the customer asks for a return.
type ReturnRequest struct {
	Reason       enums.ReturnReason  `json:"reason"`
	Description  string              `json:"description"`
	Images       []string            `json:"images,omitempty"`
	RefundAmount decimal.Decimal     `json:"refund_amount"`
	RefundMethod enums.RefundMethod  `json:"refund_method"`
	RequestedAt  time.Time           `json:"requested_at"`
	Resolution   *enums.ReturnAction `json:"resolution,omitempty"`
	ResolvedAt   *time.Time          `json:"resolved_at,omitempty"`
	AdminNotes   string              `json:"admin_notes,omitempty"`
}
