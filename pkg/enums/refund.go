package enums

import "fmt"

// RefundMethod is how the customer asked to be paid back.
type RefundMethod string

const (
	RefundMethodOriginal     RefundMethod = "original"
	RefundMethodBankTransfer RefundMethod = "bank_transfer"
	RefundMethodWallet       RefundMethod = "wallet"
)

var validRefundMethods = []RefundMethod{
	RefundMethodOriginal,
	RefundMethodBankTransfer,
	RefundMethodWallet,
}

func (m RefundMethod) IsValid() bool {
	for _, candidate := range validRefundMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseRefundMethod converts raw input, defaulting empty input to RefundMethodOriginal.
func ParseRefundMethod(value string) (RefundMethod, error) {
	if value == "" {
		return RefundMethodOriginal, nil
	}
	for _, candidate := range validRefundMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund method %q", value)
}

// RefundSpeed is the gateway processing class requested for a refund.
type RefundSpeed string

const (
	RefundSpeedNormal  RefundSpeed = "normal"
	RefundSpeedOptimum RefundSpeed = "optimum"
)

func (s RefundSpeed) IsValid() bool {
	return s == RefundSpeedNormal || s == RefundSpeedOptimum
}

// EstimatedTime is the customer-facing settlement estimate for the speed class.
func (s RefundSpeed) EstimatedTime() string {
	if s == RefundSpeedOptimum {
		return "1-3 business days"
	}
	return "5-7 business days"
}

func ParseRefundSpeed(value string) (RefundSpeed, error) {
	switch RefundSpeed(value) {
	case RefundSpeedNormal, RefundSpeedOptimum:
		return RefundSpeed(value), nil
	}
	return "", fmt.Errorf("invalid refund speed %q", value)
}

// RefundType distinguishes full from partial refunds.
type RefundType string

const (
	RefundTypeFull    RefundType = "full"
	RefundTypePartial RefundType = "partial"
)
