package enums

import "fmt"

// ReturnReason is the closed set of reasons a customer may give for a return.
type ReturnReason string

const (
	ReturnReasonDamaged      ReturnReason = "damaged"
	ReturnReasonWrongItem    ReturnReason = "wrong_item"
	ReturnReasonSizeIssue    ReturnReason = "size_issue"
	ReturnReasonQualityIssue ReturnReason = "quality_issue"
	ReturnReasonNotDescribed ReturnReason = "not_described"
	ReturnReasonChangedMind  ReturnReason = "changed_mind"
	ReturnReasonOther        ReturnReason = "other"
)

var validReturnReasons = []ReturnReason{
	ReturnReasonDamaged,
	ReturnReasonWrongItem,
	ReturnReasonSizeIssue,
	ReturnReasonQualityIssue,
	ReturnReasonNotDescribed,
	ReturnReasonChangedMind,
	ReturnReasonOther,
}

// String implements fmt.Stringer.
func (r ReturnReason) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReturnReason.
func (r ReturnReason) IsValid() bool {
	for _, candidate := range validReturnReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReturnReason converts raw input into a ReturnReason.
func ParseReturnReason(value string) (ReturnReason, error) {
	for _, candidate := range validReturnReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return reason %q", value)
}

// ReturnAction is the admin decision on a pending return.
type ReturnAction string

const (
	ReturnActionApprove ReturnAction = "approve"
	ReturnActionReject  ReturnAction = "reject"
)

func ParseReturnAction(value string) (ReturnAction, error) {
	switch ReturnAction(value) {
	case ReturnActionApprove, ReturnActionReject:
		return ReturnAction(value), nil
	}
	return "", fmt.Errorf("invalid return action %q", value)
}

// FulfilmentAction advances a paid order through shipping.
type FulfilmentAction string

const (
	FulfilmentActionProcess FulfilmentAction = "process"
	FulfilmentActionShip    FulfilmentAction = "ship"
	FulfilmentActionDeliver FulfilmentAction = "deliver"
)

// Transition returns the from/to edge the action drives.
func (a FulfilmentAction) Transition() (OrderStatus, OrderStatus, bool) {
	switch a {
	case FulfilmentActionProcess:
		return OrderStatusPaid, OrderStatusProcessing, true
	case FulfilmentActionShip:
		return OrderStatusProcessing, OrderStatusShipped, true
	case FulfilmentActionDeliver:
		return OrderStatusShipped, OrderStatusDelivered, true
	}
	return "", "", false
}

func ParseFulfilmentAction(value string) (FulfilmentAction, error) {
	action := FulfilmentAction(value)
	if _, _, ok := action.Transition(); !ok {
		return "", fmt.Errorf("invalid fulfilment action %q", value)
	}
	return action, nil
}
