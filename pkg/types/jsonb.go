package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonValue encodes v for a jsonb column. A string keeps pgx and sqlite happy alike.
func jsonValue(v any) (driver.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
}

func (a ShippingAddress) Value() (driver.Value, error) {
	return jsonValue(a)
}

func (a *ShippingAddress) Scan(src any) error {
	if src == nil {
		*a = ShippingAddress{}
		return nil
	}
	return scanJSON(src, a)
}

func (r ReturnRequest) Value() (driver.Value, error) {
	return jsonValue(r)
}

func (r *ReturnRequest) Scan(src any) error {
	if src == nil {
		*r = ReturnRequest{}
		return nil
	}
	return scanJSON(src, r)
}

func (r RefundDetails) Value() (driver.Value, error) {
	return jsonValue(r)
}

func (r *RefundDetails) Scan(src any) error {
	if src == nil {
		*r = RefundDetails{}
		return nil
	}
	return scanJSON(src, r)
}
