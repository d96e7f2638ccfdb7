package orders

import (
	"fmt"
	"strings"
	"time"
)

const orderNumberSuffixLen = 4

// newOrderNumber renders ORD-<unix millis>-<last four chars of the user id>.
func newOrderNumber(at time.Time, userID string) string {
	suffix := strings.ToUpper(strings.TrimSpace(userID))
	if len(suffix) > orderNumberSuffixLen {
		suffix = suffix[len(suffix)-orderNumberSuffixLen:]
	}
	if suffix == "" {
		suffix = "ANON"
	}
	return fmt.Sprintf("ORD-%d-%s", at.UnixMilli(), suffix)
}
