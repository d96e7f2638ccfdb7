package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ExpectedSignature is the hex HMAC-SHA256 of "orderID|paymentID" under the key secret.
func (c *Client) ExpectedSignature(orderID, paymentID string) string {
	return sign(c.secret, []byte(orderID+"|"+paymentID))
}

// VerifySignature checks a checkout callback signature in constant time.
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	return equalHex(c.ExpectedSignature(orderID, paymentID), signature)
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header against the raw body.
func VerifyWebhookSignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return equalHex(sign(secret, body), signature)
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func equalHex(expected, received string) bool {
	return hmac.Equal([]byte(expected), []byte(received))
}
