package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SignatureHeader carries the provider's HMAC over the raw body
const SignatureHeader = "X-Signature"

var ErrBadSignature = errors.New("webhook signature mismatch")

// Sign computes the hex HMAC-SHA256 of body under secret. Exported so
// tests and outbound callback registration share one implementation.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the provider signature against the raw request
// body in constant time.
func VerifySignature(secret string, body []byte, signature string) error {
	if signature == "" {
		return ErrBadSignature
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
