package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix is the optional prefix of the signature header value.
const SignaturePrefix = "sha256="

// SignatureHeader carries the HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature-256"

// Sign returns the header value for payload signed with secret.
func Sign(payload []byte, secret string) string {
	return SignaturePrefix + digest(payload, secret)
}

// VerifySignature reports whether signature is the HMAC-SHA256 of payload.
// Both "sha256=<hex>" and bare hex are accepted.
func VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	received := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(signature), SignaturePrefix))
	return hmac.Equal([]byte(digest(payload, secret)), []byte(received))
}

func digest(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
