package coreapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// GenerateSignature returns the hex HMAC-SHA256 of the concatenated parts, keyed with
// the API secret.
func GenerateSignature(secret string, parts ...string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the parts.
func VerifySignature(secret, signature string, parts ...string) bool {
	expected := GenerateSignature(secret, parts...)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
