package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Hmac256 is a function to generate HMAC256 hash.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifyHMAC reports whether received is the HMAC of body under key.
func VerifyHMAC(key, body []byte, received string) bool {
	if len(key) == 0 || received == "" {
		return false
	}
	expected := Hmac256(body, key)
	return hmac.Equal([]byte(received), []byte(expected))
}
