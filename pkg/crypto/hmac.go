package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// HMACSHA256 computes the HMAC-SHA256 of a message using the given key.
// This implements Crypto_HMAC() from Matter Specification Section 3.4; the
// CASE handshake uses it to derive a destination identifier candidate,
// never message confidentiality (the resumption MICs are AES-CCM tags).
func HMACSHA256(key, message []byte) [SHA256LenBytes]byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	var result [SHA256LenBytes]byte
	copy(result[:], h.Sum(nil))
	return result
}
