// Package crypto provides the cryptographic kernel the CASE handshake is
// built on: SHA-256, HMAC-SHA256, HKDF-SHA256, P-256 ECDH/ECDSA, and
// AES-128-CCM, each scoped to the primitives Matter Specification Chapter 3
// actually calls for in this handshake rather than a general-purpose crypto
// toolbox.
package crypto

import "crypto/sha256"

// SHA256LenBytes is the SHA-256 output length in bytes (CRYPTO_HASH_LEN_BYTES
// in Matter Specification Section 3.3).
const SHA256LenBytes = 32

// SHA256 computes the SHA-256 cryptographic hash of a message.
// This implements Crypto_Hash() from Matter Specification Section 3.3.
func SHA256(message []byte) [SHA256LenBytes]byte {
	return sha256.Sum256(message)
}
