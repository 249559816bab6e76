// Symmetric key and MIC size constants shared across the crypto kernel.

package crypto

// Sizes shared by AES-CCM, HKDF derivations and the AEAD contract.
const (
	// NonceSize is the AEAD nonce length (CRYPTO_AEAD_NONCE_LENGTH_BYTES).
	NonceSize = 13

	// SymmetricKeySize is the symmetric key length (CRYPTO_SYMMETRIC_KEY_LENGTH_BYTES).
	SymmetricKeySize = 16

	// MICSize is the Message Integrity Check length (CRYPTO_AEAD_MIC_LENGTH_BYTES).
	MICSize = 16
)
