package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// ECDSA test vectors from RFC 6979 Section A.2.5 "ECDSA, 256 Bits (Prime Field)"
// https://datatracker.ietf.org/doc/html/rfc6979#appendix-A.2.5
// Note: RFC 6979 defines deterministic ECDSA. Go's ecdsa.Sign uses random k,
// so we can only use these vectors for verification testing, not signature generation.
var ecdsaP256TestVectors = []struct {
	name       string
	privateKey string // Private key (hex)
	publicKey  string // Public key, uncompressed (hex)
	message    string // Message (ASCII, will be converted to bytes)
	signature  string // Valid signature (hex) - r || s, 64 bytes
}{
	// RFC 6979 A.2.5 - With SHA-256, message = "sample"
	{
		name:       "RFC6979_P256_SHA256_sample",
		privateKey: "c9afa9d845ba75166b5c215767b1d6934e50c3db36e89b127b8a622b120f6721",
		publicKey: "04" +
			"60fed4ba255a9d31c961eb74c6356d68c049b8923b61fa6ce669622e60f29fb6" + // Ux
			"7903fe1008b8bc99a41ae9e95628bc64f2f1b20c2d7e9f5177a3c294d4462299", // Uy
		message: "sample",
		signature: "efd48b2aacb6a8fd1140dd9cd45e81d69d2c877b56aaf991c34d0ea84eaf3716" + // r
			"f7cb1c942d657c41d436c7a1b6e29f65f3e900dbb9aff4064dc4ab2f843acda8", // s
	},
	// RFC 6979 A.2.5 - With SHA-256, message = "test"
	{
		name:       "RFC6979_P256_SHA256_test",
		privateKey: "c9afa9d845ba75166b5c215767b1d6934e50c3db36e89b127b8a622b120f6721",
		publicKey: "04" +
			"60fed4ba255a9d31c961eb74c6356d68c049b8923b61fa6ce669622e60f29fb6" + // Ux
			"7903fe1008b8bc99a41ae9e95628bc64f2f1b20c2d7e9f5177a3c294d4462299", // Uy
		message: "test",
		signature: "f1abb023518351cd71d881567b1ea663ed3efcf6c5132b354f28d3b0b7d38367" + // r
			"019f4113742a2b14bd25926b49c649155f267e60d3814b4c0cc84250e46f0083", // s
	},
}

func TestP256GenerateKeyPair(t *testing.T) {
	kp, err := P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("P256GenerateKeyPair failed: %v", err)
	}

	// Verify public key is 65 bytes and starts with 0x04
	pub := kp.P256PublicKey()
	if len(pub) != P256PublicKeySizeBytes {
		t.Errorf("public key length = %d, want %d", len(pub), P256PublicKeySizeBytes)
	}
	if pub[0] != 0x04 {
		t.Errorf("public key prefix = 0x%02x, want 0x04", pub[0])
	}
}

func TestP256ECDH_Symmetric(t *testing.T) {
	// Generate two key pairs
	kpA, err := P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair A: %v", err)
	}

	kpB, err := P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair B: %v", err)
	}

	// Compute shared secret both ways
	secretAB, err := P256ECDH(kpA, kpB.P256PublicKey())
	if err != nil {
		t.Fatalf("ECDH(A, pubB) failed: %v", err)
	}

	secretBA, err := P256ECDH(kpB, kpA.P256PublicKey())
	if err != nil {
		t.Fatalf("ECDH(B, pubA) failed: %v", err)
	}

	// Verify they match
	if !bytes.Equal(secretAB, secretBA) {
		t.Errorf("ECDH is not symmetric\nA->B: %x\nB->A: %x", secretAB, secretBA)
	}

	// Verify length
	if len(secretAB) != P256GroupSizeBytes {
		t.Errorf("shared secret length = %d, want %d", len(secretAB), P256GroupSizeBytes)
	}
}

func TestP256Sign(t *testing.T) {
	// Generate a key pair
	kp, err := P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("P256GenerateKeyPair failed: %v", err)
	}

	message := []byte("This is a test message for ECDSA signing")

	// Sign the message
	sig, err := P256Sign(kp, message)
	if err != nil {
		t.Fatalf("P256Sign failed: %v", err)
	}

	// Verify signature length
	if len(sig) != P256SignatureSizeBytes {
		t.Errorf("signature length = %d, want %d", len(sig), P256SignatureSizeBytes)
	}

	// Verify the signature
	valid, err := P256Verify(kp.P256PublicKey(), message, sig)
	if err != nil {
		t.Fatalf("P256Verify failed: %v", err)
	}
	if !valid {
		t.Error("signature verification failed for valid signature")
	}
}

func TestP256Verify(t *testing.T) {
	for _, tc := range ecdsaP256TestVectors {
		t.Run(tc.name, func(t *testing.T) {
			pubKey, err := hex.DecodeString(tc.publicKey)
			if err != nil {
				t.Fatalf("failed to decode public key: %v", err)
			}

			// Message is ASCII string per RFC 6979
			message := []byte(tc.message)

			signature, err := hex.DecodeString(tc.signature)
			if err != nil {
				t.Fatalf("failed to decode signature: %v", err)
			}

			valid, err := P256Verify(pubKey, message, signature)
			if err != nil {
				t.Fatalf("P256Verify failed: %v", err)
			}
			if !valid {
				t.Error("expected signature to be valid")
			}
		})
	}
}

func TestP256Verify_InvalidSignature(t *testing.T) {
	kp, err := P256GenerateKeyPair()
	if err != nil {
		t.Fatalf("P256GenerateKeyPair failed: %v", err)
	}

	message := []byte("original message")
	sig, err := P256Sign(kp, message)
	if err != nil {
		t.Fatalf("P256Sign failed: %v", err)
	}

	// Modify the message
	tamperedMessage := []byte("tampered message")
	valid, err := P256Verify(kp.P256PublicKey(), tamperedMessage, sig)
	if err != nil {
		t.Fatalf("P256Verify failed: %v", err)
	}
	if valid {
		t.Error("signature should be invalid for tampered message")
	}

	// Modify the signature
	tamperedSig := make([]byte, len(sig))
	copy(tamperedSig, sig)
	tamperedSig[0] ^= 0x01 // Flip a bit
	valid, err = P256Verify(kp.P256PublicKey(), message, tamperedSig)
	if err != nil {
		t.Fatalf("P256Verify failed: %v", err)
	}
	if valid {
		t.Error("signature should be invalid for tampered signature")
	}
}

func TestP256Constants(t *testing.T) {
	if P256GroupSizeBytes != 32 {
		t.Errorf("P256GroupSizeBytes = %d, want 32", P256GroupSizeBytes)
	}
	if P256PublicKeySizeBytes != 65 {
		t.Errorf("P256PublicKeySizeBytes = %d, want 65", P256PublicKeySizeBytes)
	}
	if P256SignatureSizeBytes != 64 {
		t.Errorf("P256SignatureSizeBytes = %d, want 64", P256SignatureSizeBytes)
	}
}

func BenchmarkP256GenerateKeyPair(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = P256GenerateKeyPair()
	}
}

func BenchmarkP256Sign(b *testing.B) {
	kp, _ := P256GenerateKeyPair()
	message := []byte("benchmark message for signing")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = P256Sign(kp, message)
	}
}

func BenchmarkP256Verify(b *testing.B) {
	kp, _ := P256GenerateKeyPair()
	message := []byte("benchmark message for verification")
	sig, _ := P256Sign(kp, message)
	pub := kp.P256PublicKey()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = P256Verify(pub, message, sig)
	}
}

func BenchmarkP256ECDH(b *testing.B) {
	kpA, _ := P256GenerateKeyPair()
	kpB, _ := P256GenerateKeyPair()
	pubB := kpB.P256PublicKey()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = P256ECDH(kpA, pubB)
	}
}
