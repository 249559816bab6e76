// IPK (Identity Protection Key) derivation for a fabric's operational group.

package crypto

import "errors"

// CompressedFabricIDSize is the size of a compressed fabric identifier (8 bytes).
const CompressedFabricIDSize = 8

// groupKeyInfo is the HKDF info string for operational-group key derivation.
var groupKeyInfo = []byte("GroupKey v1.0")

var (
	ErrInvalidEpochKeySize           = errors.New("crypto: invalid epoch key size, must be 16 bytes")
	ErrInvalidCompressedFabricIDSize = errors.New("crypto: invalid compressed fabric ID size, must be 8 bytes")
)

// DeriveGroupOperationalKeyV1 derives a fabric's operational group key (the
// IPK, when epochKey is the fabric's epoch key) from an epoch key and the
// fabric's compressed identifier.
//
// OperationalGroupKey = HKDF-SHA256(
//
//	InputKey = EpochKey,
//	Salt = CompressedFabricIdentifier,
//	Info = "GroupKey v1.0",
//	Length = 16 bytes,
//
// )
func DeriveGroupOperationalKeyV1(epochKey, compressedFabricID []byte) ([]byte, error) {
	if len(epochKey) != SymmetricKeySize {
		return nil, ErrInvalidEpochKeySize
	}
	if len(compressedFabricID) != CompressedFabricIDSize {
		return nil, ErrInvalidCompressedFabricIDSize
	}

	return HKDFSHA256(epochKey, compressedFabricID, groupKeyInfo, SymmetricKeySize)
}
