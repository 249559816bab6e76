package casesession

import "errors"

// Errors returned by CASE operations. Every error a Session can return
// boxes one of these sentinels so callers can branch on errors.Is.
var (
	// ErrInvalidArgument is returned when an API caller supplies a malformed
	// or out-of-range parameter (e.g. a zero localSessionID).
	ErrInvalidArgument = errors.New("case: invalid argument")

	// ErrInvalidCaseParameter is returned when a received message fails
	// structural or field-level validation (bad TLV, wrong field size,
	// missing required tag, resumption fields present singly).
	ErrInvalidCaseParameter = errors.New("case: invalid CASE message parameter")

	// ErrIncorrectState is returned when a message or API call arrives
	// while the session is in a state that does not accept it.
	ErrIncorrectState = errors.New("case: message or call invalid for current state")

	// ErrKeyNotFound is returned when the responder has no fabric whose
	// destination ID candidates match Sigma1's destination identifier, or
	// cannot resolve the operational key of the fabric that matched. An
	// unknown resumption ID is not an error: the handshake falls back to
	// full Sigma1/2/3.
	ErrKeyNotFound = errors.New("case: no matching fabric or resumption entry")

	// ErrNoSharedTrustedRoot is returned when the peer answers with a
	// NoSharedRoot Status Report, or when the peer's certificate chain fails
	// validation against our fabric's trusted root.
	ErrNoSharedTrustedRoot = errors.New("case: no shared trusted root")

	// ErrInvalidCaseSignature is returned when a TBSData signature fails
	// verification against the peer's validated certificate.
	ErrInvalidCaseSignature = errors.New("case: signature verification failed")

	// ErrInvalidCaseMIC is returned when an AEAD or resumption MIC fails
	// to authenticate (TBEData decryption, Resume1MIC/Resume2MIC check).
	ErrInvalidCaseMIC = errors.New("case: MIC verification failed")

	// ErrTimeout is returned (via Delegate.OnSessionEstablishmentError) when
	// OnTimeout fires before the handshake reaches Established.
	ErrTimeout = errors.New("case: session establishment timed out")

	// ErrVersionMismatch is returned when a persisted session blob carries
	// a version byte this build does not understand.
	ErrVersionMismatch = errors.New("case: persisted session version mismatch")

	// ErrInternal wraps failures from the crypto/tlv/fabric collaborators
	// that are not attributable to the peer or the caller (e.g. RNG failure).
	ErrInternal = errors.New("case: internal error")
)
