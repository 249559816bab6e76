// Package casesession implements CASE (Certificate Authenticated Session
// Establishment), the Sigma-protocol mutual-authentication handshake used to
// establish a secure session between two nodes that already hold operational
// certificates on a shared fabric.
//
// The package supports:
//   - Full handshake: Sigma1 -> Sigma2 -> Sigma3 -> StatusReport(Success)
//   - Session resumption: Sigma1 (with resumption fields) -> Sigma2Resume -> StatusReport(Success)
//
// A Session is driven by inbound messages delivered through OnMessage and by
// OnTimeout; it never reads from or writes to a transport directly, so it can
// be exercised identically over UDP/TCP/BLE transports or an in-memory test
// double such as pkg/exchangesim.
package casesession

// Size constants.
const (
	// RandomSize is the size of random values in CASE messages (32 bytes).
	RandomSize = 32

	// ResumptionIDSize is the size of the resumption ID (16 bytes).
	ResumptionIDSize = 16

	// MICSize is the AEAD MIC size (16 bytes).
	MICSize = 16

	// DestinationIDSize is the size of the destination identifier (32 bytes, SHA-256 output).
	DestinationIDSize = 32

	// SessionKeySize is the size of session encryption keys (16 bytes).
	SessionKeySize = 16
)

// AEAD nonces for CASE operations (13 bytes each).
var (
	// Sigma2Nonce is the nonce for TBEData2 encryption.
	Sigma2Nonce = []byte("NCASE_Sigma2N")

	// Sigma3Nonce is the nonce for TBEData3 encryption.
	Sigma3Nonce = []byte("NCASE_Sigma3N")

	// Resume1Nonce is the nonce for Sigma1 resumption MIC.
	Resume1Nonce = []byte("NCASE_SigmaS1")

	// Resume2Nonce is the nonce for Sigma2_Resume MIC.
	Resume2Nonce = []byte("NCASE_SigmaS2")
)

// Key derivation info strings.
var (
	// S2KInfo is the info string for Sigma2 key derivation.
	S2KInfo = []byte("Sigma2")

	// S3KInfo is the info string for Sigma3 key derivation.
	S3KInfo = []byte("Sigma3")

	// S1RKInfo is the info string for Sigma1 resumption key.
	S1RKInfo = []byte("Sigma1_Resume")

	// S2RKInfo is the info string for Sigma2 resumption key.
	S2RKInfo = []byte("Sigma2_Resume")

	// SEKeysInfo is the info string for session encryption keys.
	SEKeysInfo = []byte("SessionKeys")
)

// Role represents the CASE participant role.
type Role int

const (
	// RoleInitiator is the node initiating the CASE handshake.
	RoleInitiator Role = iota
	// RoleResponder is the node responding to the CASE handshake.
	RoleResponder
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	default:
		return "Unknown"
	}
}

// State represents the CASE protocol state machine.
//
// The transition table driving OnMessage/OnTimeout is:
//
//	Idle        | Sigma1         (responder) -> Sent2 or Sent2Resume
//	Idle        | Establish call (initiator) -> Sent1
//	Sent1       | Sigma2                     -> Sent3 (initiator sends Sigma3)
//	Sent1       | Sigma2Resume               -> Established (initiator sends Status(Success))
//	Sent1       | StatusReport(failure)      -> Failed
//	Sent2       | Sigma3                     -> Established (responder sends Status(Success))
//	Sent2       | StatusReport(failure)      -> Failed
//	Sent2Resume | StatusReport(Success)      -> Established
//	Sent2Resume | StatusReport(failure)      -> Failed
//	Sent3       | StatusReport(Success)      -> Established
//	any         | OnTimeout                  -> Failed
//	any         | anything else              -> Failed
type State int

const (
	// Idle is the state before the handshake begins.
	Idle State = iota
	// Sent1 is entered by the initiator after sending Sigma1.
	Sent1
	// Sent2 is entered by the responder after sending Sigma2 (full handshake).
	Sent2
	// Sent2Resume is entered by the responder after sending Sigma2Resume.
	Sent2Resume
	// Sent3 is entered by the initiator after sending Sigma3.
	Sent3
	// Established is the terminal success state; session keys are available.
	Established
	// Failed is the terminal failure state.
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Sent1:
		return "Sent1"
	case Sent2:
		return "Sent2"
	case Sent2Resume:
		return "Sent2Resume"
	case Sent3:
		return "Sent3"
	case Established:
		return "Established"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// SessionKeys holds the derived session encryption keys.
type SessionKeys struct {
	// I2RKey encrypts messages from initiator to responder.
	I2RKey [SessionKeySize]byte

	// R2IKey encrypts messages from responder to initiator.
	R2IKey [SessionKeySize]byte

	// AttestationChallenge is used for attestation during commissioning.
	AttestationChallenge [SessionKeySize]byte
}

// Zeroize overwrites the session keys in place.
func (k *SessionKeys) Zeroize() {
	if k == nil {
		return
	}
	for i := range k.I2RKey {
		k.I2RKey[i] = 0
	}
	for i := range k.R2IKey {
		k.R2IKey[i] = 0
	}
	for i := range k.AttestationChallenge {
		k.AttestationChallenge[i] = 0
	}
}

// ResumptionInfo stores state needed for session resumption.
type ResumptionInfo struct {
	// ResumptionID is the identifier for the previous session.
	ResumptionID [ResumptionIDSize]byte

	// SharedSecret is the ECDH shared secret from the previous session.
	SharedSecret []byte

	// PeerNodeID is the peer's operational node ID.
	PeerNodeID uint64

	// PeerCATs are the peer's CASE Authenticated Tags (optional).
	PeerCATs []uint32
}

// PeerCertInfo contains information extracted from a validated peer certificate chain.
type PeerCertInfo struct {
	// NodeID is the peer's operational node ID extracted from the NOC.
	NodeID uint64

	// FabricID is the fabric ID from the NOC.
	FabricID uint64

	// PublicKey is the peer's public key (65 bytes with 0x04 prefix).
	PublicKey [65]byte
}

// ValidatePeerCertChainFunc validates the peer's certificate chain.
// Called during CASE handshake to verify the peer's NOC chains to a trusted root.
//
// The callback should:
//  1. Parse the NOC (and ICAC if present) from Matter TLV format
//  2. Verify the certificate chain: NOC -> ICAC (optional) -> trusted root
//  3. Extract and return the node ID, fabric ID, and public key from the NOC
//
// Parameters:
//   - noc: Peer's Node Operational Certificate (Matter TLV encoded)
//   - icac: Peer's ICAC if present (nil if NOC chains directly to root)
//   - trustedRootPubKey: The expected root public key (65 bytes with 0x04 prefix)
//
// Returns PeerCertInfo with extracted fields, or error if validation fails.
type ValidatePeerCertChainFunc func(
	noc []byte,
	icac []byte,
	trustedRootPubKey [65]byte,
) (*PeerCertInfo, error)
