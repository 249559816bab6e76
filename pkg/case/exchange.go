package casesession

import (
	"github.com/fabricgate/case/pkg/crypto"
	"github.com/fabricgate/case/pkg/fabric"
)

// Exchange is the transport-independent collaborator a Session uses to send
// messages and close the underlying reliable-messaging exchange. A Session
// never opens sockets or manages retransmission itself; it is handed an
// Exchange by whatever owns the wire (UDP, TCP, BLE, or a test double such as
// the endpoints from pkg/exchangesim.NewLink) and only calls back through
// this interface.
type Exchange interface {
	// SendMessage delivers one TLV/flat-encoded CASE message (Sigma1,
	// Sigma2, Sigma3, Sigma2Resume or StatusReport) to the peer over
	// whatever transport the Exchange wraps. opcode identifies the message
	// type on the wire (see Opcode* constants) so the one method carries
	// all five.
	SendMessage(opcode Opcode, payload []byte) error

	// Close releases the underlying exchange. Called once the session
	// reaches Established or Failed.
	Close()
}

// Opcode identifies a CASE message on the wire.
type Opcode uint8

const (
	OpcodeSigma1        Opcode = 0x30
	OpcodeSigma2        Opcode = 0x31
	OpcodeSigma3        Opcode = 0x32
	OpcodeSigma2Resume  Opcode = 0x33
	OpcodeStatusReport  Opcode = 0x40
)

// String names an opcode for logging.
func (o Opcode) String() string {
	switch o {
	case OpcodeSigma1:
		return "Sigma1"
	case OpcodeSigma2:
		return "Sigma2"
	case OpcodeSigma3:
		return "Sigma3"
	case OpcodeSigma2Resume:
		return "Sigma2Resume"
	case OpcodeStatusReport:
		return "StatusReport"
	default:
		return "Unknown"
	}
}

// Delegate receives session-establishment lifecycle callbacks. A single
// delegate instance is shared across every Session a node drives
// concurrently; the Session passed to each method identifies which
// handshake the callback concerns.
type Delegate interface {
	// OnSessionEstablishmentStarted fires once, when Listen or Establish
	// creates s (for Establish, before Sigma1 is sent).
	OnSessionEstablishmentStarted(s *Session)

	// OnSessionEstablished fires exactly once, when s transitions to
	// Established. It runs while s holds its internal mutex, which the
	// accessor methods (SessionKeys(), PeerNodeID(), ...) also take, so
	// calling them from inside this callback blocks; they return the
	// established values once the callback has returned.
	OnSessionEstablished(s *Session)

	// OnSessionEstablishmentError fires exactly once, when s transitions to
	// Failed. err wraps one of the sentinel errors in errors.go; when the
	// cause is a peer's failure StatusReport, the report's fields appear in
	// the error text.
	OnSessionEstablishmentError(s *Session, err error)
}

// FabricTable is the subset of fabric-table behaviour a responder Session
// needs: resolving which commissioned fabric a Sigma1's destination
// identifier targets, and the operational key paired with that fabric.
type FabricTable interface {
	// FindDestinationIDCandidate searches every commissioned fabric for the
	// one whose recomputed destination ID matches destinationID, given the
	// initiatorRandom carried in the same Sigma1.
	FindDestinationIDCandidate(destinationID [DestinationIDSize]byte, initiatorRandom [RandomSize]byte) (*fabric.FabricInfo, bool)

	// OperationalKey returns the private key paired with the given fabric's
	// NOC, used to sign TBSData2 (responder) or TBSData3 (initiator).
	OperationalKey(f *fabric.FabricInfo) (*crypto.P256KeyPair, error)
}
