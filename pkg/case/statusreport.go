package casesession

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// StatusReport is the fixed-layout (non-TLV) closing message of a CASE
// handshake. Unlike Sigma1/2/3 it is not TLV-encoded: it is a flat
// little-endian structure, matching the Secure Channel Status Report used
// throughout the protocol family.
type StatusReport struct {
	GeneralCode  GeneralCode
	ProtocolID   uint16
	ProtocolCode ProtocolCode
	ProtocolData []byte
}

// GeneralCode is the protocol-independent outcome of a Status Report.
type GeneralCode uint16

const (
	GeneralCodeSuccess         GeneralCode = 0x0000
	GeneralCodeFailure         GeneralCode = 0x0001
	GeneralCodeBadPrecondition GeneralCode = 0x0002
	GeneralCodeOutOfRange      GeneralCode = 0x0003
	GeneralCodeBadRequest      GeneralCode = 0x0004
	GeneralCodeUnsupported     GeneralCode = 0x0005
	GeneralCodeUnexpected      GeneralCode = 0x0006
	GeneralCodeResourceExhaust GeneralCode = 0x0007
	GeneralCodeBusy            GeneralCode = 0x0008
	GeneralCodeTimeout         GeneralCode = 0x0009
	GeneralCodeContinue        GeneralCode = 0x000A
	GeneralCodeAborted         GeneralCode = 0x000B
	GeneralCodeInvalidArgument GeneralCode = 0x000C
	GeneralCodeNotFound        GeneralCode = 0x000D
	GeneralCodeAlreadyExists   GeneralCode = 0x000E
	GeneralCodePermission      GeneralCode = 0x000F
	GeneralCodeDataLoss        GeneralCode = 0x0010
)

// secureChannelProtocolID is the Secure Channel protocol identifier carried in every
// CASE Status Report.
const secureChannelProtocolID uint16 = 0x0000

// ProtocolCode enumerates the CASE-specific outcomes carried in the
// protocol-code field of a Secure Channel Status Report.
type ProtocolCode uint16

const (
	// ProtocolCodeSuccess indicates the handshake completed successfully.
	ProtocolCodeSuccess ProtocolCode = 0x0000
	// ProtocolCodeInvalidParam indicates a malformed or invalid message field.
	ProtocolCodeInvalidParam ProtocolCode = 0x0002
	// ProtocolCodeNoSharedRoot indicates the responder found no fabric whose
	// trust root matches the initiator's destination identifier.
	ProtocolCodeNoSharedRoot ProtocolCode = 0x0003
	// ProtocolCodeCloseSession requests the peer close the session.
	ProtocolCodeCloseSession ProtocolCode = 0x0004
	// ProtocolCodeBusy indicates the responder is busy and suggests a retry delay.
	ProtocolCodeBusy ProtocolCode = 0x0005
)

// ErrInvalidStatusReport is returned when a Status Report buffer is malformed.
var ErrInvalidStatusReport = errors.New("case: malformed status report")

// statusReportMinSize is the fixed header size: GeneralCode(2) + ProtocolID(2) + ProtocolCode(2).
const statusReportMinSize = 6

// NewStatusReport builds a CASE Status Report.
func NewStatusReport(generalCode GeneralCode, protocolCode ProtocolCode, data []byte) *StatusReport {
	return &StatusReport{
		GeneralCode:  generalCode,
		ProtocolID:   secureChannelProtocolID,
		ProtocolCode: protocolCode,
		ProtocolData: data,
	}
}

// Success builds the Status(Success) report that closes a successful handshake.
func Success() *StatusReport {
	return NewStatusReport(GeneralCodeSuccess, ProtocolCodeSuccess, nil)
}

// NoSharedRoot builds the failure report sent when no fabric shares a trust root.
func NoSharedRoot() *StatusReport {
	return NewStatusReport(GeneralCodeNotFound, ProtocolCodeNoSharedRoot, nil)
}

// InvalidParam builds the failure report sent when a message fails validation.
func InvalidParam() *StatusReport {
	return NewStatusReport(GeneralCodeBadRequest, ProtocolCodeInvalidParam, nil)
}

// Busy builds a transient-failure report carrying a suggested retry delay in milliseconds.
func Busy(waitTimeMs uint16) *StatusReport {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, waitTimeMs)
	return NewStatusReport(GeneralCodeBusy, ProtocolCodeBusy, data)
}

// IsSuccess reports whether this report signals a successful handshake close.
func (r *StatusReport) IsSuccess() bool {
	return r.GeneralCode == GeneralCodeSuccess && r.ProtocolCode == ProtocolCodeSuccess
}

// Encode serializes the Status Report to its flat wire layout.
func (r *StatusReport) Encode() []byte {
	buf := make([]byte, statusReportMinSize+len(r.ProtocolData))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(r.GeneralCode))
	binary.LittleEndian.PutUint16(buf[2:4], r.ProtocolID)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(r.ProtocolCode))
	copy(buf[statusReportMinSize:], r.ProtocolData)
	return buf
}

// DecodeStatusReport parses a Status Report from its flat wire layout.
func DecodeStatusReport(data []byte) (*StatusReport, error) {
	if len(data) < statusReportMinSize {
		return nil, fmt.Errorf("%w: got %d bytes, want at least %d", ErrInvalidStatusReport, len(data), statusReportMinSize)
	}

	r := &StatusReport{
		GeneralCode:  GeneralCode(binary.LittleEndian.Uint16(data[0:2])),
		ProtocolID:   binary.LittleEndian.Uint16(data[2:4]),
		ProtocolCode: ProtocolCode(binary.LittleEndian.Uint16(data[4:6])),
	}
	if len(data) > statusReportMinSize {
		r.ProtocolData = append([]byte(nil), data[statusReportMinSize:]...)
	}
	return r, nil
}

// String renders a human-readable summary, useful in logs and delegate errors.
func (r *StatusReport) String() string {
	return fmt.Sprintf("StatusReport{General=0x%04X, Protocol=0x%04X, Code=0x%04X, DataLen=%d}",
		uint16(r.GeneralCode), r.ProtocolID, uint16(r.ProtocolCode), len(r.ProtocolData))
}

// Error implements the error interface so a failing StatusReport can be
// returned/wrapped directly as a Go error.
func (r *StatusReport) Error() string {
	return r.String()
}
