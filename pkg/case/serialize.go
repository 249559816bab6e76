package casesession

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/fabricgate/case/pkg/crypto"
)

// persistedSessionVersion is the version byte of the serialized session
// form. Bump it whenever the field layout changes.
const persistedSessionVersion = 1

// PersistedSession is the subset of an Established Session's state that is
// worth keeping across a process restart or transport reconnect: enough to
// resume message encryption immediately and to attempt CASE resumption the
// next time this peer is contacted.
type PersistedSession struct {
	LocalSessionID uint16
	PeerSessionID  uint16
	PeerNodeID     uint64
	SharedSecret   [32]byte
	TranscriptHash [crypto.SHA256LenBytes]byte
	ResumptionID   [ResumptionIDSize]byte
	IPK            [crypto.SymmetricKeySize]byte
}

// Persist captures an Established session's resumable state. Returns
// ErrIncorrectState if the session has not reached Established.
func (s *Session) Persist() (*PersistedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Established {
		return nil, fmt.Errorf("%w: cannot persist a session that is not Established", ErrIncorrectState)
	}

	p := &PersistedSession{
		LocalSessionID: s.localSessionID,
		PeerSessionID:  s.peerSessionID,
		PeerNodeID:     s.peerNodeID,
		ResumptionID:   s.newResumptionID,
		IPK:            s.ipk,
	}
	copy(p.SharedSecret[:], s.sharedSecret)
	p.TranscriptHash = s.tr.hash()
	return p, nil
}

// fixedLayoutSize is the encoded size of PersistedSession excluding the
// leading version byte: two uint16 session ids, a uint64 node id, the
// 32-byte shared secret, the 32-byte transcript hash, the 16-byte
// resumption id, and the 16-byte IPK.
const fixedLayoutSize = 2 + 2 + 8 + 32 + crypto.SHA256LenBytes + ResumptionIDSize + crypto.SymmetricKeySize

// Encode serializes a PersistedSession to a version-prefixed, base64-wrapped blob.
func (p *PersistedSession) Encode() string {
	buf := make([]byte, 1+fixedLayoutSize)
	buf[0] = persistedSessionVersion

	off := 1
	binary.LittleEndian.PutUint16(buf[off:], p.LocalSessionID)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], p.PeerSessionID)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], p.PeerNodeID)
	off += 8
	copy(buf[off:], p.SharedSecret[:])
	off += len(p.SharedSecret)
	copy(buf[off:], p.TranscriptHash[:])
	off += len(p.TranscriptHash)
	copy(buf[off:], p.ResumptionID[:])
	off += len(p.ResumptionID)
	copy(buf[off:], p.IPK[:])

	return base64.StdEncoding.EncodeToString(buf)
}

// DecodePersistedSession parses a blob produced by Encode. Returns
// ErrVersionMismatch if the version byte is not one this build understands.
func DecodePersistedSession(blob string) (*PersistedSession, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCaseParameter, err)
	}
	if len(raw) != 1+fixedLayoutSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidCaseParameter, len(raw), 1+fixedLayoutSize)
	}
	if raw[0] != persistedSessionVersion {
		return nil, fmt.Errorf("%w: got version %d, want %d", ErrVersionMismatch, raw[0], persistedSessionVersion)
	}

	p := &PersistedSession{}
	off := 1
	p.LocalSessionID = binary.LittleEndian.Uint16(raw[off:])
	off += 2
	p.PeerSessionID = binary.LittleEndian.Uint16(raw[off:])
	off += 2
	p.PeerNodeID = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	copy(p.SharedSecret[:], raw[off:off+32])
	off += 32
	copy(p.TranscriptHash[:], raw[off:off+crypto.SHA256LenBytes])
	off += crypto.SHA256LenBytes
	copy(p.ResumptionID[:], raw[off:off+ResumptionIDSize])
	off += ResumptionIDSize
	copy(p.IPK[:], raw[off:off+crypto.SymmetricKeySize])

	return p, nil
}

// ToResumptionInfo builds the ResumptionInfo a future Establish call needs
// to attempt resuming this persisted session.
func (p *PersistedSession) ToResumptionInfo() *ResumptionInfo {
	secret := make([]byte, len(p.SharedSecret))
	copy(secret, p.SharedSecret[:])
	return &ResumptionInfo{
		ResumptionID: p.ResumptionID,
		SharedSecret: secret,
		PeerNodeID:   p.PeerNodeID,
	}
}
