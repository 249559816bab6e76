package casesession

import "github.com/fabricgate/case/pkg/crypto"

// transcript accumulates the raw wire bytes of each handshake message in
// order, so that TranscriptHash(Msg1 || ... || MsgN) can be computed without
// re-concatenating (and risking backing-array aliasing between) the
// individually retained message buffers.
//
// Each message is appended to the transcript exactly once, at the point the
// session sends or accepts it - never recomputed from session state.
type transcript struct {
	buf []byte
}

// append adds a message's raw bytes to the transcript.
func (t *transcript) append(msgBytes []byte) {
	t.buf = append(t.buf, msgBytes...)
}

// hash returns SHA-256 of the bytes appended so far.
func (t *transcript) hash() [crypto.SHA256LenBytes]byte {
	return crypto.SHA256(t.buf)
}

// bytes returns the accumulated raw bytes.
func (t *transcript) bytes() []byte {
	return t.buf
}
