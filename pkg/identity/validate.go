// Package identity implements the CASE identity validator: the collaborator
// that turns a peer's raw NOC/ICAC chain into a verified node identity,
// bridging pkg/fabric's chain-shape validation with pkg/credentials'
// certificate-time handling to produce the casesession.ValidatePeerCertChainFunc
// callback a Session is configured with.
package identity

import (
	"fmt"
	"time"

	casesession "github.com/fabricgate/case/pkg/case"
	"github.com/fabricgate/case/pkg/credentials"
	"github.com/fabricgate/case/pkg/fabric"
)

// FallbackEffectiveTime is used when a Validator is constructed without an
// explicit clock and the local node has no other notion of current time
// (e.g. no synchronized real-time clock yet, a known gap for newly
// commissioned devices). Every certificate's NotBefore/NotAfter window is
// still checked against it, so a certificate whose window does not contain
// this date is rejected.
var FallbackEffectiveTime = time.Date(2021, 2, 12, 0, 0, 0, 0, time.UTC)

// Clock returns the time to validate certificate NotBefore/NotAfter windows
// against. Production callers inject a synchronized wall clock; tests
// inject a fixed time.
type Clock func() time.Time

// Validator validates a peer's NOC (+ optional ICAC) chain against a
// trusted root and extracts the peer's verified identity.
type Validator struct {
	clock Clock
}

// NewValidator creates a Validator. If clock is nil, FallbackEffectiveTime
// is used for every validation.
func NewValidator(clock Clock) *Validator {
	if clock == nil {
		clock = func() time.Time { return FallbackEffectiveTime }
	}
	return &Validator{clock: clock}
}

// Validate checks that noc (optionally via icac) chains to trustedRootCert,
// that every certificate's validity window covers the validator's current
// time, and returns the peer's node ID, fabric ID, and public key extracted
// from noc.
//
// This satisfies casesession.ValidatePeerCertChainFunc's signature via the
// AsPeerCertChainFunc adapter below.
func (v *Validator) Validate(noc, icac []byte, trustedRootCert []byte) (nodeID, fabricID uint64, publicKey [65]byte, err error) {
	if err := fabric.ValidateNOCChain(trustedRootCert, noc, icac); err != nil {
		return 0, 0, publicKey, fmt.Errorf("chain validation: %w", err)
	}

	now := v.clock()
	for _, certTLV := range [][]byte{trustedRootCert, icac, noc} {
		if len(certTLV) == 0 {
			continue // ICAC is optional
		}
		cert, err := fabric.ParseCertificate(certTLV)
		if err != nil {
			return 0, 0, publicKey, fmt.Errorf("parsing certificate: %w", err)
		}
		if !certValidAt(cert, now) {
			return 0, 0, publicKey, fmt.Errorf("certificate not valid at %s: window [%s, %s]",
				now, cert.NotBeforeTime(), cert.NotAfterTime())
		}
	}

	chainInfo, err := fabric.ExtractChainInfo(trustedRootCert, noc)
	if err != nil {
		return 0, 0, publicKey, fmt.Errorf("extracting chain info: %w", err)
	}

	nocCert, err := fabric.ParseCertificate(noc)
	if err != nil {
		return 0, 0, publicKey, fmt.Errorf("parsing NOC: %w", err)
	}
	if len(nocCert.ECPubKey) != len(publicKey) {
		return 0, 0, publicKey, fmt.Errorf("NOC public key has unexpected length %d", len(nocCert.ECPubKey))
	}
	copy(publicKey[:], nocCert.ECPubKey)

	return uint64(chainInfo.NodeID), uint64(chainInfo.FabricID), publicKey, nil
}

// certValidAt reports whether now falls within cert's NotBefore/NotAfter
// window. NotAfter == 0 means "no well-defined expiration" per the Matter
// certificate format.
func certValidAt(cert *credentials.Certificate, now time.Time) bool {
	if now.Before(cert.NotBeforeTime()) {
		return false
	}
	if cert.NotAfter == 0 {
		return true
	}
	return !now.After(cert.NotAfterTime())
}

// AsPeerCertChainFunc adapts Validate to casesession.ValidatePeerCertChainFunc
// for a responder serving multiple fabrics: each call resolves the trusted
// root's full TLV certificate from table by the per-handshake root public
// key the Session passes, rather than binding a single fabric's root at
// construction. A root public key with no matching fabric in table fails
// closed.
func (v *Validator) AsPeerCertChainFunc(table *fabric.Table) casesession.ValidatePeerCertChainFunc {
	return func(noc, icac []byte, trustedRootPubKey [65]byte) (*casesession.PeerCertInfo, error) {
		var rootPubKey [fabric.RootPublicKeySize]byte
		copy(rootPubKey[:], trustedRootPubKey[:])
		info, ok := table.FindByRootPublicKey(rootPubKey)
		if !ok {
			return nil, fmt.Errorf("no fabric trusts root public key %x", trustedRootPubKey)
		}
		nodeID, fabricID, pubKey, err := v.Validate(noc, icac, info.RootCert)
		if err != nil {
			return nil, err
		}
		return &casesession.PeerCertInfo{NodeID: nodeID, FabricID: fabricID, PublicKey: pubKey}, nil
	}
}
