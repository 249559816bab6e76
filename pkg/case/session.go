package casesession

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/pion/logging"

	"github.com/fabricgate/case/pkg/crypto"
	"github.com/fabricgate/case/pkg/fabric"
)

// Session drives one CASE handshake from end to end. It is created either by
// Listen (responder, waiting for an inbound Sigma1) or Establish (initiator,
// sending Sigma1 immediately), then fed every subsequent inbound message
// through OnMessage and any retransmission-exhaustion event through
// OnTimeout. A Session never touches a socket: all wire I/O happens through
// the Exchange it is handed, and all outcome notifications happen through
// its Delegate.
//
// A Session is safe for concurrent use; OnMessage/OnTimeout serialize
// against each other and against the accessor methods.
type Session struct {
	role  Role
	state State

	// Our fabric credentials. For the initiator this is supplied up front;
	// for the responder it is resolved from fabricTable once Sigma1 arrives.
	fabricInfo     *fabric.FabricInfo
	operationalKey *crypto.P256KeyPair
	targetNodeID   uint64 // initiator: the peer node ID we want to reach

	fabricTable   FabricTable                // responder: resolves fabric from destination ID
	certValidator ValidatePeerCertChainFunc  // optional; skips cert/signature checks when nil
	delegate      Delegate
	exchange      Exchange

	localSessionID uint16
	peerSessionID  uint16

	localRandom [RandomSize]byte
	peerRandom  [RandomSize]byte

	ephKeyPair    *crypto.P256KeyPair
	peerEphPubKey [crypto.P256PublicKeySizeBytes]byte

	sharedSecret []byte
	ipk          [crypto.SymmetricKeySize]byte

	resumptionInfo   *ResumptionInfo // initiator: previous session, if attempting resumption
	resumptionLookup resumptionLookupFunc
	newResumptionID  [ResumptionIDSize]byte

	msg1Bytes []byte
	msg2Bytes []byte
	msg3Bytes []byte
	tr        transcript

	sessionKeys    *SessionKeys
	usedResumption bool

	peerNOC    []byte
	peerICAC   []byte
	peerNodeID uint64

	localMRPParams *MRPParameters
	peerMRPParams  *MRPParameters

	rand io.Reader

	log logging.LeveledLogger

	mu sync.Mutex
}

// WithLogger attaches a logger for state-transition and handshake-outcome
// messages (never key material). Nil (the default) disables logging
// entirely rather than falling back to a default factory, since a Session
// has no identifying name of its own to log under until the caller
// supplies one.
func (s *Session) WithLogger(log logging.LeveledLogger) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = log
	return s
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Debugf(format, args...)
	}
}

// Listen creates a CASE session ready to accept an inbound Sigma1 as
// responder. The returned Session's first OnMessage call must carry
// OpcodeSigma1; any other opcode is rejected per the Idle row of the state
// table.
func Listen(localSessionID uint16, fabricTable FabricTable, certValidator ValidatePeerCertChainFunc, delegate Delegate) *Session {
	s := &Session{
		role:           RoleResponder,
		state:          Idle,
		localSessionID: localSessionID,
		fabricTable:    fabricTable,
		certValidator:  certValidator,
		delegate:       delegate,
		rand:           rand.Reader,
	}
	if delegate != nil {
		delegate.OnSessionEstablishmentStarted(s)
	}
	return s
}

// Establish creates a CASE session as initiator, immediately builds Sigma1
// and sends it over exchange. If resumptionInfo is non-nil, Sigma1 carries
// the resumption fields and the session enters Sent1 expecting either
// Sigma2 (full handshake fallback) or Sigma2Resume.
func Establish(
	fabricInfo *fabric.FabricInfo,
	operationalKey *crypto.P256KeyPair,
	targetNodeID uint64,
	localSessionID uint16,
	exchange Exchange,
	certValidator ValidatePeerCertChainFunc,
	delegate Delegate,
	resumptionInfo *ResumptionInfo,
	mrpParams *MRPParameters,
) (*Session, error) {
	if fabricInfo == nil || operationalKey == nil || exchange == nil {
		return nil, fmt.Errorf("%w: fabricInfo, operationalKey and exchange are required", ErrInvalidArgument)
	}
	if localSessionID == 0 {
		return nil, fmt.Errorf("%w: localSessionID must be nonzero", ErrInvalidArgument)
	}

	ipkSlice, err := crypto.DeriveGroupOperationalKeyV1(fabricInfo.IPK[:], fabricInfo.CompressedFabricID[:])
	if err != nil {
		return nil, fmt.Errorf("%w: deriving IPK: %v", ErrInternal, err)
	}

	s := &Session{
		role:           RoleInitiator,
		state:          Idle,
		fabricInfo:     fabricInfo,
		operationalKey: operationalKey,
		targetNodeID:   targetNodeID,
		localSessionID: localSessionID,
		exchange:       exchange,
		certValidator:  certValidator,
		delegate:       delegate,
		resumptionInfo: resumptionInfo,
		localMRPParams: mrpParams,
		rand:           rand.Reader,
	}
	copy(s.ipk[:], ipkSlice)

	if delegate != nil {
		delegate.OnSessionEstablishmentStarted(s)
	}

	if err := s.sendSigma1(); err != nil {
		s.failLocked(err)
		return s, err
	}
	return s, nil
}

func (s *Session) sendSigma1() error {
	if _, err := io.ReadFull(s.rand, s.localRandom[:]); err != nil {
		return fmt.Errorf("%w: generating initiator random: %v", ErrInternal, err)
	}

	var err error
	s.ephKeyPair, err = crypto.P256GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("%w: generating ephemeral key: %v", ErrInternal, err)
	}

	var rootPubKey [crypto.P256PublicKeySizeBytes]byte
	copy(rootPubKey[:], s.fabricInfo.RootPublicKey[:])

	destinationID := GenerateDestinationID(
		s.localRandom,
		rootPubKey,
		uint64(s.fabricInfo.FabricID),
		s.targetNodeID,
		s.ipk,
	)

	sigma1 := &Sigma1{
		InitiatorRandom:    s.localRandom,
		InitiatorSessionID: s.localSessionID,
		DestinationID:      destinationID,
		MRPParams:          s.localMRPParams,
	}
	copy(sigma1.InitiatorEphPubKey[:], s.ephKeyPair.P256PublicKey())

	if s.resumptionInfo != nil {
		sigma1.ResumptionID = &s.resumptionInfo.ResumptionID

		s1rk, err := DeriveS1RK(s.resumptionInfo.SharedSecret, s.localRandom, s.resumptionInfo.ResumptionID)
		if err != nil {
			return fmt.Errorf("%w: deriving S1RK: %v", ErrInternal, err)
		}
		mic, err := ComputeResumeMIC(s1rk, Resume1Nonce)
		if err != nil {
			return fmt.Errorf("%w: computing Resume1MIC: %v", ErrInternal, err)
		}
		sigma1.InitiatorResumeMIC = &mic
	}

	msg1Bytes, err := sigma1.Encode()
	if err != nil {
		return fmt.Errorf("%w: encoding Sigma1: %v", ErrInternal, err)
	}
	s.msg1Bytes = msg1Bytes
	s.tr.append(msg1Bytes)

	if err := s.exchange.SendMessage(OpcodeSigma1, msg1Bytes); err != nil {
		return fmt.Errorf("%w: sending Sigma1: %v", ErrInternal, err)
	}

	s.state = Sent1
	return nil
}

// OnMessage dispatches an inbound CASE message against the current state.
// exchange identifies where to send any resulting reply; for a responder's
// first message (Sigma1) this is also how the session learns which Exchange
// to use for the rest of the handshake.
func (s *Session) OnMessage(exchange Exchange, opcode Opcode, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exchange == nil {
		s.exchange = exchange
	}

	s.logf("case: received %s in state %s", opcode, s.state)
	err := s.dispatch(opcode, payload)
	if err != nil {
		s.failLocked(err)
	}
	return err
}

func (s *Session) dispatch(opcode Opcode, payload []byte) error {
	switch {
	case s.state == Idle && s.role == RoleResponder && opcode == OpcodeSigma1:
		return s.onSigma1(payload)
	case s.state == Sent1 && s.role == RoleInitiator && opcode == OpcodeSigma2:
		return s.onSigma2(payload)
	case s.state == Sent1 && s.role == RoleInitiator && opcode == OpcodeSigma2Resume:
		return s.onSigma2Resume(payload)
	case s.state == Sent1 && opcode == OpcodeStatusReport:
		return s.onStatusReportFailure(payload)
	case s.state == Sent2 && s.role == RoleResponder && opcode == OpcodeSigma3:
		return s.onSigma3(payload)
	case s.state == Sent2 && opcode == OpcodeStatusReport:
		return s.onStatusReportFailure(payload)
	case s.state == Sent2Resume && opcode == OpcodeStatusReport:
		return s.onStatusReportAfterResume(payload)
	case s.state == Sent3 && opcode == OpcodeStatusReport:
		return s.onStatusReportAfterSigma3(payload)
	default:
		return fmt.Errorf("%w: opcode %s invalid in state %s", ErrIncorrectState, opcode, s.state)
	}
}

func (s *Session) onSigma1(data []byte) error {
	sigma1, err := DecodeSigma1(data)
	if err != nil {
		s.sendStatus(InvalidParam())
		return fmt.Errorf("%w: decoding Sigma1: %v", ErrInvalidCaseParameter, err)
	}

	hasResumptionID := sigma1.ResumptionID != nil
	hasResumeMIC := sigma1.InitiatorResumeMIC != nil
	if hasResumptionID != hasResumeMIC {
		s.sendStatus(InvalidParam())
		return fmt.Errorf("%w: resumption fields present singly", ErrInvalidCaseParameter)
	}

	s.msg1Bytes = data
	s.tr.append(data)
	s.peerSessionID = sigma1.InitiatorSessionID
	s.peerRandom = sigma1.InitiatorRandom
	s.peerMRPParams = sigma1.MRPParams
	copy(s.peerEphPubKey[:], sigma1.InitiatorEphPubKey[:])

	if hasResumptionID {
		if info, secret, opKey, ok := s.lookupResumption(*sigma1.ResumptionID); ok {
			s1rk, err := DeriveS1RK(secret, sigma1.InitiatorRandom, *sigma1.ResumptionID)
			if err == nil && VerifyResumeMIC(s1rk, Resume1Nonce, *sigma1.InitiatorResumeMIC) {
				s.fabricInfo = info
				s.operationalKey = opKey
				s.sharedSecret = secret

				ipkSlice, err := crypto.DeriveGroupOperationalKeyV1(info.IPK[:], info.CompressedFabricID[:])
				if err != nil {
					return fmt.Errorf("%w: deriving IPK: %v", ErrInternal, err)
				}
				copy(s.ipk[:], ipkSlice)

				return s.sendSigma2Resume(sigma1)
			}
			// Resume1MIC failed to verify: fall back to a full handshake
			// rather than failing the session outright.
		}
	}

	info, ok := s.fabricTable.FindDestinationIDCandidate(sigma1.DestinationID, sigma1.InitiatorRandom)
	if !ok {
		s.sendStatus(NoSharedRoot())
		return fmt.Errorf("%w: no fabric matches destination identifier", ErrKeyNotFound)
	}
	opKey, err := s.fabricTable.OperationalKey(info)
	if err != nil {
		return fmt.Errorf("%w: resolving operational key: %v", ErrKeyNotFound, err)
	}
	s.fabricInfo = info
	s.operationalKey = opKey

	ipkSlice, err := crypto.DeriveGroupOperationalKeyV1(info.IPK[:], info.CompressedFabricID[:])
	if err != nil {
		return fmt.Errorf("%w: deriving IPK: %v", ErrInternal, err)
	}
	copy(s.ipk[:], ipkSlice)

	return s.sendSigma2(sigma1)
}

// lookupResumption resolves a resumption ID through the lookup function set
// by WithResumptionLookup. FabricTable does not store resumption entries
// and is not consulted here. With no lookup set, resumption is treated as a
// miss and the handshake falls back to full Sigma1/2/3.
func (s *Session) lookupResumption(resumptionID [ResumptionIDSize]byte) (*fabric.FabricInfo, []byte, *crypto.P256KeyPair, bool) {
	if s.resumptionLookup == nil {
		return nil, nil, nil, false
	}
	return s.resumptionLookup(resumptionID)
}

func (s *Session) sendSigma2(sigma1 *Sigma1) error {
	if _, err := io.ReadFull(s.rand, s.localRandom[:]); err != nil {
		return fmt.Errorf("%w: generating responder random: %v", ErrInternal, err)
	}

	var err error
	s.ephKeyPair, err = crypto.P256GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("%w: generating ephemeral key: %v", ErrInternal, err)
	}
	if _, err := io.ReadFull(s.rand, s.newResumptionID[:]); err != nil {
		return fmt.Errorf("%w: generating resumption id: %v", ErrInternal, err)
	}

	s.sharedSecret, err = crypto.P256ECDH(s.ephKeyPair, sigma1.InitiatorEphPubKey[:])
	if err != nil {
		return fmt.Errorf("%w: computing ECDH shared secret: %v", ErrInternal, err)
	}

	var responderEphPubKey [crypto.P256PublicKeySizeBytes]byte
	copy(responderEphPubKey[:], s.ephKeyPair.P256PublicKey())

	tbsData2 := &TBSData2{
		ResponderNOC:       s.fabricInfo.NOC,
		ResponderICAC:      s.fabricInfo.ICAC,
		ResponderEphPubKey: responderEphPubKey,
		InitiatorEphPubKey: sigma1.InitiatorEphPubKey,
	}
	tbsData2Bytes, err := tbsData2.Encode()
	if err != nil {
		return fmt.Errorf("%w: encoding TBSData2: %v", ErrInternal, err)
	}
	signature, err := crypto.P256Sign(s.operationalKey, tbsData2Bytes)
	if err != nil {
		return fmt.Errorf("%w: signing TBSData2: %v", ErrInternal, err)
	}

	tbeData2 := &TBEData2{
		ResponderNOC:  s.fabricInfo.NOC,
		ResponderICAC: s.fabricInfo.ICAC,
		ResumptionID:  s.newResumptionID,
	}
	copy(tbeData2.Signature[:], signature)
	tbeData2Bytes, err := tbeData2.Encode()
	if err != nil {
		return fmt.Errorf("%w: encoding TBEData2: %v", ErrInternal, err)
	}

	s2k, err := DeriveS2K(s.sharedSecret, s.ipk, s.localRandom, responderEphPubKey, s.msg1Bytes)
	if err != nil {
		return fmt.Errorf("%w: deriving S2K: %v", ErrInternal, err)
	}
	encrypted2, err := EncryptTBEData(s2k, tbeData2Bytes, Sigma2Nonce, nil)
	if err != nil {
		return fmt.Errorf("%w: encrypting TBEData2: %v", ErrInternal, err)
	}

	sigma2 := &Sigma2{
		ResponderRandom:    s.localRandom,
		ResponderSessionID: s.localSessionID,
		ResponderEphPubKey: responderEphPubKey,
		Encrypted2:         encrypted2,
		MRPParams:          s.localMRPParams,
	}
	msg2Bytes, err := sigma2.Encode()
	if err != nil {
		return fmt.Errorf("%w: encoding Sigma2: %v", ErrInternal, err)
	}
	s.msg2Bytes = msg2Bytes
	s.tr.append(msg2Bytes)

	if err := s.exchange.SendMessage(OpcodeSigma2, msg2Bytes); err != nil {
		return fmt.Errorf("%w: sending Sigma2: %v", ErrInternal, err)
	}

	s.state = Sent2
	return nil
}

func (s *Session) sendSigma2Resume(sigma1 *Sigma1) error {
	if _, err := io.ReadFull(s.rand, s.newResumptionID[:]); err != nil {
		return fmt.Errorf("%w: generating resumption id: %v", ErrInternal, err)
	}

	s2rk, err := DeriveS2RK(s.sharedSecret, sigma1.InitiatorRandom, s.newResumptionID)
	if err != nil {
		return fmt.Errorf("%w: deriving S2RK: %v", ErrInternal, err)
	}
	resume2MIC, err := ComputeResumeMIC(s2rk, Resume2Nonce)
	if err != nil {
		return fmt.Errorf("%w: computing Resume2MIC: %v", ErrInternal, err)
	}

	sigma2Resume := &Sigma2Resume{
		ResumptionID:       s.newResumptionID,
		Resume2MIC:         resume2MIC,
		ResponderSessionID: s.localSessionID,
		MRPParams:          s.localMRPParams,
	}
	msg2Bytes, err := sigma2Resume.Encode()
	if err != nil {
		return fmt.Errorf("%w: encoding Sigma2Resume: %v", ErrInternal, err)
	}
	s.msg2Bytes = msg2Bytes
	s.usedResumption = true

	s.sessionKeys, err = DeriveResumptionSessionKeys(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes)
	if err != nil {
		return fmt.Errorf("%w: deriving resumption session keys: %v", ErrInternal, err)
	}

	if err := s.exchange.SendMessage(OpcodeSigma2Resume, msg2Bytes); err != nil {
		return fmt.Errorf("%w: sending Sigma2Resume: %v", ErrInternal, err)
	}

	s.state = Sent2Resume
	return nil
}

func (s *Session) onSigma2(data []byte) error {
	sigma2, err := DecodeSigma2(data)
	if err != nil {
		s.sendStatus(InvalidParam())
		return fmt.Errorf("%w: decoding Sigma2: %v", ErrInvalidCaseParameter, err)
	}

	s.msg2Bytes = data
	s.tr.append(data)
	s.peerSessionID = sigma2.ResponderSessionID
	s.peerRandom = sigma2.ResponderRandom
	s.peerMRPParams = sigma2.MRPParams
	copy(s.peerEphPubKey[:], sigma2.ResponderEphPubKey[:])

	s.sharedSecret, err = crypto.P256ECDH(s.ephKeyPair, sigma2.ResponderEphPubKey[:])
	if err != nil {
		return fmt.Errorf("%w: computing ECDH shared secret: %v", ErrInternal, err)
	}

	s2k, err := DeriveS2K(s.sharedSecret, s.ipk, sigma2.ResponderRandom, sigma2.ResponderEphPubKey, s.msg1Bytes)
	if err != nil {
		return fmt.Errorf("%w: deriving S2K: %v", ErrInternal, err)
	}
	tbeData2Bytes, err := DecryptTBEData(s2k, sigma2.Encrypted2, Sigma2Nonce, nil)
	if err != nil {
		s.sendStatus(InvalidParam())
		return fmt.Errorf("%w: decrypting TBEData2: %v", ErrInvalidCaseMIC, err)
	}
	tbeData2, err := DecodeTBEData2(tbeData2Bytes)
	if err != nil {
		return fmt.Errorf("%w: decoding TBEData2: %v", ErrInvalidCaseParameter, err)
	}

	s.peerNOC = tbeData2.ResponderNOC
	s.peerICAC = tbeData2.ResponderICAC
	s.newResumptionID = tbeData2.ResumptionID

	if s.certValidator != nil {
		peerCertInfo, err := s.certValidator(tbeData2.ResponderNOC, tbeData2.ResponderICAC, s.fabricInfo.RootPublicKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoSharedTrustedRoot, err)
		}
		if peerCertInfo.NodeID != s.targetNodeID {
			return fmt.Errorf("%w: peer node ID %d does not match target %d", ErrInvalidCaseParameter, peerCertInfo.NodeID, s.targetNodeID)
		}
		s.peerNodeID = peerCertInfo.NodeID

		var initiatorEphPubKey [crypto.P256PublicKeySizeBytes]byte
		copy(initiatorEphPubKey[:], s.ephKeyPair.P256PublicKey())

		tbsData2 := &TBSData2{
			ResponderNOC:       tbeData2.ResponderNOC,
			ResponderICAC:      tbeData2.ResponderICAC,
			ResponderEphPubKey: sigma2.ResponderEphPubKey,
			InitiatorEphPubKey: initiatorEphPubKey,
		}
		tbsData2Bytes, err := tbsData2.Encode()
		if err != nil {
			return fmt.Errorf("%w: encoding TBSData2 for verification: %v", ErrInternal, err)
		}
		valid, err := crypto.P256Verify(peerCertInfo.PublicKey[:], tbsData2Bytes, tbeData2.Signature[:])
		if err != nil || !valid {
			return fmt.Errorf("%w: TBSData2 signature", ErrInvalidCaseSignature)
		}
	}

	return s.sendSigma3()
}

func (s *Session) sendSigma3() error {
	var initiatorEphPubKey [crypto.P256PublicKeySizeBytes]byte
	copy(initiatorEphPubKey[:], s.ephKeyPair.P256PublicKey())

	tbsData3 := &TBSData3{
		InitiatorNOC:       s.fabricInfo.NOC,
		InitiatorICAC:      s.fabricInfo.ICAC,
		InitiatorEphPubKey: initiatorEphPubKey,
		ResponderEphPubKey: s.peerEphPubKey,
	}
	tbsData3Bytes, err := tbsData3.Encode()
	if err != nil {
		return fmt.Errorf("%w: encoding TBSData3: %v", ErrInternal, err)
	}
	signature, err := crypto.P256Sign(s.operationalKey, tbsData3Bytes)
	if err != nil {
		return fmt.Errorf("%w: signing TBSData3: %v", ErrInternal, err)
	}

	tbeData3 := &TBEData3{
		InitiatorNOC:  s.fabricInfo.NOC,
		InitiatorICAC: s.fabricInfo.ICAC,
	}
	copy(tbeData3.Signature[:], signature)
	tbeData3Bytes, err := tbeData3.Encode()
	if err != nil {
		return fmt.Errorf("%w: encoding TBEData3: %v", ErrInternal, err)
	}

	s3k, err := DeriveS3K(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes)
	if err != nil {
		return fmt.Errorf("%w: deriving S3K: %v", ErrInternal, err)
	}
	encrypted3, err := EncryptTBEData(s3k, tbeData3Bytes, Sigma3Nonce, nil)
	if err != nil {
		return fmt.Errorf("%w: encrypting TBEData3: %v", ErrInternal, err)
	}

	sigma3 := &Sigma3{Encrypted3: encrypted3}
	msg3Bytes, err := sigma3.Encode()
	if err != nil {
		return fmt.Errorf("%w: encoding Sigma3: %v", ErrInternal, err)
	}
	s.msg3Bytes = msg3Bytes
	s.tr.append(msg3Bytes)

	// Keys are derivable now; the initiator commits to Established only
	// after the responder's closing Status(Success) confirms Sigma3 was
	// accepted (Sent3 row of the state table).
	s.sessionKeys, err = DeriveSessionKeys(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes, s.msg3Bytes)
	if err != nil {
		return fmt.Errorf("%w: deriving session keys: %v", ErrInternal, err)
	}

	if err := s.exchange.SendMessage(OpcodeSigma3, msg3Bytes); err != nil {
		return fmt.Errorf("%w: sending Sigma3: %v", ErrInternal, err)
	}

	s.state = Sent3
	return nil
}

func (s *Session) onSigma3(data []byte) error {
	sigma3, err := DecodeSigma3(data)
	if err != nil {
		s.sendStatus(InvalidParam())
		return fmt.Errorf("%w: decoding Sigma3: %v", ErrInvalidCaseParameter, err)
	}
	s.msg3Bytes = data
	s.tr.append(data)

	s3k, err := DeriveS3K(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes)
	if err != nil {
		return fmt.Errorf("%w: deriving S3K: %v", ErrInternal, err)
	}
	tbeData3Bytes, err := DecryptTBEData(s3k, sigma3.Encrypted3, Sigma3Nonce, nil)
	if err != nil {
		s.sendStatus(InvalidParam())
		return fmt.Errorf("%w: decrypting TBEData3: %v", ErrInvalidCaseMIC, err)
	}
	tbeData3, err := DecodeTBEData3(tbeData3Bytes)
	if err != nil {
		return fmt.Errorf("%w: decoding TBEData3: %v", ErrInvalidCaseParameter, err)
	}

	s.peerNOC = tbeData3.InitiatorNOC
	s.peerICAC = tbeData3.InitiatorICAC

	if s.certValidator != nil {
		peerCertInfo, err := s.certValidator(tbeData3.InitiatorNOC, tbeData3.InitiatorICAC, s.fabricInfo.RootPublicKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoSharedTrustedRoot, err)
		}
		if peerCertInfo.FabricID != uint64(s.fabricInfo.FabricID) {
			return fmt.Errorf("%w: peer fabric ID %d does not match %d", ErrInvalidCaseParameter, peerCertInfo.FabricID, s.fabricInfo.FabricID)
		}
		s.peerNodeID = peerCertInfo.NodeID

		var responderEphPubKey [crypto.P256PublicKeySizeBytes]byte
		copy(responderEphPubKey[:], s.ephKeyPair.P256PublicKey())

		tbsData3 := &TBSData3{
			InitiatorNOC:       tbeData3.InitiatorNOC,
			InitiatorICAC:      tbeData3.InitiatorICAC,
			InitiatorEphPubKey: s.peerEphPubKey,
			ResponderEphPubKey: responderEphPubKey,
		}
		tbsData3Bytes, err := tbsData3.Encode()
		if err != nil {
			return fmt.Errorf("%w: encoding TBSData3 for verification: %v", ErrInternal, err)
		}
		valid, err := crypto.P256Verify(peerCertInfo.PublicKey[:], tbsData3Bytes, tbeData3.Signature[:])
		if err != nil || !valid {
			return fmt.Errorf("%w: TBSData3 signature", ErrInvalidCaseSignature)
		}
	}

	s.sessionKeys, err = DeriveSessionKeys(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes, s.msg3Bytes)
	if err != nil {
		return fmt.Errorf("%w: deriving session keys: %v", ErrInternal, err)
	}

	if err := s.exchange.SendMessage(OpcodeStatusReport, Success().Encode()); err != nil {
		return fmt.Errorf("%w: sending closing status report: %v", ErrInternal, err)
	}

	s.establish()
	return nil
}

func (s *Session) onStatusReportAfterSigma3(payload []byte) error {
	report, err := DecodeStatusReport(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCaseParameter, err)
	}
	if !report.IsSuccess() {
		return fmt.Errorf("%w: %s", ErrIncorrectState, report)
	}
	s.establish()
	return nil
}

func (s *Session) onSigma2Resume(data []byte) error {
	if s.resumptionInfo == nil {
		return fmt.Errorf("%w: no resumption info available for Sigma2Resume", ErrIncorrectState)
	}

	sigma2Resume, err := DecodeSigma2Resume(data)
	if err != nil {
		s.sendStatus(InvalidParam())
		return fmt.Errorf("%w: decoding Sigma2Resume: %v", ErrInvalidCaseParameter, err)
	}

	s.msg2Bytes = data
	s.peerSessionID = sigma2Resume.ResponderSessionID
	s.peerMRPParams = sigma2Resume.MRPParams
	s.newResumptionID = sigma2Resume.ResumptionID
	s.sharedSecret = s.resumptionInfo.SharedSecret

	s2rk, err := DeriveS2RK(s.sharedSecret, s.localRandom, sigma2Resume.ResumptionID)
	if err != nil {
		return fmt.Errorf("%w: deriving S2RK: %v", ErrInternal, err)
	}
	if !VerifyResumeMIC(s2rk, Resume2Nonce, sigma2Resume.Resume2MIC) {
		s.sendStatus(InvalidParam())
		return fmt.Errorf("%w: Resume2MIC", ErrInvalidCaseMIC)
	}

	s.sessionKeys, err = DeriveResumptionSessionKeys(s.sharedSecret, s.ipk, s.msg1Bytes, s.msg2Bytes)
	if err != nil {
		return fmt.Errorf("%w: deriving resumption session keys: %v", ErrInternal, err)
	}
	s.usedResumption = true

	if err := s.exchange.SendMessage(OpcodeStatusReport, Success().Encode()); err != nil {
		return fmt.Errorf("%w: sending closing status report: %v", ErrInternal, err)
	}

	s.establish()
	return nil
}

func (s *Session) onStatusReportAfterResume(payload []byte) error {
	report, err := DecodeStatusReport(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCaseParameter, err)
	}
	if !report.IsSuccess() {
		return fmt.Errorf("%w: %s", ErrIncorrectState, report)
	}
	s.establish()
	return nil
}

func (s *Session) onStatusReportFailure(payload []byte) error {
	report, err := DecodeStatusReport(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCaseParameter, err)
	}
	if report.ProtocolCode == ProtocolCodeNoSharedRoot {
		return fmt.Errorf("%w: %s", ErrNoSharedTrustedRoot, report)
	}
	return fmt.Errorf("%w: %s", ErrIncorrectState, report)
}

// OnTimeout fails the session when the exchange's retransmission budget is
// exhausted before Established is reached. It is a no-op once the session
// has already reached a terminal state.
func (s *Session) OnTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Established || s.state == Failed {
		return
	}
	s.failLocked(ErrTimeout)
}

func (s *Session) establish() {
	s.state = Established
	s.logf("case: session established, role=%s peerNodeID=0x%X resumed=%v", s.role, s.peerNodeID, s.usedResumption)
	s.exchange.Close()
	if s.delegate != nil {
		s.delegate.OnSessionEstablished(s)
	}
}

func (s *Session) failLocked(err error) {
	if s.state == Failed || s.state == Established {
		return
	}
	s.state = Failed
	s.zeroize()
	s.logf("case: session failed, role=%s state=%s: %v", s.role, s.state, err)
	if s.exchange != nil {
		s.exchange.Close()
	}
	if s.delegate != nil {
		s.delegate.OnSessionEstablishmentError(s, err)
	}
}

// zeroize overwrites the shared secret, the IPK and any derived session keys
// when the session fails. It is not called on Established, and it does not
// overwrite the ephemeral key pair.
func (s *Session) zeroize() {
	for i := range s.sharedSecret {
		s.sharedSecret[i] = 0
	}
	for i := range s.ipk {
		s.ipk[i] = 0
	}
	if s.state != Established {
		s.sessionKeys.Zeroize()
	}
}

func (s *Session) sendStatus(report *StatusReport) {
	s.logf("case: sending status report %s", report)
	if s.exchange == nil {
		return
	}
	_ = s.exchange.SendMessage(OpcodeStatusReport, report.Encode())
}

// SessionKeys returns the derived session keys. Only valid once State() is Established.
func (s *Session) SessionKeys() (*SessionKeys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Established {
		return nil, fmt.Errorf("%w: session not yet established", ErrIncorrectState)
	}
	return s.sessionKeys, nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns whether this session is the initiator or responder.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// LocalSessionID returns our session ID.
func (s *Session) LocalSessionID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localSessionID
}

// PeerSessionID returns the peer's session ID.
func (s *Session) PeerSessionID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerSessionID
}

// UsedResumption returns whether session resumption was used.
func (s *Session) UsedResumption() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedResumption
}

// ResumptionID returns the new resumption ID established for future resumption.
func (s *Session) ResumptionID() [ResumptionIDSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newResumptionID
}

// SharedSecret returns a copy of the ECDH shared secret, for resumption storage.
func (s *Session) SharedSecret() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret := make([]byte, len(s.sharedSecret))
	copy(secret, s.sharedSecret)
	return secret
}

// PeerNodeID returns the peer's validated operational node ID.
// Only meaningful once a certValidator has run (initiator: Sent3 onward;
// responder: Established).
func (s *Session) PeerNodeID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerNodeID
}

// PeerMRPParams returns the peer's MRP parameters (if provided).
func (s *Session) PeerMRPParams() *MRPParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerMRPParams
}

// Fabric returns the fabric this session authenticated against. For a
// responder this is only populated once Sigma1 has been processed.
func (s *Session) Fabric() *fabric.FabricInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fabricInfo
}

// resumptionLookup is set by WithResumptionLookup; kept separate from
// FabricTable because resumption-store lookups (pkg/case/resumption) are a
// distinct collaborator from fabric-table lookups.
type resumptionLookupFunc func(resumptionID [ResumptionIDSize]byte) (*fabric.FabricInfo, []byte, *crypto.P256KeyPair, bool)

// WithResumptionLookup wires a responder session to a resumption store.
// Must be called before OnMessage processes Sigma1.
func (s *Session) WithResumptionLookup(lookup resumptionLookupFunc) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumptionLookup = lookup
	return s
}
