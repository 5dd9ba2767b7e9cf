// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"crypto/elliptic"
	"math/big"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/frostcluster/tss/crypto"
	"github.com/frostcluster/tss/crypto/frost"
)

// signerKey bundles a completed signing replica with the ciphersuite it
// runs under, since frost.KeyShare itself carries no ciphersuite tag (the
// tag only matters for picking the curve, already resolved once at DKG
// completion).
type signerKey struct {
	session     *SignerSignSession
	ciphersuite Ciphersuite
}

// signAggregation tracks one subset's extended-mode signing shares while
// this signer acts as the subset's designated aggregator (§4.2): shares
// arrive one at a time, some relayed from other signers and one computed
// locally, until expect of them have accumulated and frost.Aggregate can
// run.
type signAggregation struct {
	curve  elliptic.Curve
	pkg    *frost.SigningPackage
	gpk    *crypto.ECPoint
	shares map[uint8]*big.Int
	expect int
}

// Signer is the signer process's §4.4 replica: it answers every
// coordinator->signer request, holding DKGSignerSession state for
// in-flight jobs and one SignerSignSession per completed key. It plays the
// same role the fakeNetwork test double plays in session_manager_test.go,
// wired to the real transport instead of an in-process fake.
type Signer struct {
	mtx      sync.Mutex
	identity []byte
	log      *zap.SugaredLogger

	dkg     map[SessionId]*DKGSignerSession
	signers map[[32]byte]*signerKey

	// sender/coordinator back the extended relay path (§4.2): a signer
	// forwards relayed shares and Final reports by calling sender.Send
	// against the coordinator's own address, the same Sender interface
	// the coordinator uses to forward to other signers.
	sender      Sender
	coordinator string

	aggregations map[SubSessionId]*signAggregation
}

// NewSigner constructs a signer replica for the given long-term identity.
// A signer holds no fixed session identifier: the coordinator assigns one
// per DKG session (DKGPart1Request.Identifier), since the same signer can
// take a different identifier in a later key's participant set.
func NewSigner(identity []byte, log *zap.SugaredLogger) *Signer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Signer{
		identity:     identity,
		log:          log,
		dkg:          make(map[SessionId]*DKGSignerSession),
		signers:      make(map[[32]byte]*signerKey),
		aggregations: make(map[SubSessionId]*signAggregation),
	}
}

// SetSender wires the transport used to forward extended-relay traffic
// back to the coordinator. Unset, a signer still answers classic
// (non-extended) requests; any extended request it receives fails.
func (s *Signer) SetSender(sender Sender) { s.sender = sender }

// SetCoordinator records the coordinator's transport address, the
// destination every relayed envelope this signer originates is sent to.
func (s *Signer) SetCoordinator(address string) { s.coordinator = address }

// HandleWireMessage implements internal/p2p.Dispatcher: decode the inbound
// envelope, run the matching request handler, and encode whatever it
// returns (including a Failure) back into a response envelope. Per §7
// policy (1), a handler error never propagates past this call; it becomes
// a Failure reply instead.
func (s *Signer) HandleWireMessage(from *Participant, wireBytes []byte) ([]byte, error) {
	parsed, err := ParseWireMessage(wireBytes, from, false)
	if err != nil {
		return nil, err
	}
	resp, typ, err := s.handle(parsed)
	if err != nil {
		s.log.Warnw("signer: request failed", "err", err, "type", parsed.Type(), "request_id", parsed.RequestID())
		return encodeContent(MsgTypeFailure, &Failure{Reason: err.Error()})
	}
	return encodeContent(typ, resp)
}

func (s *Signer) handle(msg ParsedMessage) (MessageContent, string, error) {
	switch c := msg.Content().(type) {
	case *DKGPart1Request:
		return s.handlePart1(c)
	case *DKGPart2Request:
		return s.handlePart2(c)
	case *DKGPart3Request:
		return s.handlePart3(c)
	case *SignRound1Request:
		return s.handleSignRound1(c)
	case *SignRound2Request:
		return s.handleSignRound2(c)
	case *DKGRequestEx:
		return s.handleDKGRelay(c)
	case *SigningRequestEx:
		return s.handleSignRelay(c)
	default:
		return nil, "", errors.Errorf("signer: unhandled request type %T", c)
	}
}

func (s *Signer) handlePart1(req *DKGPart1Request) (MessageContent, string, error) {
	sess, resp, err := HandlePart1Request(req)
	if err != nil {
		return nil, "", err
	}
	s.mtx.Lock()
	s.dkg[req.SessionID] = sess
	s.mtx.Unlock()
	return resp, MsgTypeDKGPart1Response, nil
}

func (s *Signer) handlePart2(req *DKGPart2Request) (MessageContent, string, error) {
	s.mtx.Lock()
	sess := s.dkg[req.SessionID]
	s.mtx.Unlock()
	if sess == nil {
		return nil, "", errors.Wrap(ErrInvalidRequest, "dkg part2: no round-1 state for this session")
	}
	if req.Extended {
		envs, err := sess.HandlePart2RequestEx(req)
		if err != nil {
			return nil, "", err
		}
		if err := s.relayShares(envs); err != nil {
			return nil, "", err
		}
		return &RegisterAck{OK: true}, MsgTypeRegisterAck, nil
	}
	resp, err := sess.HandlePart2Request(req)
	if err != nil {
		return nil, "", err
	}
	return resp, MsgTypeDKGPart2Response, nil
}

// relayShares forwards each of a DKGPart2RequestEx round's per-recipient
// envelopes to the coordinator, which relays them on to their Target
// without ever decoding the share (§4.2).
func (s *Signer) relayShares(envs []*DKGRequestEx) error {
	for _, env := range envs {
		if err := s.relayToCoordinator(MsgTypeDKGRequestEx, env); err != nil {
			return err
		}
	}
	return nil
}

// relayToCoordinator sends one relay envelope to the coordinator over the
// wired Sender, the same mechanism the coordinator uses to forward
// envelopes between signers.
func (s *Signer) relayToCoordinator(typ string, content MessageContent) error {
	if s.sender == nil {
		return errors.New("signer: no sender wired for extended relay")
	}
	if s.coordinator == "" {
		return errors.New("signer: no coordinator address wired for extended relay")
	}
	msg := NewMessage(MessageRouting{}, typ, content)
	return s.sender.Send(&Participant{Address: s.coordinator}, msg)
}

// handleDKGRelay implements the extended DKG relay's signer side (§4.2):
// it accumulates round-2 shares relayed from other signers and, once every
// expected share has arrived, runs dkg_part3 and reports the result back
// to the coordinator as a Final envelope.
func (s *Signer) handleDKGRelay(content *DKGRequestEx) (MessageContent, string, error) {
	env := content.Envelope
	switch env.Stage {
	case Intermediate:
		s.mtx.Lock()
		sess := s.dkg[env.BaseInfo.SessionID]
		s.mtx.Unlock()
		if sess == nil {
			return nil, "", errors.Wrap(ErrInvalidRequest, "dkg relay: no round-2 state for this session")
		}
		var pkg frost.Round2Package
		if err := unmarshalRelayPayload(env.Payload, &pkg); err != nil {
			return nil, "", errors.Wrap(err, "dkg relay: decode round-2 share")
		}
		complete := sess.ReceiveRelayedShare(env.From, &pkg)
		if !complete {
			return &RegisterAck{OK: true}, MsgTypeRegisterAck, nil
		}
		keyShare, final, err := sess.HandlePart3Ex()
		if err != nil {
			return nil, "", err
		}
		pkID := PkIdOf(keyShare.GroupPublicKey.X(), keyShare.GroupPublicKey.Y())
		s.mtx.Lock()
		delete(s.dkg, env.BaseInfo.SessionID)
		s.signers[pkID] = &signerKey{
			session:     NewSignerSignSession(keyShare, NewSignerNonceStore()),
			ciphersuite: sess.ciphersuite,
		}
		s.mtx.Unlock()
		if err := s.relayToCoordinator(MsgTypeDKGRequestEx, final); err != nil {
			return nil, "", err
		}
		return &RegisterAck{OK: true}, MsgTypeRegisterAck, nil
	default:
		return nil, "", errors.Errorf("signer: unexpected dkg relay stage %s", env.Stage)
	}
}

func (s *Signer) handlePart3(req *DKGPart3Request) (MessageContent, string, error) {
	s.mtx.Lock()
	sess := s.dkg[req.SessionID]
	s.mtx.Unlock()
	if sess == nil {
		return nil, "", errors.Wrap(ErrInvalidRequest, "dkg part3: no round-2 state for this session")
	}
	keyShare, resp, err := sess.HandlePart3Request(req)
	if err != nil {
		return nil, "", err
	}
	pkID := PkIdOf(resp.GroupPublicKeyX, resp.GroupPublicKeyY)
	s.mtx.Lock()
	delete(s.dkg, req.SessionID)
	s.signers[pkID] = &signerKey{
		session:     NewSignerSignSession(keyShare, NewSignerNonceStore()),
		ciphersuite: sess.ciphersuite,
	}
	s.mtx.Unlock()
	return resp, MsgTypeDKGPart3Response, nil
}

func (s *Signer) handleSignRound1(req *SignRound1Request) (MessageContent, string, error) {
	s.mtx.Lock()
	sk, ok := s.signers[req.PkId]
	s.mtx.Unlock()
	if !ok {
		return nil, "", errors.Wrap(ErrInvalidRequest, "sign round1: unknown pk_id")
	}
	resp, err := sk.session.HandleRound1(sk.ciphersuite, req)
	if err != nil {
		return nil, "", err
	}
	return resp, MsgTypeSignRound1Response, nil
}

func (s *Signer) handleSignRound2(req *SignRound2Request) (MessageContent, string, error) {
	s.mtx.Lock()
	sk, ok := s.signers[req.PkId]
	s.mtx.Unlock()
	if !ok {
		return nil, "", errors.Wrap(ErrInvalidRequest, "sign round2: unknown pk_id")
	}
	resp, err := sk.session.HandleRound2(sk.ciphersuite, req)
	if err != nil {
		return nil, "", err
	}
	if !req.Extended {
		return resp, MsgTypeSignRound2Response, nil
	}
	return s.handleSignRound2Ex(sk, req, resp)
}

// handleSignRound2Ex implements the extended signing relay's producer
// side (§4.2): a share is always computed locally via sk.session, then
// either relayed to the subset's aggregator (non-aggregator members) or
// folded directly into this signer's own in-progress aggregation (the
// aggregator itself).
func (s *Signer) handleSignRound2Ex(sk *signerKey, req *SignRound2Request, resp *SignRound2Response) (MessageContent, string, error) {
	if sk.session.Identifier() != req.Aggregator {
		payload, err := marshalRelayPayload(resp)
		if err != nil {
			return nil, "", err
		}
		env := &SigningRequestEx{Envelope: RelayEnvelope{
			Stage:    Intermediate,
			From:     sk.session.Identifier(),
			Target:   Target(req.Aggregator),
			BaseInfo: RelayBaseInfo{SubSessionID: req.SubSessionID, Ciphersuite: sk.ciphersuite},
			Payload:  payload,
		}}
		if err := s.relayToCoordinator(MsgTypeSigningRequestEx, env); err != nil {
			return nil, "", err
		}
		return &RegisterAck{OK: true}, MsgTypeRegisterAck, nil
	}
	curve, err := sk.ciphersuite.Curve()
	if err != nil {
		return nil, "", err
	}
	s.mtx.Lock()
	agg, ok := s.aggregations[req.SubSessionID]
	if !ok {
		agg = &signAggregation{
			curve: curve,
			pkg: &frost.SigningPackage{
				Message:      req.Message,
				Tweak:        req.Tweak,
				Participants: req.Participants,
				Commitments:  req.Commitments,
			},
			gpk:    sk.session.GroupPublicKey(),
			shares: make(map[uint8]*big.Int),
			expect: len(req.Participants),
		}
		s.aggregations[req.SubSessionID] = agg
	}
	agg.shares[sk.session.Identifier()] = resp.Share
	s.mtx.Unlock()
	return s.tryFinishAggregation(req.SubSessionID, agg)
}

// handleSignRelay implements the extended signing relay's consumer side:
// the designated aggregator receives every other subset member's share
// through the coordinator, one Intermediate envelope at a time, and
// finishes the job once they have all arrived.
func (s *Signer) handleSignRelay(content *SigningRequestEx) (MessageContent, string, error) {
	env := content.Envelope
	switch env.Stage {
	case Intermediate:
		var resp SignRound2Response
		if err := unmarshalRelayPayload(env.Payload, &resp); err != nil {
			return nil, "", errors.Wrap(err, "sign relay: decode round-2 share")
		}
		s.mtx.Lock()
		agg, ok := s.aggregations[env.BaseInfo.SubSessionID]
		s.mtx.Unlock()
		if !ok {
			return nil, "", errors.Wrap(ErrInvalidRequest, "sign relay: no in-progress aggregation for this sub-session")
		}
		s.mtx.Lock()
		agg.shares[env.From] = resp.Share
		s.mtx.Unlock()
		return s.tryFinishAggregation(env.BaseInfo.SubSessionID, agg)
	default:
		return nil, "", errors.Errorf("signer: unexpected sign relay stage %s", env.Stage)
	}
}

// tryFinishAggregation runs frost.Aggregate and reports the completed
// Signature back to the coordinator as a Final envelope once every
// expected share has accumulated; otherwise it just acknowledges receipt.
func (s *Signer) tryFinishAggregation(subSessionID SubSessionId, agg *signAggregation) (MessageContent, string, error) {
	s.mtx.Lock()
	n := len(agg.shares)
	s.mtx.Unlock()
	if n < agg.expect {
		return &RegisterAck{OK: true}, MsgTypeRegisterAck, nil
	}
	s.mtx.Lock()
	delete(s.aggregations, subSessionID)
	s.mtx.Unlock()
	sig, err := frost.Aggregate(agg.curve, agg.pkg, agg.shares, agg.gpk)
	if err != nil {
		return nil, "", err
	}
	payload, err := marshalRelayPayload(&SigningResponse{SubSessionID: subSessionID, Signature: sig})
	if err != nil {
		return nil, "", err
	}
	final := &SigningRequestEx{Envelope: RelayEnvelope{
		Stage:    Final,
		BaseInfo: RelayBaseInfo{SubSessionID: subSessionID},
		Payload:  payload,
	}}
	if err := s.relayToCoordinator(MsgTypeSigningRequestEx, final); err != nil {
		return nil, "", err
	}
	return &RegisterAck{OK: true}, MsgTypeRegisterAck, nil
}

// encodeContent wraps a response MessageContent into a wire envelope with
// no routing metadata (the transport already knows who it's replying to);
// used both by Signer and by Coordinator's node/signer request handlers.
func encodeContent(typ string, content MessageContent) ([]byte, error) {
	msg := NewMessage(MessageRouting{}, typ, content)
	bz, _, err := msg.WireBytes()
	return bz, err
}
