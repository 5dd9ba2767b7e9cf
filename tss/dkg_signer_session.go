// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"github.com/frostcluster/tss/crypto/frost"
)

// DKGSignerSession is the signer-side replica of the DKG protocol (§4.4):
// it runs the actual FROST arithmetic (dkg_part1/2/3) against requests
// relayed by the coordinator and reports back one response per round. It
// holds no Round/Party state machine of its own since the coordinator
// drives the linear progression; it only needs to remember state between
// the three request/response turns of one SessionID.
type DKGSignerSession struct {
	ourIdentifier uint8
	ciphersuite   Ciphersuite
	sessionID     SessionId

	secret1 *frost.Round1Secret
	secret2 *frost.Round2Secret

	// relayed/expectShares track round-2 shares arriving one at a time
	// through the extended relay path (§4.2), instead of a single
	// coordinator-assembled DKGPart3Request.FromOthers map.
	relayed      map[uint8]*frost.Round2Package
	expectShares int
}

// HandlePart1Request runs dkg_part1 and returns the response to send back
// to the coordinator.
func HandlePart1Request(req *DKGPart1Request) (*DKGSignerSession, *DKGPart1Response, error) {
	if !req.ValidateBasic() {
		return nil, nil, ErrInvalidRequest
	}
	curve, err := req.Ciphersuite.Curve()
	if err != nil {
		return nil, nil, err
	}
	secret1, pkg1, err := frost.DKGPart1(curve, req.Identifier, req.Participants, req.Threshold)
	if err != nil {
		return nil, nil, err
	}
	sess := &DKGSignerSession{
		ourIdentifier: req.Identifier,
		ciphersuite:   req.Ciphersuite,
		sessionID:     req.SessionID,
		secret1:       secret1,
	}
	return sess, &DKGPart1Response{SessionID: req.SessionID, Package: pkg1}, nil
}

// HandlePart2Request runs dkg_part2 against the relayed round-1 packages.
func (s *DKGSignerSession) HandlePart2Request(req *DKGPart2Request) (*DKGPart2Response, error) {
	curve, err := s.ciphersuite.Curve()
	if err != nil {
		return nil, err
	}
	secret2, out, err := frost.DKGPart2(curve, s.secret1, req.Others)
	if err != nil {
		return nil, err
	}
	s.secret2 = secret2
	return &DKGPart2Response{SessionID: req.SessionID, Shares: out}, nil
}

// HandlePart2RequestEx runs dkg_part2 exactly like HandlePart2Request, but
// returns one RelayEnvelope per recipient instead of a single batched
// response, for the extended relay path (§4.2): the coordinator forwards
// each envelope to its Target without ever decoding the share itself.
func (s *DKGSignerSession) HandlePart2RequestEx(req *DKGPart2Request) ([]*DKGRequestEx, error) {
	curve, err := s.ciphersuite.Curve()
	if err != nil {
		return nil, err
	}
	secret2, out, err := frost.DKGPart2(curve, s.secret1, req.Others)
	if err != nil {
		return nil, err
	}
	s.secret2 = secret2
	s.expectShares = len(req.Others)
	envs := make([]*DKGRequestEx, 0, len(out))
	for to, pkg := range out {
		payload, merr := marshalRelayPayload(pkg)
		if merr != nil {
			return nil, merr
		}
		envs = append(envs, &DKGRequestEx{Envelope: RelayEnvelope{
			Stage:    Intermediate,
			From:     s.ourIdentifier,
			Target:   Target(to),
			BaseInfo: RelayBaseInfo{SessionID: req.SessionID, Ciphersuite: s.ciphersuite},
			Payload:  payload,
		}})
	}
	return envs, nil
}

// ReceiveRelayedShare stores one other participant's round-2 share
// relayed through the coordinator and reports whether every expected
// share has now arrived.
func (s *DKGSignerSession) ReceiveRelayedShare(from uint8, pkg *frost.Round2Package) bool {
	if s.relayed == nil {
		s.relayed = make(map[uint8]*frost.Round2Package)
	}
	s.relayed[from] = pkg
	return len(s.relayed) == s.expectShares
}

// HandlePart3Ex runs dkg_part3 against every relayed share (rather than a
// coordinator-assembled FromOthers map) and returns the Final envelope to
// report the result back to the coordinator.
func (s *DKGSignerSession) HandlePart3Ex() (*frost.KeyShare, *DKGRequestEx, error) {
	curve, err := s.ciphersuite.Curve()
	if err != nil {
		return nil, nil, err
	}
	ks, err := frost.DKGPart3(curve, s.secret2, s.relayed)
	if err != nil {
		return nil, nil, err
	}
	resp := &DKGPart3Response{
		SessionID:       s.sessionID,
		GroupPublicKeyX: ks.GroupPublicKey.X(),
		GroupPublicKeyY: ks.GroupPublicKey.Y(),
	}
	payload, err := marshalRelayPayload(resp)
	if err != nil {
		return nil, nil, err
	}
	env := &DKGRequestEx{Envelope: RelayEnvelope{
		Stage:    Final,
		From:     s.ourIdentifier,
		BaseInfo: RelayBaseInfo{SessionID: s.sessionID, Ciphersuite: s.ciphersuite},
		Payload:  payload,
	}}
	return ks, env, nil
}

// HandlePart3Request runs dkg_part3 against the relayed round-2 shares and
// returns the resulting key share (kept locally by the caller, never sent
// over the wire) alongside the response the coordinator expects.
func (s *DKGSignerSession) HandlePart3Request(req *DKGPart3Request) (*frost.KeyShare, *DKGPart3Response, error) {
	curve, err := s.ciphersuite.Curve()
	if err != nil {
		return nil, nil, err
	}
	ks, err := frost.DKGPart3(curve, s.secret2, req.FromOthers)
	if err != nil {
		return nil, nil, err
	}
	resp := &DKGPart3Response{
		SessionID:       req.SessionID,
		GroupPublicKeyX: ks.GroupPublicKey.X(),
		GroupPublicKeyY: ks.GroupPublicKey.Y(),
	}
	return ks, resp, nil
}
