// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/frostcluster/tss/crypto"
	"github.com/frostcluster/tss/crypto/frost"
)

// SignerNonceStore holds outstanding (hiding, binding) nonce pairs a signer
// has generated but not yet consumed, keyed by SubSessionId. §8 invariant 3
// requires each pair be usable for exactly one Round2 share: Take deletes
// the entry atomically with the read, so a replayed or duplicated Round2
// request for the same SubSessionId fails instead of signing twice with the
// same nonces (which would leak the signer's key share).
type SignerNonceStore struct {
	mtx    sync.Mutex
	nonces map[SubSessionId]*frost.Nonces
}

func NewSignerNonceStore() *SignerNonceStore {
	return &SignerNonceStore{nonces: make(map[SubSessionId]*frost.Nonces)}
}

func (s *SignerNonceStore) Put(id SubSessionId, n *frost.Nonces) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.nonces[id] = n
}

// Take returns and deletes the nonce pair for id, or ok=false if it was
// never stored or has already been consumed.
func (s *SignerNonceStore) Take(id SubSessionId) (*frost.Nonces, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n, ok := s.nonces[id]
	if ok {
		delete(s.nonces, id)
	}
	return n, ok
}

// SignerSignSession is the signer-side replica of the signing protocol: it
// holds no Round/Party state machine (the coordinator drives the linear
// Round1->Round2 progression) and only needs the key share and nonce
// store to answer both request types.
type SignerSignSession struct {
	keyShare *frost.KeyShare
	nonces   *SignerNonceStore
}

func NewSignerSignSession(keyShare *frost.KeyShare, nonces *SignerNonceStore) *SignerSignSession {
	return &SignerSignSession{keyShare: keyShare, nonces: nonces}
}

// HandleRound1 runs sign_commit for a fresh signing job and stores the
// nonces under req.SubSessionID for the matching Round2 request.
func (s *SignerSignSession) HandleRound1(ciphersuite Ciphersuite, req *SignRound1Request) (*SignRound1Response, error) {
	curve, err := ciphersuite.Curve()
	if err != nil {
		return nil, err
	}
	n, c, err := frost.SignCommit(curve)
	if err != nil {
		return nil, errors.Wrap(err, "sign_commit")
	}
	s.nonces.Put(req.SubSessionID, n)
	return &SignRound1Response{SubSessionID: req.SubSessionID, Commitment: c}, nil
}

// HandleRound2 consumes this signer's nonces exactly once and runs
// sign_share against the assembled SigningPackage.
func (s *SignerSignSession) HandleRound2(ciphersuite Ciphersuite, req *SignRound2Request) (*SignRound2Response, error) {
	n, ok := s.nonces.Take(req.SubSessionID)
	if !ok {
		return nil, errors.Errorf("sign round2: no outstanding nonces for sub-session %s (replay or unknown job)", req.SubSessionID)
	}
	curve, err := ciphersuite.Curve()
	if err != nil {
		return nil, err
	}
	pkg := &frost.SigningPackage{
		Message:      req.Message,
		Tweak:        req.Tweak,
		Participants: req.Participants,
		Commitments:  req.Commitments,
	}
	z, err := frost.SignShare(curve, s.keyShare, n, pkg)
	if err != nil {
		return nil, errors.Wrap(err, "sign_share")
	}
	return &SignRound2Response{SubSessionID: req.SubSessionID, Share: z}, nil
}

// Identifier reports this replica's own participant identifier, needed by
// the extended signing relay path to tell whether this signer is the
// subset's designated aggregator.
func (s *SignerSignSession) Identifier() uint8 { return s.keyShare.Identifier }

// GroupPublicKey exposes the group public key for the extended signing
// relay path's local Aggregate call.
func (s *SignerSignSession) GroupPublicKey() *crypto.ECPoint { return s.keyShare.GroupPublicKey }
