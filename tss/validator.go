// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"crypto/ed25519"
	"crypto/sha256"
	"sync"

	"github.com/pkg/errors"
)

// Validator is one registered signer: its identity (an Ed25519 public
// key), the transport address to reach it at, and the last
// registration nonce it presented.
type Validator struct {
	Identity []byte
	Address  string
	Nonce    uint64
}

// ValidatorTable is the coordinator's registry of known signers (§6). A
// signer registers (or re-registers, e.g. after changing its listen
// address) by presenting a signature over its own identity and both peer
// ids; the coordinator only accepts signer-originated registrations from
// an operator-configured whitelist.
type ValidatorTable struct {
	mtx       sync.RWMutex
	byID      map[string]*Validator // keyed by string(identity)
	whitelist map[string]bool       // keyed by string(identity); nil/empty disables enforcement
}

func NewValidatorTable(whitelist [][]byte) *ValidatorTable {
	wl := make(map[string]bool, len(whitelist))
	for _, id := range whitelist {
		wl[string(id)] = true
	}
	return &ValidatorTable{byID: make(map[string]*Validator), whitelist: wl}
}

// RegistrationDigest is the message a registering signer signs with its
// identity key, exported so a signer process can build the same digest
// when constructing its ValidatorIdentity message.
func RegistrationDigest(identity []byte, remotePeerID, coordinatorPeerID string) []byte {
	return registrationDigest(identity, remotePeerID, coordinatorPeerID)
}

// registrationDigest is SHA256("register" || identity || remotePeerID ||
// coordinatorPeerID), the message a registering signer must sign with its
// identity key.
func registrationDigest(identity []byte, remotePeerID, coordinatorPeerID string) []byte {
	h := sha256.New()
	h.Write([]byte("register"))
	h.Write(identity)
	h.Write([]byte(remotePeerID))
	h.Write([]byte(coordinatorPeerID))
	return h.Sum(nil)
}

// Register verifies and records (or updates) a signer's registration.
// Re-registration with the same address is a normal address refresh;
// re-registration with nonce == the stored nonce is accepted and ignored
// rather than rejected (Open Question (a): a replayed registration is
// harmless, since its effect — recording an unchanged address — is
// already in effect).
func (t *ValidatorTable) Register(identity []byte, nonce uint64, address, remotePeerID, coordinatorPeerID string, signature []byte) error {
	if len(identity) != ed25519.PublicKeySize {
		return errors.Wrap(ErrInvalidRequest, "register: malformed identity")
	}
	if len(t.whitelist) > 0 && !t.whitelist[string(identity)] {
		return errors.Wrap(ErrInvalidRequest, "register: identity not on the signer whitelist")
	}
	digest := registrationDigest(identity, remotePeerID, coordinatorPeerID)
	if !ed25519.Verify(identity, digest, signature) {
		return errors.Wrap(ErrInvalidRequest, "register: signature verification failed")
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()
	existing, ok := t.byID[string(identity)]
	if ok {
		if nonce < existing.Nonce {
			return errors.Wrap(ErrInvalidRequest, "register: stale nonce")
		}
		if nonce == existing.Nonce {
			return nil // ignore: identical replay, per Open Question (a)
		}
		existing.Nonce = nonce
		existing.Address = address // in-place transport-address replacement
		return nil
	}
	t.byID[string(identity)] = &Validator{Identity: identity, Address: address, Nonce: nonce}
	return nil
}

func (t *ValidatorTable) Get(identity []byte) (*Validator, bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	v, ok := t.byID[string(identity)]
	return v, ok
}

// ByAddress reverse-looks-up a validator by its current transport address
// (the libp2p peer id the p2p layer hands the dispatcher as the bare
// sender of an inbound stream, before it is known which session the
// message belongs to).
func (t *ValidatorTable) ByAddress(address string) *Validator {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	for _, v := range t.byID {
		if v.Address == address {
			return v
		}
	}
	return nil
}

// List returns every registered validator. §Open Question (c): the table
// never evicts on disconnect; a stale address simply fails to route at
// send time, which the session treats like any other missing response for
// the current round.
func (t *ValidatorTable) List() []*Validator {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	out := make([]*Validator, 0, len(t.byID))
	for _, v := range t.byID {
		out = append(out, v)
	}
	return out
}
