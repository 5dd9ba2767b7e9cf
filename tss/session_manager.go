// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/frostcluster/tss/crypto"
	"github.com/frostcluster/tss/crypto/frost"
)

// SessionManager implements the coordinator Instructions of §4.5: NewKey,
// Sign, ListPkIds, PkTweak. It is the single owner of both the key store
// and every in-flight session; callers never reach into a session
// directly, only through the channel a Start call hands back.
type SessionManager struct {
	mtx      sync.Mutex
	store    *KeyStore
	sender   Sender
	dkgByID  map[SessionId]*DKGSession
	signByID map[SubSessionId]*SigningSession
	// retryInterval is state_channel_retry_interval (§4.2/§5), handed to
	// every session this manager starts so a round with one unreachable
	// participant retries instead of stalling forever.
	retryInterval time.Duration
}

func NewSessionManager(store *KeyStore, sender Sender) *SessionManager {
	return &SessionManager{
		store:    store,
		sender:   sender,
		dkgByID:  make(map[SessionId]*DKGSession),
		signByID: make(map[SubSessionId]*SigningSession),
	}
}

// SetSender wires the transport after construction, for the coordinator
// process's startup sequence: the transport's Dispatcher is the Coordinator
// wrapping this SessionManager, so the Sender can only be built once the
// manager (without it) already exists.
func (m *SessionManager) SetSender(sender Sender) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.sender = sender
}

// SetRetryInterval wires state_channel_retry_interval, applied to every
// DKG/signing session started from this point on.
func (m *SessionManager) SetRetryInterval(d time.Duration) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.retryInterval = d
}

// NewKey starts (or, if an identical request is already running, joins) a
// DKG job for the given ciphersuite/threshold/participant set and returns
// a channel that receives exactly one DKGResult. Dedup is by SessionId:
// identical (ciphersuite, threshold, participants, salt) requests share one
// underlying session instead of running the protocol twice.
func (m *SessionManager) NewKey(ciphersuite Ciphersuite, threshold int, participants UnSortedParticipants, salt []byte) (SessionId, <-chan *DKGResult, error) {
	return m.newKey(ciphersuite, threshold, participants, salt, false)
}

// NewKeyExtended is NewKey's extended-relay counterpart (§4.2): round-2
// shares travel signer-to-signer through the coordinator as a relay
// instead of being broadcast by the coordinator itself.
func (m *SessionManager) NewKeyExtended(ciphersuite Ciphersuite, threshold int, participants UnSortedParticipants, salt []byte) (SessionId, <-chan *DKGResult, error) {
	return m.newKey(ciphersuite, threshold, participants, salt, true)
}

func (m *SessionManager) newKey(ciphersuite Ciphersuite, threshold int, participants UnSortedParticipants, salt []byte, extended bool) (SessionId, <-chan *DKGResult, error) {
	if !ciphersuite.Valid() {
		return SessionId{}, nil, errors.Wrap(ErrInvalidCryptoType, "NewKey")
	}
	if threshold <= 0 || threshold > len(participants) {
		return SessionId{}, nil, errors.Wrap(ErrInvalidRequest, "NewKey: threshold out of range")
	}
	identities := make([][]byte, len(participants))
	for i, p := range participants {
		identities[i] = p.Identity
	}
	sessionID := NewSessionId(ciphersuite, threshold, identities, salt)

	m.mtx.Lock()
	defer m.mtx.Unlock()
	end := make(chan *DKGResult, 1)
	if existing, ok := m.dkgByID[sessionID]; ok {
		// §4.5: a second NewKey for a SessionId already in flight attaches
		// to the running session instead of starting a duplicate one.
		existing.Attach(end)
		return sessionID, end, nil
	}

	ctx := NewParticipantSetFromUnSortedWithoutUs(participants)
	params := NewParameters(ciphersuite, ctx, threshold)
	session := NewDKGSession(params, sessionID, m.sender, end)
	session.SetRetryInterval(m.retryInterval)
	if extended {
		session.setExtended(true)
	}
	m.dkgByID[sessionID] = session

	if err := session.Start(); err != nil {
		delete(m.dkgByID, sessionID)
		return sessionID, nil, errors.Wrap(err, "NewKey: Start")
	}
	return sessionID, end, nil
}

// CompleteDKG removes a finished DKG session from the in-flight table and,
// on success, records its KeyRecord in the key store. Called by whatever
// drains the result channel (the IPC/CLI layer or the auto-DKG controller).
func (m *SessionManager) CompleteDKG(sessionID SessionId, result *DKGResult) error {
	m.mtx.Lock()
	delete(m.dkgByID, sessionID)
	m.mtx.Unlock()
	if result.Err != nil {
		return result.Err
	}
	pkID := PkIdOf(result.GroupPublicKeyX, result.GroupPublicKeyY)
	rec := &KeyRecord{
		PkId:            pkID,
		Ciphersuite:     result.Ciphersuite,
		Threshold:       result.Threshold,
		GroupPublicKeyX: result.GroupPublicKeyX,
		GroupPublicKeyY: result.GroupPublicKeyY,
		Participants:    result.Participants,
	}
	return m.store.Put(rec)
}

// Dispatch routes an incoming message to the DKG or signing session it
// belongs to, by inspecting its content type and embedded session id.
func (m *SessionManager) Dispatch(msg ParsedMessage) (bool, *Error) {
	notFound := func() (bool, *Error) {
		return false, NewError(ErrInvalidSessionId, CodeInvalidSessionId, "dispatch", 0, msg.GetFrom())
	}
	switch c := msg.Content().(type) {
	case *DKGPart1Response:
		if s := m.dkgSession(c.SessionID); s != nil {
			return s.Update(msg)
		}
		return notFound()
	case *DKGPart2Response:
		if s := m.dkgSession(c.SessionID); s != nil {
			return s.Update(msg)
		}
		return notFound()
	case *DKGPart3Response:
		if s := m.dkgSession(c.SessionID); s != nil {
			return s.Update(msg)
		}
		return notFound()
	case *SignRound1Response:
		if s := m.signSession(c.SubSessionID); s != nil {
			return s.Update(msg)
		}
		return notFound()
	case *SignRound2Response:
		if s := m.signSession(c.SubSessionID); s != nil {
			return s.Update(msg)
		}
		return notFound()
	default:
		return false, NewError(ErrInvalidRequest, CodeInvalidRequest, "dispatch", 0, nil)
	}
}

// ParticipantForDKG resolves the full session Participant (with its
// session-assigned Identifier) for a remote identity within an in-flight
// DKG session, so the transport layer's bare peer address can be turned
// into the Participant a round's StoreMessage expects.
func (m *SessionManager) ParticipantForDKG(id SessionId, identity []byte) *Participant {
	s := m.dkgSession(id)
	if s == nil {
		return nil
	}
	return s.params.Parties().IDs().FindByIdentity(identity)
}

// ParticipantForSign is ParticipantForDKG's signing-session counterpart.
func (m *SessionManager) ParticipantForSign(id SubSessionId, identity []byte) *Participant {
	s := m.signSession(id)
	if s == nil {
		return nil
	}
	return s.params.Parties().IDs().FindByIdentity(identity)
}

// ParticipantsForDKG returns the full participant set of an in-flight DKG
// session, for the extended relay path's Target/Broadcast resolution
// (§4.2), or nil if the session is unknown.
func (m *SessionManager) ParticipantsForDKG(id SessionId) UnSortedParticipants {
	s := m.dkgSession(id)
	if s == nil {
		return nil
	}
	return s.params.Parties().IDs().ToUnSorted()
}

// ParticipantsForSign is ParticipantsForDKG's signing-session counterpart,
// scoped to the already-selected signing subset.
func (m *SessionManager) ParticipantsForSign(id SubSessionId) UnSortedParticipants {
	s := m.signSession(id)
	if s == nil {
		return nil
	}
	return s.participants().ToUnSorted()
}

func (m *SessionManager) dkgSession(id SessionId) *DKGSession {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.dkgByID[id]
}

func (m *SessionManager) signSession(id SubSessionId) *SigningSession {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.signByID[id]
}

// Sign starts a signing job over the given threshold-sized signer subset
// (already selected by the caller per the tie-break rule in Open Question
// (b)) and returns a channel receiving exactly one SignResult.
func (m *SessionManager) Sign(pkID [32]byte, message, tweak []byte, subset []uint8) (SubSessionId, <-chan *SignResult, error) {
	return m.sign(pkID, message, tweak, subset, false)
}

// SignExtended is Sign's extended-relay counterpart (§4.2): round-2 shares
// travel signer-to-signer through the coordinator as a relay, aggregated
// by the subset's designated member instead of the coordinator itself.
func (m *SessionManager) SignExtended(pkID [32]byte, message, tweak []byte, subset []uint8) (SubSessionId, <-chan *SignResult, error) {
	return m.sign(pkID, message, tweak, subset, true)
}

func (m *SessionManager) sign(pkID [32]byte, message, tweak []byte, subset []uint8, extended bool) (SubSessionId, <-chan *SignResult, error) {
	rec, ok := m.store.Get(pkID)
	if !ok {
		return SubSessionId{}, nil, errors.Errorf("Sign: unknown pk_id %x", pkID)
	}
	if len(tweak) > 0 && !rec.Ciphersuite.SupportsTweak() {
		return SubSessionId{}, nil, errors.Wrap(ErrInvalidRequest, "Sign: ciphersuite does not support a tweak")
	}
	sessionID := NewSessionId(rec.Ciphersuite, rec.Threshold, identitiesOf(rec.Participants), nil)
	subSessionID := NewSubSessionId(sessionID, message, tweak, subset)

	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.signByID[subSessionID]; ok {
		return subSessionID, nil, errors.Errorf("Sign: sub-session %s already in flight", subSessionID)
	}

	curve, err := rec.Ciphersuite.Curve()
	if err != nil {
		return SubSessionId{}, nil, err
	}
	gpk, err := crypto.NewECPoint(curve, rec.GroupPublicKeyX, rec.GroupPublicKeyY)
	if err != nil {
		return SubSessionId{}, nil, errors.Wrap(err, "Sign: group public key")
	}

	end := make(chan *SignResult, 1)
	ctx := NewParticipantSetFromUnSortedWithoutUs(rec.Participants.ToUnSorted())
	params := NewParameters(rec.Ciphersuite, ctx, rec.Threshold)
	// The coordinator never holds a KeyShare (it never has the secret);
	// only the GroupPublicKey field is read downstream by
	// SigningSession's Aggregate/Verify step.
	session := NewSigningSession(params, subSessionID, pkID, message, tweak, subset, &frost.KeyShare{GroupPublicKey: gpk}, m.sender, end)
	session.SetRetryInterval(m.retryInterval)
	if extended {
		session.setExtended(true)
	}
	m.signByID[subSessionID] = session

	if err := session.Start(); err != nil {
		delete(m.signByID, subSessionID)
		return subSessionID, nil, errors.Wrap(err, "Sign: Start")
	}
	return subSessionID, end, nil
}

// KeyRecord returns the persisted record for pkID, if any, so callers
// outside the session manager (the coordinator's node-request handlers)
// can inspect a key's participants/threshold without reaching into the
// key store directly.
func (m *SessionManager) KeyRecord(pkID [32]byte) (*KeyRecord, bool) {
	return m.store.Get(pkID)
}

// ListPkIds returns every persisted key record, optionally filtered by
// ciphersuite (§4.5 "ListPkIds").
func (m *SessionManager) ListPkIds(ciphersuite *Ciphersuite) []*KeyRecord {
	all := m.store.List()
	if ciphersuite == nil {
		return all
	}
	out := make([]*KeyRecord, 0, len(all))
	for _, rec := range all {
		if rec.Ciphersuite == *ciphersuite {
			out = append(out, rec)
		}
	}
	return out
}

// PkTweak computes a tweaked group public key with no protocol round
// (§4.5 "PkTweak").
func (m *SessionManager) PkTweak(pkID [32]byte, tweak []byte) (x, y *big.Int, err error) {
	rec, ok := m.store.Get(pkID)
	if !ok {
		return nil, nil, errors.Errorf("PkTweak: unknown pk_id %x", pkID)
	}
	if !rec.Ciphersuite.SupportsTweak() {
		return nil, nil, errors.Wrap(ErrInvalidRequest, "PkTweak: ciphersuite does not support a tweak")
	}
	curve, cerr := rec.Ciphersuite.Curve()
	if cerr != nil {
		return nil, nil, cerr
	}
	gpk, perr := crypto.NewECPoint(curve, rec.GroupPublicKeyX, rec.GroupPublicKeyY)
	if perr != nil {
		return nil, nil, perr
	}
	tweaked, terr := frost.ApplyTweak(curve, gpk, tweak)
	if terr != nil {
		return nil, nil, terr
	}
	return tweaked.X(), tweaked.Y(), nil
}

// CompleteSign removes a finished signing session from the in-flight
// table. Called by whatever drains the result channel.
func (m *SessionManager) CompleteSign(subSessionID SubSessionId) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	delete(m.signByID, subSessionID)
}

// DeliverExtendedSignResult completes an extended-mode signing session
// directly with the aggregator's reported Signature: in extended mode
// individual shares never reach the coordinator for it to aggregate
// itself, so the usual round-2 NextRound aggregation step is bypassed in
// favor of this direct delivery onto the session's own end channel.
func (m *SessionManager) DeliverExtendedSignResult(subSessionID SubSessionId, sig *frost.Signature) error {
	s := m.signSession(subSessionID)
	if s == nil {
		return errors.Wrap(ErrInvalidSessionId, "coordinator: extended sign Final for an unknown sub-session")
	}
	s.end <- &SignResult{SubSessionID: subSessionID, Signature: sig}
	return nil
}

func identitiesOf(ps SortedParticipants) [][]byte {
	out := make([][]byte, len(ps))
	for i, p := range ps {
		out[i] = p.Identity
	}
	return out
}
