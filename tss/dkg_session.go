// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"math/big"
	"time"

	"github.com/frostcluster/tss/crypto/frost"
)

// Sender is the transport seam a session round uses to dispatch a message
// to one participant. internal/p2p implements this over the libp2p request
// stream; tests use an in-memory fake.
type Sender interface {
	Send(to *Participant, msg Message) error
}

// sendRetries bounds how many times sendWithRetry re-attempts a failed
// send (the initial attempt plus this many retries) before giving up and
// failing the round; chosen to absorb one stretch of unreachability per
// state_channel_retry_interval without stalling a round on a signer that
// is gone for good.
const sendRetries = 3

// sendWithRetry sends msg to p, retrying after interval on failure up to
// sendRetries times (§4.2: "retried after state_channel_retry_interval
// seconds" rather than stalling the round on one unreachable signer). A
// zero interval disables retrying — the caller gets the first attempt's
// result only, matching the pre-retry behavior for code that never wires
// one in (e.g. session_manager_test.go's in-memory Sender).
func sendWithRetry(sender Sender, p *Participant, msg Message, interval time.Duration) error {
	var err error
	attempts := 1
	if interval > 0 {
		attempts = 1 + sendRetries
	}
	for i := 0; i < attempts; i++ {
		if err = sender.Send(p, msg); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(interval)
		}
	}
	return err
}

// DKGResult is delivered on a session's completion channel exactly once,
// successfully or not; per the ownership rule in §3, outside components
// hold only this channel, never the session itself.
type DKGResult struct {
	SessionID       SessionId
	Ciphersuite     Ciphersuite
	Threshold       int
	GroupPublicKeyX *big.Int
	GroupPublicKeyY *big.Int
	Participants    SortedParticipants
	Err             *Error
}

// DKGSession is the coordinator-side replica of the DKG state machine
// (§4.2): Part1 -> Part2 -> GenPublicKey -> Completed. The coordinator
// never runs FROST arithmetic itself; each round only relays what signers
// broadcast to each other and waits for every participant's response
// before advancing.
type DKGSession struct {
	BaseParty
	params    *Parameters
	sessionID SessionId
	sender    Sender
	listeners []chan<- *DKGResult
	// retryInterval is how long a round waits before re-sending a request
	// that failed to reach its participant (§4.2/§5); zero disables
	// retrying entirely.
	retryInterval time.Duration
	// extended routes round 2 through the signer-to-signer relay path
	// (§4.2) instead of the coordinator broadcasting part2 itself: the
	// session never collects part2 shares and round 3's relay step is a
	// no-op, since every share already reached its recipient directly.
	extended bool

	part1 map[uint8]*frost.Round1Package
	part2 map[uint8]map[uint8]*frost.Round2Package // from -> to -> pkg
	part3 map[uint8]*DKGPart3Response
}

var _ Party = (*DKGSession)(nil)

// NewDKGSession constructs a coordinator-side DKG session. end receives
// exactly one DKGResult when the session finishes (successfully or not).
func NewDKGSession(params *Parameters, sessionID SessionId, sender Sender, end chan<- *DKGResult) *DKGSession {
	return &DKGSession{
		params:    params,
		sessionID: sessionID,
		sender:    sender,
		listeners: []chan<- *DKGResult{end},
		part1:     make(map[uint8]*frost.Round1Package),
		part2:     make(map[uint8]map[uint8]*frost.Round2Package),
		part3:     make(map[uint8]*DKGPart3Response),
	}
}

// setExtended marks the session as using the §4.2 extended relay path for
// round 2, before Start() is called.
func (s *DKGSession) setExtended(v bool) { s.extended = v }

// SetRetryInterval wires the state_channel_retry_interval duration before
// Start() is called; left unset, a round fails immediately on the first
// send error instead of retrying.
func (s *DKGSession) SetRetryInterval(d time.Duration) { s.retryInterval = d }

// Attach registers an additional completion channel on an already-running
// session, for NewKey's dedup rule (§4.5): a second instruction for a
// SessionId already in flight attaches to it instead of starting a
// duplicate session, and every attached caller receives its own copy of
// the eventual DKGResult.
func (s *DKGSession) Attach(end chan<- *DKGResult) {
	s.lock()
	defer s.unlock()
	s.listeners = append(s.listeners, end)
}

func (s *DKGSession) deliver(result *DKGResult) {
	for _, ch := range s.listeners {
		ch <- result
	}
}

func (s *DKGSession) Start() *Error {
	return BaseStart(s, "dkg")
}

func (s *DKGSession) Update(msg ParsedMessage) (bool, *Error) {
	return BaseUpdate(s, msg, "dkg")
}

func (s *DKGSession) FirstRound() Round {
	return &dkgRound1{session: s}
}

func (s *DKGSession) StoreMessage(msg ParsedMessage) (bool, *Error) {
	from := msg.GetFrom().Identifier
	switch c := msg.Content().(type) {
	case *DKGPart1Response:
		s.part1[from] = c.Package
	case *DKGPart2Response:
		s.part2[from] = c.Shares
	case *DKGPart3Response:
		s.part3[from] = c
	default:
		return false, s.WrapError(ErrInvalidRequest, msg.GetFrom())
	}
	return true, nil
}

func (s *DKGSession) fail(err error, culprits ...*Participant) *Error {
	wrapped := s.WrapError(err, culprits...)
	s.deliver(&DKGResult{SessionID: s.sessionID, Err: wrapped})
	return wrapped
}

// ----- Round 1: broadcast Part1Request, collect every Part1Package -----

type dkgRound1 struct {
	session *DKGSession
	started bool
}

func (r *dkgRound1) Params() *Parameters { return r.session.params }

func (r *dkgRound1) RoundNumber() int { return 1 }

func (r *dkgRound1) Start() *Error {
	r.started = true
	ids := r.session.params.Parties().IDs().Identifiers()
	for _, p := range r.session.params.Parties().IDs() {
		req := &DKGPart1Request{
			SessionID:    r.session.sessionID,
			Ciphersuite:  r.session.params.Ciphersuite(),
			Threshold:    r.session.params.Threshold(),
			Identifier:   p.Identifier,
			Participants: ids,
		}
		msg := NewMessage(MessageRouting{To: []*Participant{p}}, MsgTypeDKGPart1Request, req)
		if err := sendWithRetry(r.session.sender, p, msg, r.session.retryInterval); err != nil {
			return r.WrapError(err, p)
		}
	}
	return nil
}

func (r *dkgRound1) Update() (bool, *Error) { return true, nil }

func (r *dkgRound1) CanAccept(msg ParsedMessage) bool {
	_, ok := msg.Content().(*DKGPart1Response)
	return ok
}

func (r *dkgRound1) CanProceed() bool {
	return len(r.session.part1) == r.session.params.PartyCount()
}

func (r *dkgRound1) NextRound() Round {
	return &dkgRound2{session: r.session}
}

func (r *dkgRound1) WaitingFor() []*Participant {
	return r.session.params.Parties().IDs().ToUnSorted().filterMissing(r.session.part1)
}

func (r *dkgRound1) WrapError(err error, culprits ...*Participant) *Error {
	return NewError(err, CodeCrypto, "dkg", r.RoundNumber(), nil, culprits...)
}

// ----- Round 2: relay every signer's round-1 package to every other signer -----

type dkgRound2 struct {
	session *DKGSession
}

func (r *dkgRound2) Params() *Parameters { return r.session.params }

func (r *dkgRound2) RoundNumber() int { return 2 }

func (r *dkgRound2) Start() *Error {
	for _, p := range r.session.params.Parties().IDs() {
		others := make(map[uint8]*frost.Round1Package, len(r.session.part1)-1)
		for id, pkg := range r.session.part1 {
			if id != p.Identifier {
				others[id] = pkg
			}
		}
		req := &DKGPart2Request{SessionID: r.session.sessionID, Others: others, Extended: r.session.extended}
		msg := NewMessage(MessageRouting{To: []*Participant{p}}, MsgTypeDKGPart2Request, req)
		if err := sendWithRetry(r.session.sender, p, msg, r.session.retryInterval); err != nil {
			return r.WrapError(err, p)
		}
	}
	return nil
}

func (r *dkgRound2) Update() (bool, *Error) { return true, nil }

func (r *dkgRound2) CanAccept(msg ParsedMessage) bool {
	_, ok := msg.Content().(*DKGPart2Response)
	return ok
}

func (r *dkgRound2) CanProceed() bool {
	if r.session.extended {
		// Shares never reach the coordinator in extended mode (each
		// signer pushes them straight to their recipients); round 2 has
		// nothing further to wait for once requests are sent.
		return true
	}
	return len(r.session.part2) == r.session.params.PartyCount()
}

func (r *dkgRound2) NextRound() Round {
	return &dkgRound3{session: r.session}
}

func (r *dkgRound2) WaitingFor() []*Participant {
	return r.session.params.Parties().IDs().ToUnSorted().filterMissing2(r.session.part2)
}

func (r *dkgRound2) WrapError(err error, culprits ...*Participant) *Error {
	return NewError(err, CodeCrypto, "dkg", r.RoundNumber(), nil, culprits...)
}

// ----- Round 3: relay every signer's round-2 shares to their recipient, confirm group public key -----

type dkgRound3 struct {
	session *DKGSession
}

func (r *dkgRound3) Params() *Parameters { return r.session.params }

func (r *dkgRound3) RoundNumber() int { return 3 }

func (r *dkgRound3) Start() *Error {
	if r.session.extended {
		// Every round-2 share already reached its recipient directly
		// through the relay path; there is nothing left for the
		// coordinator to forward. Round 3 just waits for each signer's
		// Final report to arrive as an ordinary DKGPart3Response.
		return nil
	}
	for _, p := range r.session.params.Parties().IDs() {
		fromOthers := make(map[uint8]*frost.Round2Package, len(r.session.part2))
		for from, byRecipient := range r.session.part2 {
			if from == p.Identifier {
				continue
			}
			if pkg, ok := byRecipient[p.Identifier]; ok {
				fromOthers[from] = pkg
			}
		}
		req := &DKGPart3Request{SessionID: r.session.sessionID, FromOthers: fromOthers}
		msg := NewMessage(MessageRouting{To: []*Participant{p}}, MsgTypeDKGPart3Request, req)
		if err := sendWithRetry(r.session.sender, p, msg, r.session.retryInterval); err != nil {
			return r.WrapError(err, p)
		}
	}
	return nil
}

func (r *dkgRound3) Update() (bool, *Error) { return true, nil }

func (r *dkgRound3) CanAccept(msg ParsedMessage) bool {
	_, ok := msg.Content().(*DKGPart3Response)
	return ok
}

func (r *dkgRound3) CanProceed() bool {
	return len(r.session.part3) == r.session.params.PartyCount()
}

func (r *dkgRound3) NextRound() Round {
	s := r.session
	var first *DKGPart3Response
	for _, resp := range s.part3 {
		if first == nil {
			first = resp
			continue
		}
		if first.GroupPublicKeyX.Cmp(resp.GroupPublicKeyX) != 0 || first.GroupPublicKeyY.Cmp(resp.GroupPublicKeyY) != 0 {
			s.fail(ErrBaseInfoNotMatch)
			return nil
		}
	}
	s.deliver(&DKGResult{
		SessionID:       s.sessionID,
		Ciphersuite:     s.params.Ciphersuite(),
		Threshold:       s.params.Threshold(),
		GroupPublicKeyX: first.GroupPublicKeyX,
		GroupPublicKeyY: first.GroupPublicKeyY,
		Participants:    s.params.Parties().IDs(),
	})
	return nil
}

func (r *dkgRound3) WaitingFor() []*Participant {
	return r.session.params.Parties().IDs().ToUnSorted().filterMissing3(r.session.part3)
}

func (r *dkgRound3) WrapError(err error, culprits ...*Participant) *Error {
	return NewError(err, CodeCrypto, "dkg", r.RoundNumber(), nil, culprits...)
}

func (ps UnSortedParticipants) filterMissing(have map[uint8]*frost.Round1Package) []*Participant {
	out := make([]*Participant, 0, len(ps))
	for _, p := range ps {
		if _, ok := have[p.Identifier]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func (ps UnSortedParticipants) filterMissing2(have map[uint8]map[uint8]*frost.Round2Package) []*Participant {
	out := make([]*Participant, 0, len(ps))
	for _, p := range ps {
		if _, ok := have[p.Identifier]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func (ps UnSortedParticipants) filterMissing3(have map[uint8]*DKGPart3Response) []*Participant {
	out := make([]*Participant, 0, len(ps))
	for _, p := range ps {
		if _, ok := have[p.Identifier]; !ok {
			out = append(out, p)
		}
	}
	return out
}
