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

// SignResult is delivered on a signing session's completion channel
// exactly once.
type SignResult struct {
	SubSessionID SubSessionId
	Signature    *frost.Signature
	Err          *Error
}

// SigningSession is the coordinator-side replica of the signing state
// machine (§4.3): Round1 (commit) -> PreRound2 (assemble) -> Round2
// (share) -> Completed, ending with aggregate+verify. subset is the
// already-selected signer subset (selection happens before the session is
// constructed, per the tie-break rule in §Open Questions (b)).
type SigningSession struct {
	BaseParty
	params       *Parameters
	subSessionID SubSessionId
	pkID         [32]byte
	message      []byte
	tweak        []byte
	subset       []uint8
	groupPK      *frost.KeyShare // only GroupPublicKey field is read
	sender       Sender
	end          chan<- *SignResult
	// extended routes round 2 through the signer-to-signer relay path: a
	// designated aggregator among subset collects every share directly
	// and reports the finished Signature back as a Final envelope, so
	// this session's own NextRound never aggregates.
	extended   bool
	aggregator uint8
	// retryInterval is how long a round waits before re-sending a request
	// that failed to reach its participant; zero disables retrying.
	retryInterval time.Duration

	commitments map[uint8]*frost.Commitment
	shares      map[uint8]*big.Int
}

var _ Party = (*SigningSession)(nil)

func NewSigningSession(
	params *Parameters,
	subSessionID SubSessionId,
	pkID [32]byte,
	message, tweak []byte,
	subset []uint8,
	groupPK *frost.KeyShare,
	sender Sender,
	end chan<- *SignResult,
) *SigningSession {
	return &SigningSession{
		params:       params,
		subSessionID: subSessionID,
		pkID:         pkID,
		message:      message,
		tweak:        tweak,
		subset:       subset,
		groupPK:      groupPK,
		sender:       sender,
		end:          end,
		commitments:  make(map[uint8]*frost.Commitment),
		shares:       make(map[uint8]*big.Int),
	}
}

// setExtended marks the session as using the signer-to-signer relay path
// for round 2, designating subset's lowest identifier as the aggregator
// that collects every share and reports the finished signature back.
func (s *SigningSession) setExtended(v bool) {
	s.extended = v
	if v && len(s.subset) > 0 {
		aggregator := s.subset[0]
		for _, id := range s.subset {
			if id < aggregator {
				aggregator = id
			}
		}
		s.aggregator = aggregator
	}
}

// SetRetryInterval wires the state_channel_retry_interval duration before
// Start() is called; left unset, a round fails immediately on the first
// send error instead of retrying.
func (s *SigningSession) SetRetryInterval(d time.Duration) { s.retryInterval = d }

func (s *SigningSession) Start() *Error {
	return BaseStart(s, "sign")
}

func (s *SigningSession) Update(msg ParsedMessage) (bool, *Error) {
	return BaseUpdate(s, msg, "sign")
}

func (s *SigningSession) FirstRound() Round {
	return &signRound1{session: s}
}

func (s *SigningSession) StoreMessage(msg ParsedMessage) (bool, *Error) {
	from := msg.GetFrom().Identifier
	switch c := msg.Content().(type) {
	case *SignRound1Response:
		s.commitments[from] = c.Commitment
	case *SignRound2Response:
		s.shares[from] = c.Share
	default:
		return false, s.WrapError(ErrInvalidRequest, msg.GetFrom())
	}
	return true, nil
}

func (s *SigningSession) participants() SortedParticipants {
	out := make(SortedParticipants, 0, len(s.subset))
	for _, id := range s.subset {
		if p := s.params.Parties().IDs().FindByIdentifier(id); p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (s *SigningSession) fail(err error, culprits ...*Participant) {
	wrapped := s.WrapError(err, culprits...)
	s.end <- &SignResult{SubSessionID: s.subSessionID, Err: wrapped}
}

// ----- Round 1: ask every selected signer to commit fresh nonces -----

type signRound1 struct {
	session *SigningSession
}

func (r *signRound1) Params() *Parameters { return r.session.params }
func (r *signRound1) RoundNumber() int    { return 1 }

func (r *signRound1) Start() *Error {
	s := r.session
	req := &SignRound1Request{
		SubSessionID: s.subSessionID,
		PkId:         s.pkID,
		Message:      s.message,
		Tweak:        s.tweak,
		Participants: s.subset,
	}
	for _, p := range s.participants() {
		msg := NewMessage(MessageRouting{To: []*Participant{p}}, MsgTypeSignRound1Request, req)
		if err := sendWithRetry(s.sender, p, msg, s.retryInterval); err != nil {
			return r.WrapError(err, p)
		}
	}
	return nil
}

func (r *signRound1) Update() (bool, *Error) { return true, nil }

func (r *signRound1) CanAccept(msg ParsedMessage) bool {
	_, ok := msg.Content().(*SignRound1Response)
	return ok
}

func (r *signRound1) CanProceed() bool {
	return len(r.session.commitments) == len(r.session.subset)
}

func (r *signRound1) NextRound() Round { return &signRound2{session: r.session} }

func (r *signRound1) WaitingFor() []*Participant {
	return r.session.participants().ToUnSorted().filterMissingCommitment(r.session.commitments)
}

func (r *signRound1) WrapError(err error, culprits ...*Participant) *Error {
	return NewError(err, CodeCrypto, "sign", r.RoundNumber(), nil, culprits...)
}

// ----- Round 2: assemble the signing package, broadcast it, collect shares -----

type signRound2 struct {
	session *SigningSession
}

func (r *signRound2) Params() *Parameters { return r.session.params }
func (r *signRound2) RoundNumber() int    { return 2 }

func (r *signRound2) Start() *Error {
	s := r.session
	req := &SignRound2Request{
		SubSessionID: s.subSessionID,
		PkId:         s.pkID,
		Message:      s.message,
		Tweak:        s.tweak,
		Participants: s.subset,
		Commitments:  s.commitments,
		Extended:     s.extended,
		Aggregator:   s.aggregator,
	}
	for _, p := range s.participants() {
		msg := NewMessage(MessageRouting{To: []*Participant{p}}, MsgTypeSignRound2Request, req)
		if err := sendWithRetry(s.sender, p, msg, s.retryInterval); err != nil {
			return r.WrapError(err, p)
		}
	}
	return nil
}

func (r *signRound2) Update() (bool, *Error) { return true, nil }

func (r *signRound2) CanAccept(msg ParsedMessage) bool {
	_, ok := msg.Content().(*SignRound2Response)
	return ok
}

func (r *signRound2) CanProceed() bool {
	if r.session.extended {
		// Shares never reach the coordinator in extended mode; the
		// designated aggregator collects them directly and reports the
		// finished signature back through DeliverExtendedSignResult.
		return true
	}
	return len(r.session.shares) == len(r.session.subset)
}

func (r *signRound2) NextRound() Round {
	s := r.session
	if s.extended {
		return nil
	}
	curve, err := s.params.Ciphersuite().Curve()
	if err != nil {
		s.fail(err)
		return nil
	}
	pkg := &frost.SigningPackage{
		Message:      s.message,
		Tweak:        s.tweak,
		Participants: s.subset,
		Commitments:  s.commitments,
	}
	sig, err := frost.Aggregate(curve, pkg, s.shares, s.groupPK.GroupPublicKey)
	if err != nil {
		s.fail(err)
		return nil
	}
	s.end <- &SignResult{SubSessionID: s.subSessionID, Signature: sig}
	return nil
}

func (r *signRound2) WaitingFor() []*Participant {
	return r.session.participants().ToUnSorted().filterMissingShare(r.session.shares)
}

func (r *signRound2) WrapError(err error, culprits ...*Participant) *Error {
	return NewError(err, CodeCrypto, "sign", r.RoundNumber(), nil, culprits...)
}

func (ps UnSortedParticipants) filterMissingCommitment(have map[uint8]*frost.Commitment) []*Participant {
	out := make([]*Participant, 0, len(ps))
	for _, p := range ps {
		if _, ok := have[p.Identifier]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func (ps UnSortedParticipants) filterMissingShare(have map[uint8]*big.Int) []*Participant {
	out := make([]*Participant, 0, len(ps))
	for _, p := range ps {
		if _, ok := have[p.Identifier]; !ok {
			out = append(out, p)
		}
	}
	return out
}
