// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

// Round is one linear step of a session state machine (e.g. DKG's
// Part1/Part2/GenPublicKey or signing's Round1/PreRound2/Round2). Sessions
// are driven by the shared BaseParty orchestration in party.go; a concrete
// round only needs to say what it's waiting for and how to advance.
type Round interface {
	Params() *Parameters
	Start() *Error
	Update() (bool, *Error)
	RoundNumber() int
	CanAccept(msg ParsedMessage) bool
	CanProceed() bool
	NextRound() Round
	WaitingFor() []*Participant
	WrapError(err error, culprits ...*Participant) *Error
}
