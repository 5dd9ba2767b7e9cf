// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"crypto/rand"
	"io"
)

// Parameters is the immutable configuration a session round is built
// against: which ciphersuite and threshold it runs under, the participant
// set, and which of those participants (if any) is the local one.
type Parameters struct {
	ciphersuite Ciphersuite
	parties     *ParticipantSet
	partyCount  int
	threshold   int
	rnd         io.Reader
}

// NewParameters constructs session Parameters. ourID on ctx should be nil
// for a coordinator-side session (the coordinator is not itself a
// participant).
func NewParameters(ciphersuite Ciphersuite, ctx *ParticipantSet, threshold int) *Parameters {
	return &Parameters{
		ciphersuite: ciphersuite,
		parties:     ctx,
		partyCount:  ctx.Len(),
		threshold:   threshold,
		rnd:         rand.Reader,
	}
}

func (params *Parameters) Ciphersuite() Ciphersuite {
	return params.ciphersuite
}

func (params *Parameters) Parties() *ParticipantSet {
	return params.parties
}

func (params *Parameters) PartyID() *Participant {
	return params.parties.OurParticipant()
}

func (params *Parameters) PartyCount() int {
	return params.partyCount
}

func (params *Parameters) Threshold() int {
	return params.threshold
}

func (params *Parameters) Rand() io.Reader {
	return params.rnd
}

func (params *Parameters) SetRand(r io.Reader) {
	params.rnd = r
}
