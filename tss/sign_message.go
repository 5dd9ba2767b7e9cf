// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"math/big"

	"github.com/frostcluster/tss/crypto/frost"
)

const (
	MsgTypeSignRound1Request  = "sign.round1.request"
	MsgTypeSignRound1Response = "sign.round1.response"
	MsgTypeSignRound2Request  = "sign.round2.request"
	MsgTypeSignRound2Response = "sign.round2.response"

	// MsgTypeSigningRequestEx carries a RelayEnvelope for the extended
	// signing path: a subset member's round-2 share pushed at the
	// subset's designated aggregator through the coordinator relay,
	// instead of being aggregated by the coordinator itself.
	MsgTypeSigningRequestEx = "sign.ex"
)

func init() {
	RegisterMessageType(MsgTypeSignRound1Request, func() MessageContent { return &SignRound1Request{} })
	RegisterMessageType(MsgTypeSignRound1Response, func() MessageContent { return &SignRound1Response{} })
	RegisterMessageType(MsgTypeSignRound2Request, func() MessageContent { return &SignRound2Request{} })
	RegisterMessageType(MsgTypeSignRound2Response, func() MessageContent { return &SignRound2Response{} })
	RegisterMessageType(MsgTypeSigningRequestEx, func() MessageContent { return &SigningRequestEx{} })
}

type (
	// SignRound1Request asks a signer to produce a fresh nonce commitment
	// for a signing job (§4.3 Round1 "commit").
	SignRound1Request struct {
		SubSessionID SubSessionId `cbor:"sub_session_id"`
		PkId         [32]byte     `cbor:"pk_id"`
		Message      []byte       `cbor:"message"`
		Tweak        []byte       `cbor:"tweak,omitempty"`
		Participants []uint8      `cbor:"participants"`
	}

	SignRound1Response struct {
		SubSessionID SubSessionId      `cbor:"sub_session_id"`
		Commitment   *frost.Commitment `cbor:"commitment"`
	}

	// SignRound2Request carries the assembled SigningPackage back to a
	// signer (§4.3 PreRound2 "assemble"), who derives its share from it.
	SignRound2Request struct {
		SubSessionID SubSessionId             `cbor:"sub_session_id"`
		PkId         [32]byte                 `cbor:"pk_id"`
		Message      []byte                   `cbor:"message"`
		Tweak        []byte                   `cbor:"tweak,omitempty"`
		Participants []uint8                  `cbor:"participants"`
		Commitments  map[uint8]*frost.Commitment `cbor:"commitments"`
		// Extended, when set, tells the signer to relay its share to
		// Aggregator through the coordinator (SigningRequestEx) instead of
		// returning it directly for the coordinator to aggregate.
		Extended   bool  `cbor:"extended,omitempty"`
		Aggregator uint8 `cbor:"aggregator,omitempty"`
	}

	SignRound2Response struct {
		SubSessionID SubSessionId `cbor:"sub_session_id"`
		Share        *big.Int     `cbor:"share"`
	}

	// SigningRequestEx is the extended relay envelope for signing traffic:
	// a non-aggregator subset member pushes its share at the aggregator,
	// which reports the completed Signature back as a Final envelope.
	SigningRequestEx struct {
		Envelope RelayEnvelope `cbor:"envelope"`
	}
)

func (m *SignRound1Request) ValidateBasic() bool {
	return m != nil && len(m.Message) > 0 && len(m.Participants) > 0
}

func (m *SignRound1Response) ValidateBasic() bool {
	return m != nil && m.Commitment != nil
}

func (m *SignRound2Request) ValidateBasic() bool {
	return m != nil && len(m.Commitments) > 0
}

func (m *SignRound2Response) ValidateBasic() bool {
	return m != nil && m.Share != nil
}

func (m *SigningRequestEx) ValidateBasic() bool { return m != nil }
