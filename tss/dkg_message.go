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

// DKG message type tags, registered with the wire envelope in init() below.
const (
	MsgTypeDKGPart1Request  = "dkg.part1.request"
	MsgTypeDKGPart1Response = "dkg.part1.response"
	MsgTypeDKGPart2Request  = "dkg.part2.request"
	MsgTypeDKGPart2Response = "dkg.part2.response"
	MsgTypeDKGPart3Request  = "dkg.part3.request"
	MsgTypeDKGPart3Response = "dkg.part3.response"

	// MsgTypeDKGRequestEx carries a RelayEnvelope for the extended,
	// signer-to-signer relay path: a round-2 share pushed directly at its
	// recipient through the coordinator instead of being assembled by it.
	MsgTypeDKGRequestEx = "dkg.ex"
)

func init() {
	RegisterMessageType(MsgTypeDKGPart1Request, func() MessageContent { return &DKGPart1Request{} })
	RegisterMessageType(MsgTypeDKGPart1Response, func() MessageContent { return &DKGPart1Response{} })
	RegisterMessageType(MsgTypeDKGPart2Request, func() MessageContent { return &DKGPart2Request{} })
	RegisterMessageType(MsgTypeDKGPart2Response, func() MessageContent { return &DKGPart2Response{} })
	RegisterMessageType(MsgTypeDKGPart3Request, func() MessageContent { return &DKGPart3Request{} })
	RegisterMessageType(MsgTypeDKGPart3Response, func() MessageContent { return &DKGPart3Response{} })
	RegisterMessageType(MsgTypeDKGRequestEx, func() MessageContent { return &DKGRequestEx{} })
}

type (
	// DKGPart1Request opens a DKG job for a signer: the session it was
	// assigned into, the ciphersuite and threshold under which it runs,
	// and the full participant list (identifier assignments are fixed by
	// the coordinator for the life of the session).
	DKGPart1Request struct {
		SessionID    SessionId `cbor:"session_id"`
		Ciphersuite  Ciphersuite `cbor:"ciphersuite"`
		Threshold    int       `cbor:"threshold"`
		Identifier   uint8     `cbor:"identifier"`
		Participants []uint8   `cbor:"participants"`
	}

	// DKGPart1Response carries a signer's round-1 broadcast package back
	// to the coordinator for relay to every other signer.
	DKGPart1Response struct {
		SessionID SessionId           `cbor:"session_id"`
		Package   *frost.Round1Package `cbor:"package"`
	}

	// DKGPart2Request relays every other participant's round-1 package to
	// one signer: the coordinator never computes FROST arithmetic itself,
	// only forwards what signers broadcast.
	DKGPart2Request struct {
		SessionID SessionId                       `cbor:"session_id"`
		Others    map[uint8]*frost.Round1Package `cbor:"others"`
		// Extended, when set, tells the signer to push its round-2 shares
		// directly to their recipients through the coordinator relay
		// (DKGRequestEx) instead of returning them batched in a single
		// DKGPart2Response.
		Extended bool `cbor:"extended,omitempty"`
	}

	// DKGPart2Response carries a signer's round-2 per-recipient shares
	// back to the coordinator, keyed by recipient identifier, for
	// individual (non-broadcast) relay to each recipient.
	DKGPart2Response struct {
		SessionID SessionId                       `cbor:"session_id"`
		Shares    map[uint8]*frost.Round2Package `cbor:"shares"`
	}

	// DKGPart3Request relays to one signer exactly the round-2 shares
	// addressed to it.
	DKGPart3Request struct {
		SessionID  SessionId                       `cbor:"session_id"`
		FromOthers map[uint8]*frost.Round2Package `cbor:"from_others"`
	}

	// DKGPart3Response reports the signer's derived group public key so
	// the coordinator can confirm every signer agrees (§8 invariant 2)
	// before recording the KeyRecord.
	DKGPart3Response struct {
		SessionID        SessionId `cbor:"session_id"`
		GroupPublicKeyX  *big.Int  `cbor:"gpk_x"`
		GroupPublicKeyY  *big.Int  `cbor:"gpk_y"`
	}

	// DKGRequestEx is the extended relay envelope for DKG traffic. It rides
	// signer->coordinator (a direct per-recipient share push, or a
	// completed participant's Final report) and coordinator->signer (the
	// verbatim forwarded copy of an Intermediate envelope).
	DKGRequestEx struct {
		Envelope RelayEnvelope `cbor:"envelope"`
	}
)

func (m *DKGPart1Request) ValidateBasic() bool {
	return m != nil && m.Ciphersuite.Valid() && m.Threshold > 0 && m.Identifier != 0 && len(m.Participants) >= m.Threshold
}

func (m *DKGPart1Response) ValidateBasic() bool {
	return m != nil && m.Package != nil && m.Package.Identifier != 0
}

func (m *DKGPart2Request) ValidateBasic() bool {
	return m != nil && len(m.Others) > 0
}

func (m *DKGPart2Response) ValidateBasic() bool {
	return m != nil
}

func (m *DKGPart3Request) ValidateBasic() bool {
	return m != nil
}

func (m *DKGPart3Response) ValidateBasic() bool {
	return m != nil && m.GroupPublicKeyX != nil && m.GroupPublicKeyY != nil
}

func (m *DKGRequestEx) ValidateBasic() bool { return m != nil }
