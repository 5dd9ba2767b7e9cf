// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/frostcluster/tss/common"
)

// RelayStage tags where a RelayEnvelope sits in the extended, signer-to-
// signer relay path used for DKG round-2 shares and for per-subset
// signing shares when a coordinator-broadcast round cannot carry them
// directly: a private value travels from one signer, through the
// coordinator as a dumb relay, to another signer (or to a designated
// aggregator), instead of being assembled by the coordinator itself.
type RelayStage int

const (
	// Init opens an extended round; only the coordinator may emit it, and
	// a coordinator receiving Init from a signer rejects it.
	Init RelayStage = iota
	// Intermediate carries a signer-originated payload the coordinator
	// forwards by Target without decoding it.
	Intermediate
	// Final reports a participant's completed result back to the
	// coordinator, which feeds it into the session exactly as it would an
	// ordinary round response.
	Final
)

func (s RelayStage) String() string {
	switch s {
	case Init:
		return "init"
	case Intermediate:
		return "intermediate"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// RelayTarget selects an Intermediate RelayEnvelope's recipient(s): either
// one specific participant, or every participant except the sender.
type RelayTarget struct {
	Broadcast bool  `cbor:"broadcast"`
	Peer      uint8 `cbor:"peer,omitempty"`
}

// Target addresses participant j directly.
func Target(j uint8) RelayTarget { return RelayTarget{Peer: j} }

// BroadcastTarget addresses every other participant in the session.
func BroadcastTarget() RelayTarget { return RelayTarget{Broadcast: true} }

// RelayBaseInfo identifies which session a RelayEnvelope belongs to,
// readable without decoding Payload.
type RelayBaseInfo struct {
	SessionID    SessionId    `cbor:"session_id,omitempty"`
	SubSessionID SubSessionId `cbor:"sub_session_id,omitempty"`
	Ciphersuite  Ciphersuite  `cbor:"ciphersuite,omitempty"`
}

// RelayEnvelope is the extended relay wire shape: a thin switch the
// coordinator forwards by Target without interpreting Payload, except for
// Init (rejected from a signer) and Final (decoded into the ordinary
// completion type and dispatched like any other session response).
type RelayEnvelope struct {
	Stage    RelayStage    `cbor:"stage"`
	From     uint8         `cbor:"from"`
	Target   RelayTarget   `cbor:"target,omitempty"`
	BaseInfo RelayBaseInfo `cbor:"base_info"`
	Payload  []byte        `cbor:"payload,omitempty"`
}

func marshalRelayPayload(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

func unmarshalRelayPayload(payload []byte, v interface{}) error {
	if !common.NonEmptyBytes(payload) {
		return errors.New("envelope: relay payload is empty")
	}
	return cbor.Unmarshal(payload, v)
}
