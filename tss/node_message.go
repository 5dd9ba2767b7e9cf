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

// Message type tags for the §6 node->coordinator and signer->coordinator
// outer protocols. These ride the same CBOR envelope/registry as the
// per-session DKG/signing messages in dkg_message.go/sign_message.go; the
// coordinator dispatches on the tag before either routing to a live
// session (dkg./sign.) or handling the request itself (node./signer.).
const (
	MsgTypeValidatorIdentity = "signer.identity"
	MsgTypeRegisterAck       = "signer.identity.ack"

	MsgTypeDKGRequest  = "node.dkg.request"
	MsgTypeDKGResponse = "node.dkg.response"

	MsgTypeSigningRequest  = "node.sign.request"
	MsgTypeSigningResponse = "node.sign.response"

	MsgTypeLsPkRequest  = "node.lspk.request"
	MsgTypeLsPkResponse = "node.lspk.response"

	MsgTypePkTweakRequest  = "node.pktweak.request"
	MsgTypePkTweakResponse = "node.pktweak.response"

	MsgTypeAutoDKGRequest  = "node.autodkg.request"
	MsgTypeAutoDKGResponse = "node.autodkg.response"

	MsgTypeFailure = "failure"
)

func init() {
	RegisterMessageType(MsgTypeValidatorIdentity, func() MessageContent { return &ValidatorIdentity{} })
	RegisterMessageType(MsgTypeRegisterAck, func() MessageContent { return &RegisterAck{} })
	RegisterMessageType(MsgTypeDKGRequest, func() MessageContent { return &DKGRequest{} })
	RegisterMessageType(MsgTypeDKGResponse, func() MessageContent { return &DKGResponse{} })
	RegisterMessageType(MsgTypeSigningRequest, func() MessageContent { return &SigningRequest{} })
	RegisterMessageType(MsgTypeSigningResponse, func() MessageContent { return &SigningResponse{} })
	RegisterMessageType(MsgTypeLsPkRequest, func() MessageContent { return &LsPkRequest{} })
	RegisterMessageType(MsgTypeLsPkResponse, func() MessageContent { return &LsPkResponse{} })
	RegisterMessageType(MsgTypePkTweakRequest, func() MessageContent { return &PkTweakRequest{} })
	RegisterMessageType(MsgTypePkTweakResponse, func() MessageContent { return &PkTweakResponse{} })
	RegisterMessageType(MsgTypeAutoDKGRequest, func() MessageContent { return &AutoDKGRequest{} })
	RegisterMessageType(MsgTypeAutoDKGResponse, func() MessageContent { return &AutoDKGResponse{} })
	RegisterMessageType(MsgTypeFailure, func() MessageContent { return &Failure{} })
}

type (
	// ValidatorIdentity is the signer->coordinator registration message
	// (§6): a signer presents its identity, a strictly-increasing nonce,
	// and a signature over the registration digest.
	ValidatorIdentity struct {
		Identity  []byte `cbor:"identity"`
		Nonce     uint64 `cbor:"nonce"`
		Signature []byte `cbor:"signature"`
		// RemotePeerID/CoordinatorPeerID are included explicitly (rather
		// than inferred from the transport) so the signed digest matches
		// exactly what both sides compute it over, independent of how the
		// stream happens to be dialed.
		RemotePeerID      string `cbor:"remote_peer_id"`
		CoordinatorPeerID string `cbor:"coordinator_peer_id"`
	}

	RegisterAck struct {
		OK     bool   `cbor:"ok"`
		Reason string `cbor:"reason,omitempty"`
	}

	// DKGRequest is the node->coordinator "new key" instruction (§4.5,
	// §6): generate one base key for ciphersuite under threshold, using
	// every currently-registered validator as the participant set.
	DKGRequest struct {
		Ciphersuite Ciphersuite `cbor:"ciphersuite"`
		Threshold   int         `cbor:"threshold"`
		// Extended routes the job through SessionManager.NewKeyExtended:
		// round-2 shares travel signer-to-signer through the coordinator
		// relay instead of being broadcast by it (§4.2).
		Extended bool `cbor:"extended,omitempty"`
	}

	DKGResponse struct {
		SessionID SessionId `cbor:"session_id"`
		PkId      [32]byte  `cbor:"pk_id"`
	}

	// SigningRequest is the node->coordinator "sign" instruction.
	SigningRequest struct {
		PkId    [32]byte `cbor:"pk_id"`
		Message []byte   `cbor:"message"`
		Tweak   []byte   `cbor:"tweak,omitempty"`
		// Extended routes the job through SessionManager.SignExtended: the
		// subset's designated aggregator collects round-2 shares directly
		// through the coordinator relay instead of the coordinator
		// aggregating them itself (§4.2).
		Extended bool `cbor:"extended,omitempty"`
	}

	SigningResponse struct {
		SubSessionID SubSessionId     `cbor:"sub_session_id"`
		Signature    *frost.Signature `cbor:"signature"`
	}

	// LsPkRequest lists persisted keys, optionally filtered by ciphersuite.
	LsPkRequest struct {
		Ciphersuite *Ciphersuite `cbor:"ciphersuite,omitempty"`
	}

	KeyInfo struct {
		PkId        [32]byte    `cbor:"pk_id"`
		Ciphersuite Ciphersuite `cbor:"ciphersuite"`
		Threshold   int         `cbor:"threshold"`
	}

	LsPkResponse struct {
		Keys []KeyInfo `cbor:"keys"`
	}

	// PkTweakRequest computes a tweaked group public key with no protocol
	// round (§4.5).
	PkTweakRequest struct {
		PkId  [32]byte `cbor:"pk_id"`
		Tweak []byte   `cbor:"tweak"`
	}

	PkTweakResponse struct {
		X *big.Int `cbor:"x"`
		Y *big.Int `cbor:"y"`
	}

	// AutoDKGRequest asks the coordinator to report the status of the
	// optional auto-DKG controller (§4.6); it triggers no protocol round
	// itself, the controller runs independently off registration events.
	AutoDKGRequest struct{}

	AutoDKGResponse struct {
		Enabled  bool      `cbor:"enabled"`
		ReadOnly bool      `cbor:"read_only"`
		Keys     []KeyInfo `cbor:"keys"`
	}

	// Failure is the generic error response any request-side message type
	// may receive back instead of its normal response, per §7 policy (1):
	// a failed handler replies Failure(text) and never aborts the caller.
	Failure struct {
		Reason string `cbor:"reason"`
	}
)

func (m *ValidatorIdentity) ValidateBasic() bool {
	return m != nil && len(m.Identity) > 0 && len(m.Signature) > 0
}

func (m *RegisterAck) ValidateBasic() bool { return m != nil }

func (m *DKGRequest) ValidateBasic() bool {
	return m != nil && m.Ciphersuite.Valid() && m.Threshold > 0
}

func (m *DKGResponse) ValidateBasic() bool { return m != nil }

func (m *SigningRequest) ValidateBasic() bool {
	return m != nil && len(m.Message) > 0
}

func (m *SigningResponse) ValidateBasic() bool { return m != nil }

func (m *LsPkRequest) ValidateBasic() bool { return m != nil }

func (m *LsPkResponse) ValidateBasic() bool { return m != nil }

func (m *PkTweakRequest) ValidateBasic() bool { return m != nil }

func (m *PkTweakResponse) ValidateBasic() bool { return m != nil }

func (m *AutoDKGRequest) ValidateBasic() bool { return m != nil }

func (m *AutoDKGResponse) ValidateBasic() bool { return m != nil }

func (m *Failure) ValidateBasic() bool { return m != nil && m.Reason != "" }
