// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type (
	// Message describes the interface of a session message for all
	// protocols (DKG and signing, coordinator-side and signer-side).
	Message interface {
		Type() string
		GetTo() []*Participant
		GetFrom() *Participant
		IsBroadcast() bool
		// WireBytes returns the CBOR-encoded envelope bytes to send over
		// the wire along with metadata about how the message should be
		// delivered.
		WireBytes() ([]byte, *MessageRouting, error)
		String() string
		// RequestID identifies this particular wire round-trip for
		// traceability in logs; assigned the first time WireBytes encodes
		// the message, or carried over from the inbound envelope for a
		// parsed message.
		RequestID() string
	}

	// ParsedMessage represents a message together with its decoded content.
	ParsedMessage interface {
		Message
		Content() MessageContent
		ValidateBasic() bool
	}

	// MessageContent is any CBOR-serializable round payload with its own
	// validation logic.
	MessageContent interface {
		ValidateBasic() bool
	}

	// MessageRouting holds the full routing information for the message,
	// consumed by the transport.
	MessageRouting struct {
		// which participant this message came from
		From *Participant
		// when `nil` the message should be broadcast to all participants
		To []*Participant
		// whether the message should be broadcast to other participants
		IsBroadcast bool
		// requestID is generated on outbound encode (see WireBytes) or
		// copied from the inbound envelope (see ParseWireMessage); left
		// empty it is filled lazily rather than on construction, so
		// in-process-only callers (tests, the extended relay's synchronous
		// handlers) never pay for one.
		requestID string
	}

	// Envelope is the CBOR wire representation: a type tag plus the raw
	// encoded content, so a receiver can dispatch on Type before decoding
	// Content into the concrete struct registered for that type.
	Envelope struct {
		Type        string          `cbor:"type"`
		From        *Participant    `cbor:"from"`
		To          []*Participant  `cbor:"to,omitempty"`
		IsBroadcast bool            `cbor:"broadcast"`
		Content     cbor.RawMessage `cbor:"content"`
		RequestID   string          `cbor:"request_id,omitempty"`
	}

	// MessageImpl is the concrete ParsedMessage implementation produced by
	// session rounds and by ParseWireMessage.
	MessageImpl struct {
		MessageRouting
		typ     string
		content MessageContent
	}
)

var (
	_ Message       = (*MessageImpl)(nil)
	_ ParsedMessage = (*MessageImpl)(nil)
)

// contentFactories maps a registered message type tag to a constructor for
// its zero-value content, so ParseWireMessage can decode into the right
// concrete Go type without a type switch keyed by wire bytes.
var contentFactories = map[string]func() MessageContent{}

// RegisterMessageType associates a wire type tag with a content factory.
// Called from package init() in the DKG/signing packages that define
// concrete message content types.
func RegisterMessageType(typ string, factory func() MessageContent) {
	contentFactories[typ] = factory
}

// NewMessage constructs a ParsedMessage from routing metadata, a type tag,
// and already-decoded content.
func NewMessage(meta MessageRouting, typ string, content MessageContent) ParsedMessage {
	return &MessageImpl{MessageRouting: meta, typ: typ, content: content}
}

func (mm *MessageImpl) Type() string {
	return mm.typ
}

func (mm *MessageImpl) GetTo() []*Participant {
	return mm.To
}

func (mm *MessageImpl) GetFrom() *Participant {
	return mm.From
}

func (mm *MessageImpl) IsBroadcast() bool {
	return mm.MessageRouting.IsBroadcast
}

// RequestID implements Message: it assigns a fresh id on first use so
// every distinct wire round-trip this process originates can be told
// apart in logs, without forcing every in-process-only caller to carry
// one.
func (mm *MessageImpl) RequestID() string {
	if mm.requestID == "" {
		mm.requestID = uuid.NewString()
	}
	return mm.requestID
}

func (mm *MessageImpl) WireBytes() ([]byte, *MessageRouting, error) {
	contentBz, err := cbor.Marshal(mm.content)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal message content")
	}
	env := Envelope{
		Type:        mm.typ,
		From:        mm.From,
		To:          mm.To,
		IsBroadcast: mm.MessageRouting.IsBroadcast,
		Content:     contentBz,
		RequestID:   mm.RequestID(),
	}
	bz, err := cbor.Marshal(env)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal message envelope")
	}
	return bz, &mm.MessageRouting, nil
}

func (mm *MessageImpl) Content() MessageContent {
	return mm.content
}

func (mm *MessageImpl) ValidateBasic() bool {
	return mm.content.ValidateBasic()
}

func (mm *MessageImpl) String() string {
	toStr := "all"
	if mm.To != nil {
		toStr = fmt.Sprintf("%v", mm.To)
	}
	return fmt.Sprintf("Type: %s, From: %s, To: %s", mm.typ, mm.From.String(), toStr)
}

// ParseWireMessage decodes a CBOR envelope received over the transport into
// a ParsedMessage, looking up the concrete content type by the envelope's
// type tag.
func ParseWireMessage(wireBytes []byte, from *Participant, isBroadcast bool) (ParsedMessage, error) {
	var env Envelope
	if err := cbor.Unmarshal(wireBytes, &env); err != nil {
		return nil, errors.Wrap(err, "unmarshal message envelope")
	}
	factory, ok := contentFactories[env.Type]
	if !ok {
		return nil, errors.Errorf("ParseWireMessage: unregistered message type %q", env.Type)
	}
	content := factory()
	if err := cbor.Unmarshal(env.Content, content); err != nil {
		return nil, errors.Wrapf(err, "unmarshal message content for type %q", env.Type)
	}
	meta := MessageRouting{
		From:        from,
		To:          env.To,
		IsBroadcast: isBroadcast,
		requestID:   env.RequestID,
	}
	return NewMessage(meta, env.Type, content), nil
}
