// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Coordinator is the process-level frontend of §2/§6: it terminates the
// node->coordinator and signer->coordinator protocols over the shared p2p
// transport, delegating protocol rounds to the SessionManager and
// registration to the ValidatorTable. It is the Dispatcher the coordinator
// process's internal/p2p.Transport is constructed with.
type Coordinator struct {
	manager           *SessionManager
	validators        *ValidatorTable
	autoDKG           *AutoDKGController // nil when auto-DKG is disabled
	coordinatorPeerID string
	log               *zap.SugaredLogger
	// sender forwards extended-relay envelopes (§4.2) on; it is wired
	// after construction, once the transport exists, the same way
	// SessionManager.SetSender is.
	sender Sender
	// resultTimeout bounds how long a node request waits on a session's
	// result channel (node2coor_request_timeout); zero waits indefinitely.
	resultTimeout time.Duration
}

func NewCoordinator(manager *SessionManager, validators *ValidatorTable, autoDKG *AutoDKGController, coordinatorPeerID string, log *zap.SugaredLogger) *Coordinator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Coordinator{
		manager:           manager,
		validators:        validators,
		autoDKG:           autoDKG,
		coordinatorPeerID: coordinatorPeerID,
		log:               log,
	}
}

// SetSender wires the transport used to forward extended-relay envelopes,
// once it exists (the transport's Dispatcher is this Coordinator, so the
// Sender can only be built once the Coordinator already exists).
func (c *Coordinator) SetSender(sender Sender) {
	c.sender = sender
}

// SetResultTimeout wires node2coor_request_timeout: a node request that
// outlives it fails instead of blocking the requester forever on a session
// stuck waiting on an unreachable signer (§4.2's retry eventually gives up
// too, but this bounds the node-facing request regardless).
func (c *Coordinator) SetResultTimeout(d time.Duration) {
	c.resultTimeout = d
}

// awaitResult blocks on end for c.resultTimeout, or indefinitely if unset.
func (c *Coordinator) awaitResult(end <-chan *DKGResult) (*DKGResult, error) {
	if c.resultTimeout <= 0 {
		return <-end, nil
	}
	select {
	case result := <-end:
		return result, nil
	case <-time.After(c.resultTimeout):
		return nil, errors.New("coordinator: timed out waiting for DKG result")
	}
}

// awaitSignResult blocks on end for c.resultTimeout, or indefinitely if unset.
func (c *Coordinator) awaitSignResult(end <-chan *SignResult) (*SignResult, error) {
	if c.resultTimeout <= 0 {
		return <-end, nil
	}
	select {
	case result := <-end:
		return result, nil
	case <-time.After(c.resultTimeout):
		return nil, errors.New("coordinator: timed out waiting for signing result")
	}
}

// HandleWireMessage implements internal/p2p.Dispatcher.
func (c *Coordinator) HandleWireMessage(from *Participant, wireBytes []byte) ([]byte, error) {
	parsed, err := ParseWireMessage(wireBytes, from, false)
	if err != nil {
		return nil, err
	}
	resp, typ, err := c.handle(from, parsed)
	if err != nil {
		c.log.Warnw("coordinator: request failed", "err", err, "type", parsed.Type(), "request_id", parsed.RequestID())
		return encodeContent(MsgTypeFailure, &Failure{Reason: err.Error()})
	}
	if resp == nil {
		// Session-round responses (DKG/sign) have nowhere further to
		// reply to: the sender already got its answer when the
		// *request* stream closed. Acknowledge with a RegisterAck{OK:
		// true} no-op so the stream always gets a frame.
		return encodeContent(MsgTypeRegisterAck, &RegisterAck{OK: true})
	}
	return encodeContent(typ, resp)
}

func (c *Coordinator) handle(from *Participant, msg ParsedMessage) (MessageContent, string, error) {
	switch content := msg.Content().(type) {
	case *ValidatorIdentity:
		return c.handleRegister(from, content)
	case *DKGPart1Response:
		return nil, "", c.dispatchSessionResponse(from, content.SessionID, msg)
	case *DKGPart2Response:
		return nil, "", c.dispatchSessionResponse(from, content.SessionID, msg)
	case *DKGPart3Response:
		return nil, "", c.dispatchSessionResponse(from, content.SessionID, msg)
	case *SignRound1Response:
		return nil, "", c.dispatchSubSessionResponse(from, content.SubSessionID, msg)
	case *SignRound2Response:
		return nil, "", c.dispatchSubSessionResponse(from, content.SubSessionID, msg)
	case *DKGRequest:
		return c.handleDKGRequest(content)
	case *SigningRequest:
		return c.handleSigningRequest(content)
	case *LsPkRequest:
		return c.handleLsPk(content)
	case *PkTweakRequest:
		return c.handlePkTweak(content)
	case *AutoDKGRequest:
		return c.handleAutoDKGStatus()
	case *DKGRequestEx:
		return c.handleDKGRelay(from, content)
	case *SigningRequestEx:
		return c.handleSigningRelay(from, content)
	default:
		return nil, "", errors.Errorf("coordinator: unhandled message type %T", content)
	}
}

// resolveIdentity turns the bare transport-address Participant the p2p
// layer hands every inbound message into the identity the validator table
// knows it by.
func (c *Coordinator) resolveIdentity(from *Participant) ([]byte, error) {
	v := c.validators.ByAddress(from.Address)
	if v == nil {
		return nil, errors.Wrap(ErrInvalidRequest, "coordinator: message from an unregistered peer")
	}
	return v.Identity, nil
}

func (c *Coordinator) dispatchSessionResponse(from *Participant, sessionID SessionId, msg ParsedMessage) error {
	identity, err := c.resolveIdentity(from)
	if err != nil {
		return err
	}
	p := c.manager.ParticipantForDKG(sessionID, identity)
	if p == nil {
		return errors.Wrap(ErrInvalidSessionId, "coordinator: response from a non-participant or unknown session")
	}
	retargeted := NewMessage(MessageRouting{From: p}, msg.Type(), msg.Content())
	_, perr := c.manager.Dispatch(retargeted)
	if perr != nil {
		return perr
	}
	return nil
}

func (c *Coordinator) dispatchSubSessionResponse(from *Participant, subSessionID SubSessionId, msg ParsedMessage) error {
	identity, err := c.resolveIdentity(from)
	if err != nil {
		return err
	}
	p := c.manager.ParticipantForSign(subSessionID, identity)
	if p == nil {
		return errors.Wrap(ErrInvalidSessionId, "coordinator: response from a non-participant or unknown sub-session")
	}
	retargeted := NewMessage(MessageRouting{From: p}, msg.Type(), msg.Content())
	_, perr := c.manager.Dispatch(retargeted)
	if perr != nil {
		return perr
	}
	return nil
}

// relayTargets resolves a RelayTarget against a session's participant
// list for the extended relay path (§4.2): Broadcast forwards to every
// participant except fromID, a direct Target forwards to that one
// participant after validating it is actually a member of the session.
func relayTargets(target RelayTarget, participants UnSortedParticipants, fromID uint8) ([]*Participant, error) {
	if target.Broadcast {
		out := make([]*Participant, 0, len(participants))
		for _, p := range participants {
			if p.Identifier != fromID {
				out = append(out, p)
			}
		}
		return out, nil
	}
	for _, p := range participants {
		if p.Identifier == target.Peer {
			return []*Participant{p}, nil
		}
	}
	return nil, errors.Wrap(ErrInvalidRequest, "coordinator: relay target is not a participant of this session")
}

// handleDKGRelay implements the extended DKG relay's coordinator side: it
// never decodes Payload, only validates the sender and forwards by
// Target, except for Final, which it decodes and feeds into the session
// exactly as an ordinary DKGPart3Response would be.
func (c *Coordinator) handleDKGRelay(from *Participant, content *DKGRequestEx) (MessageContent, string, error) {
	env := content.Envelope
	identity, err := c.resolveIdentity(from)
	if err != nil {
		return nil, "", err
	}
	p := c.manager.ParticipantForDKG(env.BaseInfo.SessionID, identity)
	if p == nil {
		return nil, "", errors.Wrap(ErrInvalidSessionId, "coordinator: dkg relay for an unknown session")
	}
	if env.From != p.Identifier {
		return nil, "", errors.Wrap(ErrInvalidRequest, "coordinator: relay From does not match the authenticated sender")
	}
	switch env.Stage {
	case Init:
		return nil, "", errors.Wrap(ErrInvalidRequest, "coordinator: Init may only originate from the coordinator")
	case Intermediate:
		if c.sender == nil {
			return nil, "", errors.New("coordinator: no sender wired for extended relay")
		}
		targets, terr := relayTargets(env.Target, c.manager.ParticipantsForDKG(env.BaseInfo.SessionID), env.From)
		if terr != nil {
			return nil, "", terr
		}
		for _, target := range targets {
			msg := NewMessage(MessageRouting{}, MsgTypeDKGRequestEx, content)
			if err := c.sender.Send(target, msg); err != nil {
				c.log.Warnw("coordinator: dkg relay forward failed", "err", err, "to", target.Identifier)
			}
		}
		return &RegisterAck{OK: true}, MsgTypeRegisterAck, nil
	case Final:
		var resp DKGPart3Response
		if err := unmarshalRelayPayload(env.Payload, &resp); err != nil {
			return nil, "", errors.Wrap(err, "coordinator: decode relay Final payload")
		}
		retargeted := NewMessage(MessageRouting{From: p}, MsgTypeDKGPart3Response, &resp)
		if _, perr := c.manager.Dispatch(retargeted); perr != nil {
			return nil, "", perr
		}
		return nil, "", nil
	default:
		return nil, "", errors.Errorf("coordinator: unknown relay stage %s", env.Stage)
	}
}

// handleSigningRelay is handleDKGRelay's signing counterpart: a subset
// member's share is forwarded verbatim to the subset's aggregator, whose
// eventual Final report carries the finished Signature directly (there is
// no further coordinator-side aggregation step to feed it into).
func (c *Coordinator) handleSigningRelay(from *Participant, content *SigningRequestEx) (MessageContent, string, error) {
	env := content.Envelope
	switch env.Stage {
	case Init:
		return nil, "", errors.Wrap(ErrInvalidRequest, "coordinator: Init may only originate from the coordinator")
	case Intermediate:
		identity, err := c.resolveIdentity(from)
		if err != nil {
			return nil, "", err
		}
		p := c.manager.ParticipantForSign(env.BaseInfo.SubSessionID, identity)
		if p == nil {
			return nil, "", errors.Wrap(ErrInvalidSessionId, "coordinator: sign relay for an unknown sub-session")
		}
		if env.From != p.Identifier {
			return nil, "", errors.Wrap(ErrInvalidRequest, "coordinator: relay From does not match the authenticated sender")
		}
		if c.sender == nil {
			return nil, "", errors.New("coordinator: no sender wired for extended relay")
		}
		targets, terr := relayTargets(env.Target, c.manager.ParticipantsForSign(env.BaseInfo.SubSessionID), env.From)
		if terr != nil {
			return nil, "", terr
		}
		for _, target := range targets {
			msg := NewMessage(MessageRouting{}, MsgTypeSigningRequestEx, content)
			if err := c.sender.Send(target, msg); err != nil {
				c.log.Warnw("coordinator: sign relay forward failed", "err", err, "to", target.Identifier)
			}
		}
		return &RegisterAck{OK: true}, MsgTypeRegisterAck, nil
	case Final:
		var resp SigningResponse
		if err := unmarshalRelayPayload(env.Payload, &resp); err != nil {
			return nil, "", errors.Wrap(err, "coordinator: decode relay Final payload")
		}
		if derr := c.manager.DeliverExtendedSignResult(env.BaseInfo.SubSessionID, resp.Signature); derr != nil {
			return nil, "", derr
		}
		return nil, "", nil
	default:
		return nil, "", errors.Errorf("coordinator: unknown relay stage %s", env.Stage)
	}
}

// handleRegister validates and records a signer registration, then gives
// the auto-DKG controller (if any) a chance to trigger on the updated
// validator set.
func (c *Coordinator) handleRegister(from *Participant, content *ValidatorIdentity) (MessageContent, string, error) {
	err := c.validators.Register(content.Identity, content.Nonce, from.Address, content.RemotePeerID, content.CoordinatorPeerID, content.Signature)
	if err != nil {
		return nil, "", err
	}
	if c.autoDKG != nil {
		if _, err := c.autoDKG.CheckAndTrigger(); err != nil {
			c.log.Warnw("coordinator: auto-DKG trigger failed", "err", err)
		}
	}
	return &RegisterAck{OK: true}, MsgTypeRegisterAck, nil
}

// currentParticipants assigns deterministic identifiers 1..N to every
// currently-registered validator, sorted by identity so that the same
// registered set always yields the same SessionId (§8 invariant 1).
func (c *Coordinator) currentParticipants() UnSortedParticipants {
	vs := c.validators.List()
	sort.Slice(vs, func(i, j int) bool { return string(vs[i].Identity) < string(vs[j].Identity) })
	out := make(UnSortedParticipants, len(vs))
	for i, v := range vs {
		out[i] = NewParticipant(uint8(i+1), v.Identity, v.Address)
	}
	return out
}

func (c *Coordinator) handleDKGRequest(req *DKGRequest) (MessageContent, string, error) {
	if c.autoDKG != nil && c.autoDKG.ReadOnly() {
		return nil, "", errors.New("coordinator: auto-DKG is active; manual NewKey is rejected to avoid base-key ambiguity")
	}
	participants := c.currentParticipants()
	if len(participants) == 0 {
		return nil, "", errors.New("coordinator: no registered signers")
	}
	newKey := c.manager.NewKey
	if req.Extended {
		newKey = c.manager.NewKeyExtended
	}
	sessionID, end, err := newKey(req.Ciphersuite, req.Threshold, participants, []byte(req.Ciphersuite))
	if err != nil {
		return nil, "", err
	}
	result, err := c.awaitResult(end)
	if err != nil {
		return nil, "", err
	}
	if cerr := c.manager.CompleteDKG(sessionID, result); cerr != nil {
		return nil, "", cerr
	}
	if result.Err != nil {
		return nil, "", result.Err
	}
	pkID := PkIdOf(result.GroupPublicKeyX, result.GroupPublicKeyY)
	return &DKGResponse{SessionID: sessionID, PkId: pkID}, MsgTypeDKGResponse, nil
}

// selectSigningSubset picks the threshold-sized, lowest-identifier-first
// subset of rec's participants that are currently reachable (present with
// a valid registration), per §4.3/§4.5 and Open Question (b).
func selectSigningSubset(rec *KeyRecord, validators *ValidatorTable) []uint8 {
	var ids []uint8
	for _, p := range rec.Participants {
		if v, ok := validators.Get(p.Identity); ok && v.Address != "" {
			ids = append(ids, p.Identifier)
			if len(ids) == rec.Threshold {
				break
			}
		}
	}
	return ids
}

func (c *Coordinator) handleSigningRequest(req *SigningRequest) (MessageContent, string, error) {
	rec, ok := c.manager.KeyRecord(req.PkId)
	if !ok {
		return nil, "", errors.Wrap(ErrInvalidRequest, "coordinator: unknown pk_id")
	}
	subset := selectSigningSubset(rec, c.validators)
	if len(subset) < rec.Threshold {
		return nil, "", errors.New("coordinator: not enough reachable signers to meet threshold")
	}
	sign := c.manager.Sign
	if req.Extended {
		sign = c.manager.SignExtended
	}
	subSessionID, end, err := sign(req.PkId, req.Message, req.Tweak, subset)
	if err != nil {
		return nil, "", err
	}
	result, err := c.awaitSignResult(end)
	if err != nil {
		return nil, "", err
	}
	c.manager.CompleteSign(subSessionID)
	if result.Err != nil {
		return nil, "", result.Err
	}
	return &SigningResponse{SubSessionID: subSessionID, Signature: result.Signature}, MsgTypeSigningResponse, nil
}

func (c *Coordinator) handleLsPk(req *LsPkRequest) (MessageContent, string, error) {
	recs := c.manager.ListPkIds(req.Ciphersuite)
	out := make([]KeyInfo, len(recs))
	for i, r := range recs {
		out[i] = KeyInfo{PkId: r.PkId, Ciphersuite: r.Ciphersuite, Threshold: r.Threshold}
	}
	return &LsPkResponse{Keys: out}, MsgTypeLsPkResponse, nil
}

func (c *Coordinator) handlePkTweak(req *PkTweakRequest) (MessageContent, string, error) {
	x, y, err := c.manager.PkTweak(req.PkId, req.Tweak)
	if err != nil {
		return nil, "", err
	}
	return &PkTweakResponse{X: x, Y: y}, MsgTypePkTweakResponse, nil
}

func (c *Coordinator) handleAutoDKGStatus() (MessageContent, string, error) {
	if c.autoDKG == nil {
		return &AutoDKGResponse{Enabled: false}, MsgTypeAutoDKGResponse, nil
	}
	threshold, pkIDs := c.autoDKG.Status()
	keys := make([]KeyInfo, 0, len(pkIDs))
	for cs, pkID := range pkIDs {
		keys = append(keys, KeyInfo{PkId: pkID, Ciphersuite: cs, Threshold: threshold})
	}
	return &AutoDKGResponse{Enabled: true, ReadOnly: c.autoDKG.ReadOnly(), Keys: keys}, MsgTypeAutoDKGResponse, nil
}

// --- IPC-facing convenience methods, called in-process by cmd/tssctl ---

// StartDKG is the IPC "start_dkg" command: a local, synchronous shortcut
// for handleDKGRequest that does not round-trip through the wire codec.
func (c *Coordinator) StartDKG(ciphersuite Ciphersuite, threshold int) (SessionId, [32]byte, error) {
	resp, _, err := c.handleDKGRequest(&DKGRequest{Ciphersuite: ciphersuite, Threshold: threshold})
	if err != nil {
		return SessionId{}, [32]byte{}, err
	}
	r := resp.(*DKGResponse)
	return r.SessionID, r.PkId, nil
}

// StartDKGExtended is StartDKG's extended-relay counterpart, for
// exercising the signer-to-signer round-2 path from the IPC surface.
func (c *Coordinator) StartDKGExtended(ciphersuite Ciphersuite, threshold int) (SessionId, [32]byte, error) {
	resp, _, err := c.handleDKGRequest(&DKGRequest{Ciphersuite: ciphersuite, Threshold: threshold, Extended: true})
	if err != nil {
		return SessionId{}, [32]byte{}, err
	}
	r := resp.(*DKGResponse)
	return r.SessionID, r.PkId, nil
}

// Sign is the IPC "sign" command's local entry point.
func (c *Coordinator) Sign(pkID [32]byte, message, tweak []byte) (*SigningResponse, error) {
	resp, _, err := c.handleSigningRequest(&SigningRequest{PkId: pkID, Message: message, Tweak: tweak})
	if err != nil {
		return nil, err
	}
	return resp.(*SigningResponse), nil
}

// SignExtended is Sign's extended-relay counterpart.
func (c *Coordinator) SignExtended(pkID [32]byte, message, tweak []byte) (*SigningResponse, error) {
	resp, _, err := c.handleSigningRequest(&SigningRequest{PkId: pkID, Message: message, Tweak: tweak, Extended: true})
	if err != nil {
		return nil, err
	}
	return resp.(*SigningResponse), nil
}

// ListKeys is the IPC "list_pkid" command's local entry point.
func (c *Coordinator) ListKeys() []KeyInfo {
	resp, _, _ := c.handleLsPk(&LsPkRequest{})
	return resp.(*LsPkResponse).Keys
}

// ListSigners is the IPC "list_signer" command's local entry point.
func (c *Coordinator) ListSigners() []*Validator {
	return c.validators.List()
}
