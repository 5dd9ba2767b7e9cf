// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostcluster/tss"
	"github.com/frostcluster/tss/crypto/frost"
)

// queuedSend is an in-memory Sender that never calls back into the
// dispatcher synchronously (doing so would re-enter a session's mutex
// while BaseStart/BaseUpdate already holds it). Instead it records
// deliveries for the test driver to replay after the triggering Start/
// Update call returns, exactly as an async transport would.
type queuedSend struct {
	pending []delivery
	network *fakeNetwork
}

type delivery struct {
	to  *tss.Participant
	msg tss.Message
}

func (q *queuedSend) Send(to *tss.Participant, msg tss.Message) error {
	q.pending = append(q.pending, delivery{to: to, msg: msg})
	return nil
}

func (q *queuedSend) drain(t *testing.T, manager *tss.SessionManager) {
	for len(q.pending) > 0 {
		d := q.pending[0]
		q.pending = q.pending[1:]
		resp := q.network.deliver(t, d.to, d.msg)
		if resp == nil {
			continue
		}
		_, err := manager.Dispatch(resp)
		require.Nil(t, err)
	}
}

// fakeNetwork plays the part of every signer process: one DKGSignerSession
// and (after DKG) one SignerSignSession per identifier.
type fakeNetwork struct {
	ciphersuite tss.Ciphersuite
	dkg         map[uint8]*tss.DKGSignerSession
	keyShares   map[uint8]*frost.KeyShare
	signers     map[uint8]*tss.SignerSignSession
}

func newFakeNetwork(ciphersuite tss.Ciphersuite) *fakeNetwork {
	return &fakeNetwork{
		ciphersuite: ciphersuite,
		dkg:         make(map[uint8]*tss.DKGSignerSession),
		keyShares:   make(map[uint8]*frost.KeyShare),
		signers:     make(map[uint8]*tss.SignerSignSession),
	}
}

func (n *fakeNetwork) deliver(t *testing.T, to *tss.Participant, msg tss.Message) tss.ParsedMessage {
	parsed, ok := msg.(tss.ParsedMessage)
	require.True(t, ok)
	switch content := parsed.Content().(type) {
	case *tss.DKGPart1Request:
		sess, resp, err := tss.HandlePart1Request(content)
		require.NoError(t, err)
		n.dkg[to.Identifier] = sess
		return tss.NewMessage(tss.MessageRouting{From: to}, tss.MsgTypeDKGPart1Response, resp)
	case *tss.DKGPart2Request:
		resp, err := n.dkg[to.Identifier].HandlePart2Request(content)
		require.NoError(t, err)
		return tss.NewMessage(tss.MessageRouting{From: to}, tss.MsgTypeDKGPart2Response, resp)
	case *tss.DKGPart3Request:
		ks, resp, err := n.dkg[to.Identifier].HandlePart3Request(content)
		require.NoError(t, err)
		n.keyShares[to.Identifier] = ks
		n.signers[to.Identifier] = tss.NewSignerSignSession(ks, tss.NewSignerNonceStore())
		return tss.NewMessage(tss.MessageRouting{From: to}, tss.MsgTypeDKGPart3Response, resp)
	case *tss.SignRound1Request:
		resp, err := n.signers[to.Identifier].HandleRound1(n.ciphersuite, content)
		require.NoError(t, err)
		return tss.NewMessage(tss.MessageRouting{From: to}, tss.MsgTypeSignRound1Response, resp)
	case *tss.SignRound2Request:
		resp, err := n.signers[to.Identifier].HandleRound2(n.ciphersuite, content)
		require.NoError(t, err)
		return tss.NewMessage(tss.MessageRouting{From: to}, tss.MsgTypeSignRound2Response, resp)
	default:
		t.Fatalf("fakeNetwork: unhandled request type %T", content)
		return nil
	}
}

func TestSessionManagerDKGAndSignEndToEnd(t *testing.T) {
	dir := t.TempDir()
	store, err := tss.NewKeyStore(dir, []byte("coordinator-identity-secret"))
	require.NoError(t, err)

	network := newFakeNetwork(tss.Secp256k1)
	sender := &queuedSend{network: network}
	manager := tss.NewSessionManager(store, sender)

	participants := tss.UnSortedParticipants{
		tss.NewParticipant(1, []byte("validator-1"), "addr-1"),
		tss.NewParticipant(2, []byte("validator-2"), "addr-2"),
		tss.NewParticipant(3, []byte("validator-3"), "addr-3"),
	}

	sessionID, end, err := manager.NewKey(tss.Secp256k1, 2, participants, []byte("salt"))
	require.NoError(t, err)
	sender.drain(t, manager)

	result := <-end
	require.Nil(t, result.Err)
	require.NoError(t, manager.CompleteDKG(sessionID, result))

	pkID := tss.PkIdOf(result.GroupPublicKeyX, result.GroupPublicKeyY)
	rec, ok := store.Get(pkID)
	require.True(t, ok)
	assert.Equal(t, 2, rec.Threshold)
	assert.Len(t, rec.Participants, 3)

	subSessionID, signEnd, err := manager.Sign(pkID, []byte("message to sign"), nil, []uint8{1, 2})
	require.NoError(t, err)
	sender.drain(t, manager)

	signResult := <-signEnd
	require.Nil(t, signResult.Err)
	require.NotNil(t, signResult.Signature)
	manager.CompleteSign(subSessionID)
}
