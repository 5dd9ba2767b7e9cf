// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package main

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/frostcluster/tss"
	"github.com/frostcluster/tss/internal/config"
	"github.com/frostcluster/tss/internal/identity"
	"github.com/frostcluster/tss/internal/p2p"
)

// signerProcess registers with the coordinator and then answers every
// DKG/signing request it routes, through the same Transport/Dispatcher
// machinery the coordinator uses.
type signerProcess struct {
	identity *identity.Identity
	host     *p2p.Transport
	signer   *tss.Signer
	log      *zap.SugaredLogger
}

func newSignerProcess(settings *config.Settings, logger *zap.SugaredLogger) (*signerProcess, error) {
	id, err := loadOrCreateIdentity(settings.IdentityKeyFile)
	if err != nil {
		return nil, err
	}

	lp2pHost, err := p2p.NewHost(id.P2PPrivKey(), settings.ListenAddr, logger)
	if err != nil {
		return nil, err
	}

	replica := tss.NewSigner(id.Identity(), logger)

	var cachedCoordinatorInfo *peer.AddrInfo
	var mu sync.Mutex
	resolve := func(address string) (*peer.AddrInfo, error) {
		mu.Lock()
		defer mu.Unlock()
		if cachedCoordinatorInfo != nil && cachedCoordinatorInfo.ID.String() == address {
			return cachedCoordinatorInfo, nil
		}
		pid, err := peer.Decode(address)
		if err != nil {
			return nil, errors.Wrapf(err, "signer: resolve peer %s", address)
		}
		info := lp2pHost.Peerstore().PeerInfo(pid)
		return &info, nil
	}

	transport := p2p.NewTransport(lp2pHost, resolve, replica, logger)
	// The extended relay path (§4.2) has this signer push shares and Final
	// reports straight at the coordinator, the same Sender the coordinator
	// uses to forward between signers.
	replica.SetSender(transport)
	transport.SetRequestTimeout(settings.Sig2CoorRequestTimeout())

	proc := &signerProcess{identity: id, host: transport, signer: replica, log: logger}

	if settings.CoordinatorAddr != "" {
		info, err := p2p.AddrInfoFromMultiaddrString(settings.CoordinatorAddr)
		if err != nil {
			return nil, errors.Wrap(err, "signer: parse coordinator_addr")
		}
		mu.Lock()
		cachedCoordinatorInfo = info
		mu.Unlock()
		replica.SetCoordinator(info.ID.String())
		if err := proc.register(info.ID.String()); err != nil {
			return nil, errors.Wrap(err, "signer: initial registration")
		}
	}

	return proc, nil
}

// register builds and sends this process's ValidatorIdentity, signed over
// tss.RegistrationDigest, to the coordinator at coordinatorPeerID.
func (p *signerProcess) register(coordinatorPeerID string) error {
	remotePeerID := p.identity.PeerID().String()
	digest := tss.RegistrationDigest(p.identity.Identity(), remotePeerID, coordinatorPeerID)
	msg := tss.NewMessage(tss.MessageRouting{}, tss.MsgTypeValidatorIdentity, &tss.ValidatorIdentity{
		Identity:          p.identity.Identity(),
		// A wall-clock nonce is strictly increasing across restarts,
		// unlike a random one, which the stored-nonce monotonicity check
		// in ValidatorTable.Register would otherwise sometimes reject.
		Nonce:             uint64(time.Now().UnixNano()),
		Signature:         p.identity.Sign(digest),
		RemotePeerID:      remotePeerID,
		CoordinatorPeerID: coordinatorPeerID,
	})
	return p.host.Send(&tss.Participant{Address: coordinatorPeerID}, msg)
}

func (p *signerProcess) Close() error {
	return nil
}
