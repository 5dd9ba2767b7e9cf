// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package main

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/frostcluster/tss"
	"github.com/frostcluster/tss/internal/config"
	"github.com/frostcluster/tss/internal/identity"
	"github.com/frostcluster/tss/internal/ipc"
	"github.com/frostcluster/tss/internal/p2p"
)

// coordinatorProcess owns every long-lived resource the coordinator role
// starts: the libp2p host/transport, the session manager and its key store,
// the validator table, the optional auto-DKG controller, and the IPC
// control server.
type coordinatorProcess struct {
	identity *identity.Identity
	host     *p2p.Transport
	manager  *tss.SessionManager
	coord    *tss.Coordinator
	ipc      *ipc.Server
	log      *zap.SugaredLogger
}

func loadOrCreateIdentity(path string) (*identity.Identity, error) {
	return identity.LoadOrCreate(path)
}

func newCoordinator(settings *config.Settings, logger *zap.SugaredLogger) (*coordinatorProcess, error) {
	id, err := loadOrCreateIdentity(settings.IdentityKeyFile)
	if err != nil {
		return nil, err
	}

	whitelist, err := settings.DecodeWhitelist()
	if err != nil {
		return nil, err
	}
	validators := tss.NewValidatorTable(whitelist)

	store, err := tss.NewKeyStore(filepath.Join(settings.BaseDir, "keystore"), id.Secret())
	if err != nil {
		return nil, err
	}

	lp2pHost, err := p2p.NewHost(id.P2PPrivKey(), settings.ListenAddr, logger)
	if err != nil {
		return nil, err
	}

	resolve := func(address string) (*peer.AddrInfo, error) {
		pid, err := peer.Decode(address)
		if err != nil {
			return nil, errors.Wrapf(err, "coordinator: resolve peer %s", address)
		}
		info := lp2pHost.Peerstore().PeerInfo(pid)
		return &info, nil
	}

	manager := tss.NewSessionManager(store, nil) // sender wired in below once the transport exists
	var autoDKG *tss.AutoDKGController
	if settings.AutoDKG.Enabled {
		ciphersuites, cerr := settings.DecodeCiphersuites()
		if cerr != nil {
			return nil, cerr
		}
		autoDKG, err = tss.NewAutoDKGController(settings.BaseDir, settings.AutoDKG.Threshold, whitelist, ciphersuites, validators, manager)
		if err != nil {
			logger.Warnw("coordinator: auto-DKG starting read-only", "err", err)
		}
	}

	coord := tss.NewCoordinator(manager, validators, autoDKG, id.PeerID().String(), logger)
	transport := p2p.NewTransport(lp2pHost, resolve, coord, logger)
	// SessionManager.NewKey/Sign send outbound round messages through the
	// same transport that delivers the replies back to Coordinator; the
	// Coordinator needs its own copy to forward extended-relay envelopes
	// (§4.2) between signers.
	manager.SetSender(transport)
	coord.SetSender(transport)
	manager.SetRetryInterval(settings.StateChannelRetryInterval())
	transport.SetRequestTimeout(settings.Coor2SigRequestTimeout())
	coord.SetResultTimeout(settings.Node2CoorRequestTimeout())

	proc := &coordinatorProcess{identity: id, host: transport, manager: manager, coord: coord, log: logger}

	ipcServer := ipc.NewServer(settings.IPCSocketPath, logger)
	registerIPCHandlers(ipcServer, proc)
	go func() {
		if err := ipcServer.ListenAndServe(); err != nil {
			logger.Errorw("coordinator: ipc server stopped", "err", err)
		}
	}()
	proc.ipc = ipcServer

	return proc, nil
}

func (p *coordinatorProcess) Close() error {
	if p.ipc != nil {
		return p.ipc.Close()
	}
	return nil
}

func registerIPCHandlers(s *ipc.Server, p *coordinatorProcess) {
	s.Register("help", func(args []string) (string, error) {
		cmds := s.Commands()
		sort.Strings(cmds)
		return strings.Join(cmds, " "), nil
	})
	s.Register("peer_id", func(args []string) (string, error) {
		return p.identity.PeerID().String(), nil
	})
	s.Register("list_signer", func(args []string) (string, error) {
		var lines []string
		for _, v := range p.coord.ListSigners() {
			lines = append(lines, fmt.Sprintf("%s %s", hex.EncodeToString(v.Identity), v.Address))
		}
		return strings.Join(lines, "\n"), nil
	})
	s.Register("dial", func(args []string) (string, error) {
		if len(args) < 1 {
			return "", errors.New("usage: dial <peer_id|multiaddr>")
		}
		if err := p.host.Connect(args[0]); err != nil {
			return "", err
		}
		return "ok", nil
	})
	s.Register("start_dkg", func(args []string) (string, error) {
		if len(args) < 2 {
			return "", errors.New("usage: start_dkg <threshold> <ciphersuite> [ex]")
		}
		threshold, err := strconv.Atoi(args[0])
		if err != nil {
			return "", errors.Wrap(err, "start_dkg: threshold")
		}
		cs := tss.Ciphersuite(args[1])
		startDKG := p.coord.StartDKG
		if len(args) >= 3 && args[2] == "ex" {
			startDKG = p.coord.StartDKGExtended
		}
		_, pkID, err := startDKG(cs, threshold)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(pkID[:]), nil
	})
	s.Register("sign", func(args []string) (string, error) {
		if len(args) < 2 {
			return "", errors.New("usage: sign <pk_id> <message> [tweak_hex] [ex]")
		}
		var tweakHex string
		if len(args) >= 3 {
			tweakHex = args[2]
		}
		extended := len(args) >= 4 && args[3] == "ex"
		resp, err := signOne(p, args[0], args[1], tweakHex, extended)
		if err != nil {
			return "", err
		}
		return resp, nil
	})
	s.Register("loop_sign", func(args []string) (string, error) {
		if len(args) < 2 {
			return "", errors.New("usage: loop_sign <pk_id> <n>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return "", errors.Wrap(err, "loop_sign: n")
		}
		return loopSign(p, args[0], n)
	})
	s.Register("list_pkid", func(args []string) (string, error) {
		var lines []string
		for _, k := range p.coord.ListKeys() {
			lines = append(lines, fmt.Sprintf("%s %s threshold=%d", hex.EncodeToString(k.PkId[:]), k.Ciphersuite, k.Threshold))
		}
		return strings.Join(lines, "\n"), nil
	})
}

func decodePkID(pkIDHex string) ([32]byte, error) {
	var pkID [32]byte
	bz, err := hex.DecodeString(pkIDHex)
	if err != nil || len(bz) != 32 {
		return pkID, errors.New("pk_id must be 32 hex-encoded bytes")
	}
	copy(pkID[:], bz)
	return pkID, nil
}

func signOne(p *coordinatorProcess, pkIDHex, message, tweakHex string, extended bool) (string, error) {
	pkID, err := decodePkID(pkIDHex)
	if err != nil {
		return "", errors.Wrap(err, "sign")
	}
	var tweak []byte
	if tweakHex != "" {
		if tweak, err = hex.DecodeString(tweakHex); err != nil {
			return "", errors.Wrap(err, "sign: tweak")
		}
	}
	sign := p.coord.Sign
	if extended {
		sign = p.coord.SignExtended
	}
	resp, err := sign(pkID, []byte(message), tweak)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rx=%x ry=%x z=%x", resp.Signature.RX, resp.Signature.RY, resp.Signature.Z), nil
}

// loopSign issues n concurrent signing jobs for pkID with fresh random
// messages, timing each and reporting per-job success/timeout (§6
// Supplemented feature 2), rather than a single core Sign instruction.
func loopSign(p *coordinatorProcess, pkIDHex string, n int) (string, error) {
	pkID, err := decodePkID(pkIDHex)
	if err != nil {
		return "", errors.Wrap(err, "loop_sign")
	}
	if n <= 0 {
		return "", errors.New("loop_sign: n must be positive")
	}

	type jobResult struct {
		i        int
		duration time.Duration
		err      error
	}
	results := make(chan jobResult, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			msg := make([]byte, 32)
			if _, err := crand.Read(msg); err != nil {
				results <- jobResult{i: i, err: err}
				return
			}
			start := time.Now()
			_, err := p.coord.Sign(pkID, msg, nil)
			results <- jobResult{i: i, duration: time.Since(start), err: err}
		}(i)
	}

	lines := make([]string, n)
	for j := 0; j < n; j++ {
		r := <-results
		if r.err != nil {
			lines[r.i] = fmt.Sprintf("job %d: failed: %s", r.i, r.err)
		} else {
			lines[r.i] = fmt.Sprintf("job %d: ok in %s", r.i, r.duration)
		}
	}
	return strings.Join(lines, "\n"), nil
}
