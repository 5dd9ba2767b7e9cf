// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package p2p is the libp2p transport: one request/response stream
// protocol carrying CBOR-framed tss.Message envelopes between the
// coordinator and its signers, grounded on drand's lp2p host construction
// but built on a direct stream protocol rather than gossip pubsub, since
// the coordinator/signer exchange here is point-to-point RPC, not
// broadcast randomness.
package p2p

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/frostcluster/tss"
)

// ProtocolID identifies the one stream protocol this cluster speaks.
const ProtocolID = protocol.ID("/frostcluster/tss/1.0.0")

// defaultRequestTimeout bounds how long Send waits for a single peer
// dial+write when the process config leaves a timeout unset; a slow or
// unreachable signer fails its round rather than blocking others.
const defaultRequestTimeout = 10 * time.Second

// Transport wraps a libp2p host as a tss.Sender and dispatches inbound
// streams to a Dispatcher.
type Transport struct {
	host host.Host
	log  *zap.SugaredLogger
	// resolve maps a tss.Participant's opaque Address field to a dialable
	// peer.AddrInfo; the coordinator's validator table provides this.
	resolve func(address string) (*peer.AddrInfo, error)
	// dispatcher also answers the reply a Send call reads back on the
	// request stream it opened (see Send); this is the same value passed
	// to NewTransport, reused instead of a separate per-request routing
	// table, since a reply can only ever arrive on the stream Send dialed
	// to the peer it dialed. Each message still carries its own
	// tss.Message.RequestID for log correlation across the two sides of a
	// round-trip, independent of this structural guarantee.
	dispatcher Dispatcher
	// requestTimeout bounds Send's dial+write+response-read, set from the
	// process's coor2sig_request_timeout or sig2coor_request_timeout
	// (§5/§6, whichever direction this Transport is used for).
	requestTimeout time.Duration
}

// Dispatcher is whatever decodes and routes an inbound wire message; the
// coordinator wires this to SessionManager.Dispatch, a signer to its own
// request handlers.
type Dispatcher interface {
	HandleWireMessage(from *tss.Participant, wireBytes []byte) ([]byte, error)
}

// NewHost constructs a libp2p host listening on listenAddr under the given
// identity key.
func NewHost(priv crypto.PrivKey, listenAddr string, log *zap.SugaredLogger) (host.Host, error) {
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.DisableRelay(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "construct libp2p host")
	}
	return h, nil
}

// NewTransport wires h to dispatch inbound protocol streams to d, and
// returns a Transport usable as a tss.Sender for outbound messages.
func NewTransport(h host.Host, resolve func(address string) (*peer.AddrInfo, error), d Dispatcher, log *zap.SugaredLogger) *Transport {
	t := &Transport{host: h, log: log, resolve: resolve, dispatcher: d}
	h.SetStreamHandler(ProtocolID, func(s network.Stream) {
		defer s.Close()
		wireBytes, err := readFrame(s)
		if err != nil {
			log.Warnw("p2p: read frame failed", "err", err, "peer", s.Conn().RemotePeer())
			return
		}
		from := &tss.Participant{Address: s.Conn().RemotePeer().String()}
		respBytes, err := d.HandleWireMessage(from, wireBytes)
		if err != nil {
			log.Warnw("p2p: dispatch failed", "err", err, "peer", s.Conn().RemotePeer())
			return
		}
		if respBytes != nil {
			if err := writeFrame(s, respBytes); err != nil {
				log.Warnw("p2p: write response failed", "err", err)
			}
		}
	})
	return t
}

// SetRequestTimeout overrides the per-request dial+write+response-read
// bound; left unset, requestTimeout() falls back to defaultRequestTimeout.
func (t *Transport) SetRequestTimeout(d time.Duration) { t.requestTimeout = d }

func (t *Transport) requestTimeoutOrDefault() time.Duration {
	if t.requestTimeout <= 0 {
		return defaultRequestTimeout
	}
	return t.requestTimeout
}

// Send implements tss.Sender: it dials to's address, writes the framed
// wire message, and blocks for the single response frame the peer's
// stream handler writes back on the same stream (§5: a request is
// suspended on until its response or the timeout, never concurrently with
// mutating session state). The response is itself fed back into this
// transport's Dispatcher — the same one serving inbound requests — so a
// DKG/signing round-2 response is routed into the originating session by
// SessionManager.Dispatch exactly as an inbound request would be.
func (t *Transport) Send(to *tss.Participant, msg tss.Message) error {
	info, err := t.resolve(to.Address)
	if err != nil {
		return errors.Wrapf(err, "p2p: resolve %s", to.Address)
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.requestTimeoutOrDefault())
	defer cancel()
	if err := t.host.Connect(ctx, *info); err != nil {
		return errors.Wrapf(err, "p2p: connect %s", to.Address)
	}
	wireBytes, _, err := msg.WireBytes()
	if err != nil {
		return errors.Wrap(err, "p2p: encode message")
	}
	s, err := t.host.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return errors.Wrapf(err, "p2p: open stream to %s", to.Address)
	}
	defer s.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}
	if err := writeFrame(s, wireBytes); err != nil {
		return errors.Wrapf(err, "p2p: write request to %s", to.Address)
	}
	respBytes, err := readFrame(s)
	if err != nil {
		return errors.Wrapf(err, "p2p: read response from %s", to.Address)
	}
	if len(respBytes) == 0 || t.dispatcher == nil {
		return nil
	}
	from := &tss.Participant{Address: info.ID.String()}
	if _, err := t.dispatcher.HandleWireMessage(from, respBytes); err != nil {
		return errors.Wrapf(err, "p2p: dispatch response from %s", to.Address)
	}
	return nil
}

// Connect dials address (a bare peer id already known to the peerstore, or
// a full multiaddr including /p2p/<peer id>) and blocks until the
// connection is established or requestTimeout elapses. This backs the IPC
// "dial" command (§6): an operator can pre-warm connectivity to a signer
// before it has registered, or after its address changed, without waiting
// for the next protocol round to discover it is unreachable.
func (t *Transport) Connect(address string) error {
	var info *peer.AddrInfo
	if parsed, err := AddrInfoFromMultiaddrString(address); err == nil {
		info = parsed
	} else {
		resolved, rerr := t.resolve(address)
		if rerr != nil {
			return errors.Wrapf(rerr, "p2p: resolve %s", address)
		}
		info = resolved
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.requestTimeoutOrDefault())
	defer cancel()
	return errors.Wrapf(t.host.Connect(ctx, *info), "p2p: connect %s", address)
}

// AddrInfoFromMultiaddrString parses a participant Address field that is a
// full libp2p multiaddr (including /p2p/<peerid>) into an AddrInfo.
func AddrInfoFromMultiaddrString(address string) (*peer.AddrInfo, error) {
	addr, err := ma.NewMultiaddr(address)
	if err != nil {
		return nil, errors.Wrapf(err, "parse multiaddr %s", address)
	}
	return peer.AddrInfoFromP2pAddr(addr)
}

func writeFrame(w io.Writer, bz []byte) error {
	var lenBz [4]byte
	binary.BigEndian.PutUint32(lenBz[:], uint32(len(bz)))
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(lenBz[:]); err != nil {
		return err
	}
	if _, err := bw.Write(bz); err != nil {
		return err
	}
	return bw.Flush()
}

func readFrame(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var lenBz [4]byte
	if _, err := io.ReadFull(br, lenBz[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBz[:])
	bz := make([]byte, n)
	if _, err := io.ReadFull(br, bz); err != nil {
		return nil, err
	}
	return bz, nil
}
