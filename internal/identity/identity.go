// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package identity is a process's long-term Ed25519 keypair: the same key
// both signs registration digests (tss.RegistrationDigest) and, converted to
// a libp2p crypto.PrivKey, determines the process's peer id on the p2p
// transport. Persisted as hex rather than PEM/x509, following the
// content-addressed raw-bytes-on-disk style the key store and auto-DKG
// state already use in this tree, since nothing in the example pack
// encodes a bare Ed25519 key as PEM (drand's key material is a kyber
// scalar, encoded as hex inside a TOML document instead).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	lp2pcrypto "github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
)

// Identity is a process's long-term Ed25519 keypair.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	p2pPriv lp2pcrypto.PrivKey
	peerID  peer.ID
}

// LoadOrCreate reads the hex-encoded Ed25519 seed at path, or generates and
// persists a fresh one if the file does not exist yet. The file is written
// with an atomic write-temp-then-rename, matching the key store's and
// auto-DKG controller's on-disk persistence pattern.
func LoadOrCreate(path string) (*Identity, error) {
	seed, err := loadSeed(path)
	if os.IsNotExist(err) {
		seed = make([]byte, ed25519.SeedSize)
		if _, rerr := rand.Read(seed); rerr != nil {
			return nil, errors.Wrap(rerr, "identity: generate seed")
		}
		if werr := persistSeed(path, seed); werr != nil {
			return nil, werr
		}
	} else if err != nil {
		return nil, err
	}
	return fromSeed(seed)
}

func loadSeed(path string) ([]byte, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(string(bz))
	if err != nil {
		return nil, errors.Wrapf(err, "identity: decode %s", path)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("identity: %s does not hold a %d-byte seed", path, ed25519.SeedSize)
	}
	return seed, nil
}

func persistSeed(path string, seed []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrap(err, "identity: mkdir")
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
		return errors.Wrap(err, "identity: write temp")
	}
	return errors.Wrap(os.Rename(tmp, path), "identity: rename")
}

func fromSeed(seed []byte) (*Identity, error) {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	p2pPriv, err := lp2pcrypto.UnmarshalEd25519PrivateKey(priv)
	if err != nil {
		return nil, errors.Wrap(err, "identity: convert to libp2p key")
	}
	peerID, err := peer.IDFromPrivateKey(p2pPriv)
	if err != nil {
		return nil, errors.Wrap(err, "identity: derive peer id")
	}
	return &Identity{priv: priv, pub: pub, p2pPriv: p2pPriv, peerID: peerID}, nil
}

// Identity returns the raw Ed25519 public key, the same bytes tss.Validator
// and tss.Participant key signers by.
func (id *Identity) Identity() []byte {
	out := make([]byte, len(id.pub))
	copy(out, id.pub)
	return out
}

// Sign signs msg with the process's Ed25519 key, for use as a
// tss.ValidatorIdentity.Signature over tss.RegistrationDigest.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.priv, msg)
}

// Secret exposes the raw 64-byte Ed25519 private key as the input to
// tss.NewKeyStore's HKDF-derived keystore encryption key.
func (id *Identity) Secret() []byte {
	out := make([]byte, len(id.priv))
	copy(out, id.priv)
	return out
}

// P2PPrivKey returns the libp2p-native form of this identity's private key,
// for internal/p2p.NewHost.
func (id *Identity) P2PPrivKey() lp2pcrypto.PrivKey {
	return id.p2pPriv
}

// PeerID returns the libp2p peer id this identity resolves to.
func (id *Identity) PeerID() peer.ID {
	return id.peerID
}
