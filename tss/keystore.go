// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/frostcluster/tss/common"
)

// KeyRecord is the content-addressed, immutable-once-written result of a
// completed DKG. The coordinator never holds a participant's secret share
// (those are owned by the signer session replicas, §4.4); what the key
// store persists is the public record needed to route and verify future
// signing jobs for this key.
type KeyRecord struct {
	PkId           [32]byte        `cbor:"pk_id"`
	Ciphersuite    Ciphersuite     `cbor:"ciphersuite"`
	GroupPublicKeyX *big.Int       `cbor:"gpk_x"`
	GroupPublicKeyY *big.Int       `cbor:"gpk_y"`
	Threshold      int             `cbor:"threshold"`
	Participants   SortedParticipants `cbor:"participants"`
}

// PkIdOf computes the content address of a group public key: PkId = H(group_pk).
func PkIdOf(x, y *big.Int) [32]byte {
	var out [32]byte
	copy(out[:], common.SHA512_256(x.Bytes(), y.Bytes()))
	return out
}

// KeyStore is the encrypted-at-rest, content-addressed persistent map from
// PkId to KeyRecord described in §3/§6. It is single-owner: the session
// manager is the only writer.
type KeyStore struct {
	mtx     sync.RWMutex
	dir     string
	aead    interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
	cache map[[32]byte]*KeyRecord
}

// derive_secret("keystore") — an HKDF-SHA256 expansion of the coordinator's
// long-term identity key into the symmetric key used to seal KeyRecords at
// rest under <base>/keystore/.
func deriveKeystoreKey(identitySecret []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, identitySecret, nil, []byte("keystore"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, errors.Wrap(err, "derive_secret(\"keystore\")")
	}
	return key, nil
}

// NewKeyStore opens (creating if absent) the encrypted key store rooted at
// dir, keyed off the coordinator's long-term identity secret.
func NewKeyStore(dir string, identitySecret []byte) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "mkdir keystore dir")
	}
	key, err := deriveKeystoreKey(identitySecret)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "init chacha20poly1305")
	}
	ks := &KeyStore{dir: dir, aead: aead, cache: make(map[[32]byte]*KeyRecord)}
	if err := ks.loadAll(); err != nil {
		return nil, err
	}
	return ks, nil
}

func (ks *KeyStore) path(pkID [32]byte) string {
	return filepath.Join(ks.dir, hex.EncodeToString(pkID[:])+".cbor.enc")
}

func (ks *KeyStore) loadAll() error {
	entries, err := os.ReadDir(ks.dir)
	if err != nil {
		return errors.Wrap(err, "read keystore dir")
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		bz, err := os.ReadFile(filepath.Join(ks.dir, ent.Name()))
		if err != nil {
			return errors.Wrapf(err, "read keystore entry %s", ent.Name())
		}
		rec, err := ks.decrypt(bz)
		if err != nil {
			return errors.Wrapf(err, "decrypt keystore entry %s", ent.Name())
		}
		ks.cache[rec.PkId] = rec
	}
	return nil
}

func (ks *KeyStore) decrypt(sealed []byte) (*KeyRecord, error) {
	n := ks.aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("keystore: ciphertext too short")
	}
	nonce, ct := sealed[:n], sealed[n:]
	plain, err := ks.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errors.Wrap(err, "keystore: open")
	}
	var rec KeyRecord
	if err := cbor.Unmarshal(plain, &rec); err != nil {
		return nil, errors.Wrap(err, "keystore: unmarshal record")
	}
	return &rec, nil
}

func (ks *KeyStore) encrypt(rec *KeyRecord) ([]byte, error) {
	plain, err := cbor.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "keystore: marshal record")
	}
	nonce := make([]byte, ks.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "keystore: nonce")
	}
	return append(nonce, ks.aead.Seal(nil, nonce, plain, nil)...), nil
}

// Get returns the KeyRecord for pkID, if any.
func (ks *KeyStore) Get(pkID [32]byte) (*KeyRecord, bool) {
	ks.mtx.RLock()
	defer ks.mtx.RUnlock()
	rec, ok := ks.cache[pkID]
	return rec, ok
}

// List returns every persisted KeyRecord, grouped by nothing in particular;
// callers (session manager's ListPkIds) group by ciphersuite themselves.
func (ks *KeyStore) List() []*KeyRecord {
	ks.mtx.RLock()
	defer ks.mtx.RUnlock()
	out := make([]*KeyRecord, 0, len(ks.cache))
	for _, rec := range ks.cache {
		out = append(out, rec)
	}
	return out
}

// Put writes rec exactly once (PkId is immutable once written). Writing the
// same PkId a second time is a no-op, making DKG completion idempotent
// per §4.2.
func (ks *KeyStore) Put(rec *KeyRecord) error {
	ks.mtx.Lock()
	defer ks.mtx.Unlock()
	if _, exists := ks.cache[rec.PkId]; exists {
		return nil
	}
	bz, err := ks.encrypt(rec)
	if err != nil {
		return err
	}
	tmp := ks.path(rec.PkId) + ".tmp"
	if err := os.WriteFile(tmp, bz, 0o600); err != nil {
		return errors.Wrap(err, "keystore: write temp")
	}
	if err := os.Rename(tmp, ks.path(rec.PkId)); err != nil {
		return errors.Wrap(err, "keystore: rename")
	}
	ks.cache[rec.PkId] = rec
	return nil
}
