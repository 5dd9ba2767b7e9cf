// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"crypto/elliptic"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/decred/dcrd/dcrec/edwards/v2"
)

// Ciphersuite tags one of the three FROST backends this cluster runs. Every
// protocol message carries its tag so the adapter dispatches by value rather
// than by type switch.
type Ciphersuite string

const (
	Ed25519    Ciphersuite = "ed25519"
	Secp256k1  Ciphersuite = "secp256k1"
	Secp256k1Tr Ciphersuite = "secp256k1tr"
)

// AllCiphersuites lists every supported ciphersuite, in the order the
// auto-DKG controller runs one base DKG per ciphersuite.
var AllCiphersuites = []Ciphersuite{Ed25519, Secp256k1, Secp256k1Tr}

func (c Ciphersuite) Valid() bool {
	switch c {
	case Ed25519, Secp256k1, Secp256k1Tr:
		return true
	default:
		return false
	}
}

func (c Ciphersuite) String() string {
	return string(c)
}

// Curve returns the underlying elliptic.Curve implementation backing this
// ciphersuite. Secp256k1 and Secp256k1Tr share the same curve arithmetic;
// they differ in how a signature is produced and verified (x-only keys and
// the taproot tweak rule for Secp256k1Tr), not in point arithmetic.
func (c Ciphersuite) Curve() (elliptic.Curve, error) {
	switch c {
	case Ed25519:
		return edwards.Edwards(), nil
	case Secp256k1, Secp256k1Tr:
		return btcec.S256(), nil
	default:
		return nil, fmt.Errorf("ciphersuite %q: %w", c, ErrInvalidCryptoType)
	}
}

// SupportsTweak reports whether this ciphersuite accepts a non-empty tweak
// on a signing request. Only the taproot backend does; Ed25519 and vanilla
// Secp256k1 reject a tweaked signing request with InvalidRequest.
func (c Ciphersuite) SupportsTweak() bool {
	return c == Secp256k1Tr
}
