// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package schnorr_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/stretchr/testify/assert"

	"github.com/frostcluster/tss/common"
	"github.com/frostcluster/tss/crypto"
	. "github.com/frostcluster/tss/crypto/schnorr"
)

var ec = btcec.S256()

func TestSchnorrProof(t *testing.T) {
	q := ec.Params().N
	u := common.GetRandomPositiveInt(q)
	uG := crypto.ScalarBaseMult(ec, u)
	proof, _ := NewZKProof(ec, u, uG)

	assert.True(t, proof.Alpha.IsOnCurve())
	assert.NotZero(t, proof.Alpha.X())
	assert.NotZero(t, proof.Alpha.Y())
	assert.NotZero(t, proof.T)
}

func TestSchnorrProofVerify(t *testing.T) {
	q := ec.Params().N
	u := common.GetRandomPositiveInt(q)
	X := crypto.ScalarBaseMult(ec, u)

	proof, _ := NewZKProof(ec, u, X)
	res := proof.Verify(ec, X)

	assert.True(t, res, "verify result must be true")
}

func TestSchnorrProofVerifyBadX(t *testing.T) {
	q := ec.Params().N
	u2 := common.GetRandomPositiveInt(q)
	u := common.GetRandomPositiveInt(q)
	X := crypto.ScalarBaseMult(ec, u)
	X2 := crypto.ScalarBaseMult(ec, u2)

	proof, _ := NewZKProof(ec, u2, X2)
	res := proof.Verify(ec, X)

	assert.False(t, res, "verify result must be false")
}

func TestSchnorrVProofVerify(t *testing.T) {
	q := ec.Params().N
	k := common.GetRandomPositiveInt(q)
	s := common.GetRandomPositiveInt(q)
	l := common.GetRandomPositiveInt(q)
	R := crypto.ScalarBaseMult(ec, k) // k_-1 * G
	Rs := R.ScalarMult(s)
	lG := crypto.ScalarBaseMult(ec, l)
	V, _ := Rs.Add(lG)

	proof, _ := NewZKVProof(ec, V, R, s, l)
	res := proof.Verify(ec, V, R)

	assert.True(t, res, "verify result must be true")
}

func TestSchnorrVProofVerifyBadPartialV(t *testing.T) {
	q := ec.Params().N
	k := common.GetRandomPositiveInt(q)
	s := common.GetRandomPositiveInt(q)
	l := common.GetRandomPositiveInt(q)
	R := crypto.ScalarBaseMult(ec, k) // k_-1 * G
	Rs := R.ScalarMult(s)
	V := Rs

	proof, _ := NewZKVProof(ec, V, R, s, l)
	res := proof.Verify(ec, V, R)

	assert.False(t, res, "verify result must be false")
}

func TestSchnorrVProofVerifyBadS(t *testing.T) {
	q := ec.Params().N
	k := common.GetRandomPositiveInt(q)
	s := common.GetRandomPositiveInt(q)
	s2 := common.GetRandomPositiveInt(q)
	l := common.GetRandomPositiveInt(q)
	R := crypto.ScalarBaseMult(ec, k) // k_-1 * G
	Rs := R.ScalarMult(s)
	lG := crypto.ScalarBaseMult(ec, l)
	V, _ := Rs.Add(lG)

	proof, _ := NewZKVProof(ec, V, R, s2, l)
	res := proof.Verify(ec, V, R)

	assert.False(t, res, "verify result must be false")
}
