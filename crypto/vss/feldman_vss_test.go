// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package vss_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/stretchr/testify/assert"

	"github.com/frostcluster/tss/common"
	. "github.com/frostcluster/tss/crypto/vss"
)

var ec = btcec.S256()

func participantIDs(num int) []uint8 {
	ids := make([]uint8, num)
	for i := range ids {
		ids[i] = uint8(i + 1)
	}
	return ids
}

func subset(shares Shares, ids []uint8) Shares {
	out := make(Shares, len(ids))
	for _, id := range ids {
		out[id] = shares[id]
	}
	return out
}

func TestCheckIdentifiersDup(t *testing.T) {
	ids := participantIDs(10)
	_, e := CheckIdentifiers(ids)
	assert.NoError(t, e)

	_, e = CheckIdentifiers(append(ids, 3))
	assert.Error(t, e)
}

func TestCheckIdentifiersZero(t *testing.T) {
	ids := participantIDs(10)
	_, e := CheckIdentifiers(ids)
	assert.NoError(t, e)

	_, e = CheckIdentifiers(append(ids, 0))
	assert.Error(t, e)
}

func TestCreate(t *testing.T) {
	num, threshold := 5, 3

	secret := common.GetRandomPositiveInt(ec.Params().N)
	ids := participantIDs(num)

	vs, _, err := Create(ec, threshold, secret, ids)
	assert.Nil(t, err)

	assert.Equal(t, threshold+1, len(vs))

	// ensure that each vs has two points on the curve
	for i, pg := range vs {
		assert.NotZero(t, pg.X())
		assert.NotZero(t, pg.Y())
		assert.True(t, pg.IsOnCurve())
		assert.NotZero(t, vs[i].X())
		assert.NotZero(t, vs[i].Y())
	}
}

func TestVerify(t *testing.T) {
	num, threshold := 5, 3

	secret := common.GetRandomPositiveInt(ec.Params().N)
	ids := participantIDs(num)

	vs, shares, err := Create(ec, threshold, secret, ids)
	assert.NoError(t, err)

	for _, id := range ids {
		assert.True(t, shares[id].Verify(ec, threshold, vs))
	}
}

func TestReconstruct(t *testing.T) {
	num, threshold := 5, 3

	secret := common.GetRandomPositiveInt(ec.Params().N)
	ids := participantIDs(num)

	_, shares, err := Create(ec, threshold, secret, ids)
	assert.NoError(t, err)

	secret2, err2 := subset(shares, ids[:threshold-1]).ReConstruct(ec)
	assert.Error(t, err2) // not enough shares to satisfy the threshold
	assert.Nil(t, secret2)

	secret3, err3 := subset(shares, ids[:threshold]).ReConstruct(ec)
	assert.NoError(t, err3)
	assert.NotZero(t, secret3)

	secret4, err4 := subset(shares, ids).ReConstruct(ec)
	assert.NoError(t, err4)
	assert.NotZero(t, secret4)
}
